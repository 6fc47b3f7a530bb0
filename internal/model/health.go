package model

import "time"

// HealthStatus grades a health metric.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// Valid reports whether the status is a known grade.
func (s HealthStatus) Valid() bool {
	switch s {
	case HealthHealthy, HealthWarning, HealthCritical:
		return true
	}
	return false
}

// SystemHealth is one metric snapshot for a component. The pair
// (Component, MetricName) is unique; writes replace the prior snapshot.
type SystemHealth struct {
	ID          int64          `json:"id"`
	Component   string         `json:"component"`
	MetricName  string         `json:"metric_name"`
	MetricValue map[string]any `json:"metric_value"`
	Status      HealthStatus   `json:"status"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
