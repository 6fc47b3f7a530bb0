package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/calloway/taskpilot/internal/model"
)

// UpsertHealth writes a system health metric, replacing any previous row
// for the same (component, metric_name) key.
func (s *Store) UpsertHealth(ctx context.Context, h *model.SystemHealth) error {
	if !h.Status.Valid() {
		return fmt.Errorf("invalid health status %q", h.Status)
	}
	h.UpdatedAt = s.timestamp()

	value, err := json.Marshal(h.MetricValue)
	if err != nil {
		return fmt.Errorf("marshal metric value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO system_health
		(component, metric_name, metric_value, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(component, metric_name) DO UPDATE SET
			metric_value = excluded.metric_value,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		h.Component, h.MetricName, string(value), string(h.Status), h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert health: %w", err)
	}
	return nil
}

// ListHealth returns all health rows ordered by component and metric.
func (s *Store) ListHealth(ctx context.Context) ([]*model.SystemHealth, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, component, metric_name,
		metric_value, status, updated_at
		FROM system_health ORDER BY component, metric_name`)
	if err != nil {
		return nil, fmt.Errorf("query health: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.SystemHealth
	for rows.Next() {
		var h model.SystemHealth
		var value, status string
		if err := rows.Scan(&h.ID, &h.Component, &h.MetricName, &value, &status, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Status = model.HealthStatus(status)
		if err := json.Unmarshal([]byte(value), &h.MetricValue); err != nil {
			h.MetricValue = map[string]any{"raw": value}
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
