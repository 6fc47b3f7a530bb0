package model

import (
	"fmt"
	"time"
)

// AgentStatus is an agent's readiness to take work.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

// Valid reports whether the status is a known state.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentAvailable, AgentBusy, AgentOffline:
		return true
	}
	return false
}

// AgentType describes an agent's specialization.
type AgentType string

const (
	AgentGeneral         AgentType = "general"
	AgentDeploymentFixer AgentType = "deployment_fixer"
	AgentDiscovery       AgentType = "discovery_agent"
	AgentOptimizer       AgentType = "optimizer"
)

// Valid reports whether the type is a known specialization.
func (t AgentType) Valid() bool {
	switch t {
	case AgentGeneral, AgentDeploymentFixer, AgentDiscovery, AgentOptimizer:
		return true
	}
	return false
}

// Agent is a worker registration in the pool. Its busy/available status
// is derived from the tasks that reference it; the record itself stores
// only capacity and health bookkeeping.
type Agent struct {
	Name           string      `json:"name"`
	Type           AgentType   `json:"agent_type"`
	Capabilities   []string    `json:"capabilities"`
	MaxConcurrent  int         `json:"max_concurrent"`
	Status         AgentStatus `json:"status"`
	LastHeartbeat  time.Time   `json:"last_heartbeat"`
	IsActive       bool        `json:"is_active"`
	PriorityWeight float64     `json:"priority_weight"`
	SuccessRate    float64     `json:"success_rate"`
}

// HasCapability reports whether the agent can serve tasks requiring the
// named capability. The "general" capability matches every requirement.
func (a *Agent) HasCapability(capability string) bool {
	if capability == "" {
		return true
	}
	for _, c := range a.Capabilities {
		if c == capability || c == "general" {
			return true
		}
	}
	return false
}

// EfficiencyScore combines historical reliability with configured
// weight. Used as the selection tiebreaker after raw priority weight.
func (a *Agent) EfficiencyScore() float64 {
	return a.SuccessRate * a.PriorityWeight
}

// HeartbeatStale reports whether the agent has not heartbeated within
// the threshold.
func (a *Agent) HeartbeatStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(a.LastHeartbeat) > threshold
}

// Validate checks the agent's required fields and closed enums.
func (a *Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent: empty name")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("agent %s: invalid type %q", a.Name, a.Type)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("agent %s: invalid status %q", a.Name, a.Status)
	}
	if a.MaxConcurrent < 1 {
		return fmt.Errorf("agent %s: max_concurrent must be positive", a.Name)
	}
	if a.PriorityWeight < 0 {
		return fmt.Errorf("agent %s: negative priority weight", a.Name)
	}
	if a.SuccessRate < 0 || a.SuccessRate > 1 {
		return fmt.Errorf("agent %s: success rate out of range", a.Name)
	}
	return nil
}
