// Package model defines the core entities: tasks, agents, and health
// records, along with the task lifecycle state machine.
package model

import (
	"fmt"
	"time"
)

// TaskStatus is a task's position in the lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskEscalated  TaskStatus = "escalated"
)

// Valid reports whether the status is a known lifecycle state.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskAssigned, TaskInProgress, TaskCompleted, TaskFailed, TaskEscalated:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskEscalated
}

// Active reports whether the task currently occupies an agent slot.
func (s TaskStatus) Active() bool {
	return s == TaskAssigned || s == TaskInProgress
}

// CanTransition reports whether a task may move from one status to
// another. Transitions not listed here are rejected; terminal states
// admit nothing.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskAssigned
	case TaskAssigned:
		return to == TaskInProgress || to == TaskFailed || to == TaskPending
	case TaskInProgress:
		return to == TaskCompleted || to == TaskFailed || to == TaskPending
	case TaskFailed:
		return to == TaskPending || to == TaskEscalated
	case TaskCompleted, TaskEscalated:
		return false
	}
	return false
}

// TaskType categorizes a task and decides which agent capability it
// requires.
type TaskType string

const (
	TypeDeploymentFailure  TaskType = "deployment_failure"
	TypeDiscovery          TaskType = "discovery"
	TypeFeatureDevelopment TaskType = "feature_development"
	TypeOptimization       TaskType = "optimization"
	TypeMaintenance        TaskType = "maintenance"
	TypeInfrastructure     TaskType = "infrastructure"
)

// Valid reports whether the type is a known category.
func (t TaskType) Valid() bool {
	switch t {
	case TypeDeploymentFailure, TypeDiscovery, TypeFeatureDevelopment,
		TypeOptimization, TypeMaintenance, TypeInfrastructure:
		return true
	}
	return false
}

// RequiredCapability returns the capability an agent must hold to be
// eligible for tasks of this type.
func (t TaskType) RequiredCapability() string {
	switch t {
	case TypeDeploymentFailure:
		return "deployment"
	case TypeDiscovery:
		return "analysis"
	case TypeFeatureDevelopment:
		return "development"
	case TypeOptimization:
		return "optimization"
	case TypeMaintenance:
		return "maintenance"
	case TypeInfrastructure:
		return "infrastructure"
	}
	return ""
}

// Priority orders tasks for dispatch.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether the priority is a known level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank returns the numeric order of the priority, low=0 through
// critical=3. Unknown priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	}
	return -1
}

// ErrorDetails carries the diagnostic payload attached to a failed
// task.
type ErrorDetails struct {
	Message      string    `json:"message"`
	Step         string    `json:"step,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	Host         string    `json:"host,omitempty"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at,omitempty"`
}

// NonRetryable reports whether the failure should never be retried.
func (d *ErrorDetails) NonRetryable() bool {
	return d != nil && d.Severity == "fatal"
}

// Task is a unit of work moving through the lifecycle.
type Task struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Type           TaskType      `json:"task_type"`
	Priority       Priority      `json:"priority"`
	Status         TaskStatus    `json:"status"`
	AgentName      *string       `json:"agent_name,omitempty"`
	Attempts       int           `json:"attempts"`
	ErrorDetails   *ErrorDetails `json:"error_details,omitempty"`
	AutoAssign     bool          `json:"auto_assign"`
	GrowthArea     string        `json:"growth_area,omitempty"`
	EstimatedHours float64       `json:"estimated_hours,omitempty"`
	DedupKey       *string       `json:"dedup_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Assigned reports whether the task holds an agent reference.
func (t *Task) Assigned() bool {
	return t.AgentName != nil && *t.AgentName != ""
}

// Validate checks the task's closed-enum fields and required strings.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("task: empty title")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("task %s: invalid type %q", t.ID, t.Type)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("task %s: invalid priority %q", t.ID, t.Priority)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
	}
	if t.Attempts < 0 {
		return fmt.Errorf("task %s: negative attempts", t.ID)
	}
	return nil
}
