// Package deploymon turns externally reported deployment failures into
// tasks. The failure feed is a collaborator consumed at its interface;
// this package owns only the event-to-task mapping and deduplication.
package deploymon

import (
	"context"
	"fmt"
	"time"

	"github.com/calloway/taskpilot/internal/logging"
	"github.com/calloway/taskpilot/internal/model"
	"github.com/calloway/taskpilot/internal/store"
)

// FailureEvent is a single deployment failure reported by the
// deployment-status source.
type FailureEvent struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Host         string    `json:"host,omitempty"`
	Step         string    `json:"step,omitempty"`
	Message      string    `json:"message"`
	Severity     string    `json:"severity"`
	ReportedAt   time.Time `json:"reported_at"`
}

// Source produces pending failure events on demand.
type Source interface {
	PendingFailures(ctx context.Context) ([]FailureEvent, error)
}

// Monitor materializes tasks from failure events.
type Monitor struct {
	store  *store.Store
	source Source
	log    *logging.Logger
	dryRun bool
}

// New creates a monitor.
func New(st *store.Store, source Source, log *logging.Logger, dryRun bool) *Monitor {
	if log == nil {
		log = logging.Component("deploymon")
	}
	return &Monitor{store: st, source: source, log: log, dryRun: dryRun}
}

// Check pulls pending failure events and creates one task per event not
// already represented by a non-terminal task for the same deployment.
// Returns the newly created tasks. Safe to re-run: the same unresolved
// event never produces a second task.
func (m *Monitor) Check(ctx context.Context) ([]*model.Task, error) {
	events, err := m.source.PendingFailures(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending failures: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	open, err := m.openDeployments(ctx)
	if err != nil {
		return nil, err
	}

	var created []*model.Task
	for _, event := range events {
		if event.DeploymentID != "" && open[event.DeploymentID] {
			m.log.DebugCtx("deployment already tracked", map[string]any{
				"deployment": event.DeploymentID,
				"event":      event.ID,
			})
			continue
		}

		task := taskFromEvent(event)

		if m.dryRun {
			m.log.InfoCtx("dry-run: would create task", map[string]any{
				"title": task.Title, "priority": string(task.Priority),
			})
			created = append(created, task)
			continue
		}

		// The event-scoped dedup key makes creation idempotent even if
		// two monitors race past the open-deployment check.
		inserted, err := m.store.CreateTaskIdempotent(ctx, task)
		if err != nil {
			m.log.ErrorCtx("create failure task", map[string]any{
				"event": event.ID, "error": err.Error(),
			})
			continue
		}
		if !inserted {
			continue
		}

		if event.DeploymentID != "" {
			open[event.DeploymentID] = true
		}
		created = append(created, task)
		m.log.InfoCtx("created deployment failure task", map[string]any{
			"task":       task.ID,
			"deployment": event.DeploymentID,
			"priority":   string(task.Priority),
		})
	}

	return created, nil
}

// openDeployments returns the deployment ids referenced by non-terminal
// deployment failure tasks.
func (m *Monitor) openDeployments(ctx context.Context) (map[string]bool, error) {
	tasks, err := m.store.ListTasks(ctx, store.TaskFilter{
		Types: []model.TaskType{model.TypeDeploymentFailure},
		Statuses: []model.TaskStatus{
			model.TaskPending, model.TaskAssigned,
			model.TaskInProgress, model.TaskFailed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list open failure tasks: %w", err)
	}

	open := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ErrorDetails != nil && t.ErrorDetails.DeploymentID != "" {
			open[t.ErrorDetails.DeploymentID] = true
		}
	}
	return open, nil
}

func taskFromEvent(event FailureEvent) *model.Task {
	dedup := "deploy:" + event.ID

	title := fmt.Sprintf("Fix deployment failure: %s", event.DeploymentID)
	if event.Host != "" {
		title = fmt.Sprintf("Fix deployment failure on %s", event.Host)
	}

	return &model.Task{
		Title:       title,
		Description: event.Message,
		Type:        model.TypeDeploymentFailure,
		Priority:    priorityForSeverity(event.Severity),
		Status:      model.TaskPending,
		AutoAssign:  true,
		DedupKey:    &dedup,
		ErrorDetails: &model.ErrorDetails{
			Message:      event.Message,
			Step:         event.Step,
			Severity:     event.Severity,
			Host:         event.Host,
			DeploymentID: event.DeploymentID,
			OccurredAt:   event.ReportedAt,
		},
	}
}

// priorityForSeverity maps event severity to task priority. Unknown
// severities land at the bottom rather than failing ingestion.
func priorityForSeverity(severity string) model.Priority {
	switch severity {
	case "critical", "fatal":
		return model.PriorityCritical
	case "error":
		return model.PriorityHigh
	case "warning":
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}
