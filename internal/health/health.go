// Package health snapshots system health metrics into the entity store
// every health cycle: task queue pressure and agent availability.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/calloway/taskpilot/internal/logging"
	"github.com/calloway/taskpilot/internal/model"
	"github.com/calloway/taskpilot/internal/store"
)

// Thresholds hold the fixed cutoffs mapping raw numbers to statuses.
type Thresholds struct {
	PendingWarning  int
	PendingCritical int

	FailedWarning  int
	FailedCritical int

	// AvailabilityWarning is the available/total ratio below which the
	// agent pool is flagged. Zero active agents is always critical.
	AvailabilityWarning float64
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PendingWarning:      50,
		PendingCritical:     100,
		FailedWarning:       5,
		FailedCritical:      20,
		AvailabilityWarning: 0.30,
	}
}

// Reporter computes and upserts the headline metrics.
type Reporter struct {
	store      *store.Store
	thresholds Thresholds
	log        *logging.Logger
	now        func() time.Time
	dryRun     bool
}

// NewReporter creates a health reporter.
func NewReporter(st *store.Store, thresholds Thresholds, log *logging.Logger, dryRun bool) *Reporter {
	if log == nil {
		log = logging.Component("health")
	}
	return &Reporter{
		store:      st,
		thresholds: thresholds,
		log:        log,
		now:        time.Now,
		dryRun:     dryRun,
	}
}

// WithClock overrides the reporter time source. Used by tests.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Report upserts both headline metrics. Each metric is computed and
// written independently; one failing does not block the other.
func (r *Reporter) Report(ctx context.Context) error {
	var firstErr error

	if err := r.reportQueuePressure(ctx); err != nil {
		r.log.Errorf("queue pressure: %v", err)
		firstErr = err
	}
	if err := r.reportAgentAvailability(ctx); err != nil {
		r.log.Errorf("agent availability: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Reporter) reportQueuePressure(ctx context.Context) error {
	pending, err := r.store.CountTasks(ctx, store.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskPending},
	})
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}

	failedRecently, err := r.store.CountTasks(ctx, store.TaskFilter{
		Statuses:     []model.TaskStatus{model.TaskFailed},
		UpdatedAfter: r.now().Add(-time.Hour),
	})
	if err != nil {
		return fmt.Errorf("count recent failures: %w", err)
	}

	status := model.HealthHealthy
	switch {
	case pending > r.thresholds.PendingCritical || failedRecently > r.thresholds.FailedCritical:
		status = model.HealthCritical
	case pending > r.thresholds.PendingWarning || failedRecently > r.thresholds.FailedWarning:
		status = model.HealthWarning
	}

	return r.upsert(ctx, &model.SystemHealth{
		Component:  "task_queue",
		MetricName: "queue_pressure",
		MetricValue: map[string]any{
			"pending":          pending,
			"failed_last_hour": failedRecently,
		},
		Status: status,
	})
}

func (r *Reporter) reportAgentAvailability(ctx context.Context) error {
	agents, err := r.store.ListAgents(ctx, true)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	total := len(agents)
	available := 0
	for _, a := range agents {
		if a.Status == model.AgentAvailable {
			available++
		}
	}

	ratio := 0.0
	if total > 0 {
		ratio = float64(available) / float64(total)
	}

	status := model.HealthHealthy
	switch {
	case total == 0:
		status = model.HealthCritical
	case ratio < r.thresholds.AvailabilityWarning:
		status = model.HealthWarning
	}

	return r.upsert(ctx, &model.SystemHealth{
		Component:  "agent_pool",
		MetricName: "availability",
		MetricValue: map[string]any{
			"total":     total,
			"available": available,
			"ratio":     ratio,
		},
		Status: status,
	})
}

func (r *Reporter) upsert(ctx context.Context, h *model.SystemHealth) error {
	if r.dryRun {
		r.log.InfoCtx("dry-run: would upsert health metric", map[string]any{
			"component": h.Component,
			"metric":    h.MetricName,
			"status":    string(h.Status),
		})
		return nil
	}
	return r.store.UpsertHealth(ctx, h)
}
