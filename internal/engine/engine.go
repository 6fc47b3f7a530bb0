// Package engine runs the orchestration loop: assigning queued work to
// agents, recycling failures, sweeping agent liveness, and firing the
// time-gated deployment and health sub-checks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calloway/taskpilot/internal/deploymon"
	"github.com/calloway/taskpilot/internal/health"
	"github.com/calloway/taskpilot/internal/issues"
	"github.com/calloway/taskpilot/internal/logging"
	"github.com/calloway/taskpilot/internal/model"
	"github.com/calloway/taskpilot/internal/selector"
	"github.com/calloway/taskpilot/internal/store"
)

// Config holds the tunables for the orchestration loop.
type Config struct {
	// Interval is the pause between orchestration cycles.
	Interval time.Duration

	// DeploymentCheckInterval gates how often the failure feed is polled.
	DeploymentCheckInterval time.Duration

	// HealthCheckInterval gates how often health metrics are refreshed.
	HealthCheckInterval time.Duration

	// RecentFailedWindow bounds which failed tasks each cycle reconsiders.
	RecentFailedWindow time.Duration

	// MaxAttempts is the retry budget before a failure escalates.
	MaxAttempts int

	// RetryWindow bounds how old a task may be and still be retried.
	RetryWindow time.Duration

	// HeartbeatTimeout marks agents offline when exceeded.
	HeartbeatTimeout time.Duration
}

// DefaultConfig returns the standard loop tunables.
func DefaultConfig() Config {
	return Config{
		Interval:                30 * time.Second,
		DeploymentCheckInterval: 60 * time.Second,
		HealthCheckInterval:     5 * time.Minute,
		RecentFailedWindow:      30 * time.Minute,
		MaxAttempts:             3,
		RetryWindow:             24 * time.Hour,
		HeartbeatTimeout:        10 * time.Minute,
	}
}

// Engine drives the orchestration loop.
type Engine struct {
	store    *store.Store
	cfg      Config
	monitor  *deploymon.Monitor
	reporter *health.Reporter
	sink     issues.Sink
	log      *logging.Logger
	now      func() time.Time
	dryRun   bool

	lastDeploymentCheck time.Time
	lastHealthCheck     time.Time

	stats Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithMonitor attaches the deployment failure monitor.
func WithMonitor(m *deploymon.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithReporter attaches the health reporter.
func WithReporter(r *health.Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithSink sets the escalation sink.
func WithSink(s issues.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the engine time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDryRun makes every cycle report what it would do without writing.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) { e.dryRun = dryRun }
}

// New creates an engine.
func New(st *store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		cfg:   cfg,
		sink:  issues.Null{},
		log:   logging.Component("engine"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes cycles until the context is cancelled or maxCycles is
// reached (0 means unbounded). The pause between cycles is the
// configured interval minus the time the cycle itself took.
func (e *Engine) Run(ctx context.Context, maxCycles int) (Stats, error) {
	for cycle := 1; maxCycles == 0 || cycle <= maxCycles; cycle++ {
		started := e.now()
		if err := e.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			e.log.ErrorCtx("cycle failed", map[string]any{
				"cycle": cycle, "error": err.Error(),
			})
		}

		if maxCycles != 0 && cycle == maxCycles {
			break
		}

		pause := e.cfg.Interval - e.now().Sub(started)
		if pause < 0 {
			pause = 0
		}
		select {
		case <-ctx.Done():
			return e.stats, nil
		case <-time.After(pause):
		}
	}
	return e.stats, nil
}

// Stats returns the accumulated counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// RunCycle executes one orchestration pass. Sub-steps are isolated: a
// failure in one does not stop the others, and the first error is
// returned after the cycle finishes.
func (e *Engine) RunCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.stats.Cycles++

	var firstErr error
	record := func(step string, err error) {
		if err == nil {
			return
		}
		e.log.ErrorCtx("cycle step failed", map[string]any{
			"step": step, "error": err.Error(),
		})
		e.stats.Errors++
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
		}
	}

	if e.monitor != nil && e.due(&e.lastDeploymentCheck, e.cfg.DeploymentCheckInterval) {
		created, err := e.monitor.Check(ctx)
		record("deployment check", err)
		e.stats.DeploymentTasks += len(created)
	}

	record("assign", e.assignPending(ctx))
	record("failures", e.processFailures(ctx))
	record("sweep", e.sweepAgents(ctx))

	if e.reporter != nil && e.due(&e.lastHealthCheck, e.cfg.HealthCheckInterval) {
		record("health", e.reporter.Report(ctx))
	}

	return firstErr
}

// due reports whether the gated sub-check should run this cycle and, if
// so, advances its timestamp.
func (e *Engine) due(last *time.Time, interval time.Duration) bool {
	now := e.now()
	if !last.IsZero() && now.Sub(*last) < interval {
		return false
	}
	*last = now
	return true
}

// assignPending matches auto-assignable pending tasks to agents. Slot
// accounting is kept locally during the pass so one cycle never
// over-commits an agent beyond its capacity.
func (e *Engine) assignPending(ctx context.Context) error {
	autoAssign := true
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{
		Statuses:   []model.TaskStatus{model.TaskPending},
		AutoAssign: &autoAssign,
	})
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	agents, err := e.store.ListAgents(ctx, true)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	counts, err := e.store.ActiveTaskCounts(ctx)
	if err != nil {
		return fmt.Errorf("task counts: %w", err)
	}

	selector.SortByDispatchOrder(tasks)

	for _, task := range tasks {
		agent := selector.PickAgent(task, agents, counts)
		if agent == nil {
			continue
		}

		if e.dryRun {
			e.log.InfoCtx("dry-run: would assign", map[string]any{
				"task": task.ID, "agent": agent.Name,
			})
		} else if err := e.store.AssignTask(ctx, task.ID, agent.Name); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Task moved under us, usually a manual assignment.
				continue
			}
			e.log.ErrorCtx("assign failed", map[string]any{
				"task": task.ID, "agent": agent.Name, "error": err.Error(),
			})
			continue
		}

		counts[agent.Name]++
		if counts[agent.Name] >= agent.MaxConcurrent {
			agent.Status = model.AgentBusy
		}
		e.stats.Assigned++
		e.log.InfoCtx("assigned task", map[string]any{
			"task": task.ID, "agent": agent.Name, "priority": string(task.Priority),
		})
	}
	return nil
}

// processFailures walks recently failed tasks and either retries or
// escalates each one. Tasks outside both budgets are left failed for an
// operator to look at.
func (e *Engine) processFailures(ctx context.Context) error {
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{
		Statuses:     []model.TaskStatus{model.TaskFailed},
		UpdatedAfter: e.now().Add(-e.cfg.RecentFailedWindow),
	})
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	for _, task := range tasks {
		switch {
		case e.shouldEscalate(task):
			e.escalate(ctx, task)
		case e.canRetry(task):
			e.retry(ctx, task)
		}
	}
	return nil
}

func (e *Engine) shouldEscalate(task *model.Task) bool {
	return task.Attempts >= e.cfg.MaxAttempts || task.ErrorDetails.NonRetryable()
}

func (e *Engine) canRetry(task *model.Task) bool {
	return task.Attempts < e.cfg.MaxAttempts &&
		e.now().Sub(task.CreatedAt) < e.cfg.RetryWindow
}

func (e *Engine) retry(ctx context.Context, task *model.Task) {
	if e.dryRun {
		e.log.InfoCtx("dry-run: would retry", map[string]any{"task": task.ID})
		return
	}
	if err := e.store.RetryTask(ctx, task.ID); err != nil {
		e.log.ErrorCtx("retry failed", map[string]any{
			"task": task.ID, "error": err.Error(),
		})
		return
	}
	e.stats.Retried++
	e.log.InfoCtx("requeued failed task", map[string]any{
		"task": task.ID, "attempts": task.Attempts,
	})
}

// escalate hands the task to the issue sink and then marks it
// escalated. The order matters: if the sink write fails the task stays
// failed and is retried next cycle rather than silently lost.
func (e *Engine) escalate(ctx context.Context, task *model.Task) {
	if e.dryRun {
		e.log.InfoCtx("dry-run: would escalate", map[string]any{"task": task.ID})
		return
	}

	if err := e.sink.CreateIssue(ctx, escalationRequest(task, e.now())); err != nil {
		e.log.ErrorCtx("issue creation failed", map[string]any{
			"task": task.ID, "error": err.Error(),
		})
		return
	}
	if err := e.store.EscalateTask(ctx, task.ID); err != nil {
		e.log.ErrorCtx("escalate failed", map[string]any{
			"task": task.ID, "error": err.Error(),
		})
		return
	}
	e.stats.Escalated++
	e.log.WarnCtx("escalated task", map[string]any{
		"task": task.ID, "attempts": task.Attempts,
	})
}

func escalationRequest(task *model.Task, now time.Time) issues.Request {
	body := fmt.Sprintf("Task %s failed %d time(s) and was escalated.\n\n%s",
		task.ID, task.Attempts, task.Description)
	if task.ErrorDetails != nil {
		body += fmt.Sprintf("\n\nLast error: %s", task.ErrorDetails.Message)
		if task.ErrorDetails.Step != "" {
			body += fmt.Sprintf(" (step: %s)", task.ErrorDetails.Step)
		}
	}
	return issues.Request{
		TaskID:    task.ID,
		Title:     fmt.Sprintf("[escalated] %s", task.Title),
		Body:      body,
		Labels:    []string{"escalated", string(task.Type)},
		Priority:  task.Priority,
		CreatedAt: now,
	}
}

// sweepAgents reconciles agent status with reality: busy agents with no
// active tasks come back available, agents past the heartbeat timeout
// go offline, and active tasks pointing at missing or inactive agents
// are requeued.
func (e *Engine) sweepAgents(ctx context.Context) error {
	agents, err := e.store.ListAgents(ctx, false)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	counts, err := e.store.ActiveTaskCounts(ctx)
	if err != nil {
		return fmt.Errorf("task counts: %w", err)
	}

	known := make(map[string]*model.Agent, len(agents))
	now := e.now()

	for _, agent := range agents {
		known[agent.Name] = agent

		if agent.Status != model.AgentOffline && agent.HeartbeatStale(now, e.cfg.HeartbeatTimeout) {
			e.setAgentStatus(ctx, agent, model.AgentOffline)
			continue
		}
		if agent.Status == model.AgentBusy && counts[agent.Name] == 0 {
			e.setAgentStatus(ctx, agent, model.AgentAvailable)
		}
	}

	active, err := e.store.ListTasks(ctx, store.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskAssigned, model.TaskInProgress},
	})
	if err != nil {
		return fmt.Errorf("list active: %w", err)
	}

	for _, task := range active {
		if !e.orphaned(task, known) {
			continue
		}
		if e.dryRun {
			e.log.InfoCtx("dry-run: would requeue orphan", map[string]any{"task": task.ID})
			continue
		}
		if err := e.store.RequeueTask(ctx, task.ID); err != nil {
			e.log.ErrorCtx("requeue failed", map[string]any{
				"task": task.ID, "error": err.Error(),
			})
			continue
		}
		e.stats.Requeued++
		e.log.WarnCtx("requeued orphaned task", map[string]any{"task": task.ID})
	}
	return nil
}

func (e *Engine) orphaned(task *model.Task, known map[string]*model.Agent) bool {
	if !task.Assigned() {
		return true
	}
	agent, ok := known[*task.AgentName]
	return !ok || !agent.IsActive
}

func (e *Engine) setAgentStatus(ctx context.Context, agent *model.Agent, status model.AgentStatus) {
	if e.dryRun {
		e.log.InfoCtx("dry-run: would set agent status", map[string]any{
			"agent": agent.Name, "status": string(status),
		})
		return
	}
	if err := e.store.UpdateAgentStatus(ctx, agent.Name, status); err != nil {
		e.log.ErrorCtx("agent status update failed", map[string]any{
			"agent": agent.Name, "error": err.Error(),
		})
		return
	}
	agent.Status = status
	e.stats.AgentSweeps++
	e.log.InfoCtx("swept agent", map[string]any{
		"agent": agent.Name, "status": string(status),
	})
}
