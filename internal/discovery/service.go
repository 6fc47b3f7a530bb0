package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/calloway/taskpilot/internal/logging"
	"github.com/calloway/taskpilot/internal/model"
	"github.com/calloway/taskpilot/internal/store"
)

// Config holds discovery tuning knobs.
type Config struct {
	// Window is the minimum spacing between discovery runs that create
	// tasks. Also the bucket size for the idempotence dedup key.
	Window time.Duration

	// StalePendingAfter is the age at which a pending task counts as old
	// in queue analysis.
	StalePendingAfter time.Duration

	// DefaultMaxTasks caps task creation when the caller passes 0.
	DefaultMaxTasks int
}

// DefaultConfig returns the standard discovery configuration.
func DefaultConfig() Config {
	return Config{
		Window:            45 * time.Minute,
		StalePendingAfter: 24 * time.Hour,
		DefaultMaxTasks:   3,
	}
}

// Report is the structured result of a discovery invocation.
type Report struct {
	DiscoveryNeeded       bool              `json:"discovery_needed"`
	Reason                string            `json:"reason,omitempty"`
	TasksCreated          int               `json:"tasks_created"`
	CreatedTaskIDs        []string          `json:"created_task_ids"`
	Queue                 QueueAnalysis     `json:"queue_analysis"`
	UnderrepresentedAreas []string          `json:"underrepresented_areas"`
	GrowthTaskSamples     []GrowthCandidate `json:"growth_task_samples"`
	GeneratedAt           time.Time         `json:"generated_at"`
}

// Service runs queue analysis and materializes growth tasks.
type Service struct {
	store   *store.Store
	catalog func() *Catalog
	cfg     Config
	log     *logging.Logger
	now     func() time.Time
}

// NewService creates a discovery service. The catalogue is supplied via
// a provider func so a file watcher can swap it at runtime.
func NewService(st *store.Store, catalog func() *Catalog, cfg Config, log *logging.Logger) *Service {
	if catalog == nil {
		def := DefaultCatalog()
		catalog = func() *Catalog { return def }
	}
	if log == nil {
		log = logging.Component("discovery")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.StalePendingAfter <= 0 {
		cfg.StalePendingAfter = DefaultConfig().StalePendingAfter
	}
	if cfg.DefaultMaxTasks <= 0 {
		cfg.DefaultMaxTasks = DefaultConfig().DefaultMaxTasks
	}
	return &Service{store: st, catalog: catalog, cfg: cfg, log: log, now: time.Now}
}

// WithClock overrides the service time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run executes one discovery pass: gate check, queue analysis, candidate
// ranking, and task creation. With force set the gate is bypassed; with
// dryRun set nothing is written. Safe to invoke from a scheduler running
// concurrently with the orchestration loop: the gate is best-effort and
// the time-bucketed dedup key catches the race.
func (s *Service) Run(ctx context.Context, maxTasks int, force, dryRun bool) (*Report, error) {
	now := s.now().UTC()
	if maxTasks <= 0 {
		maxTasks = s.cfg.DefaultMaxTasks
	}
	catalog := s.catalog()

	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	report := &Report{
		CreatedTaskIDs: []string{},
		Queue:          AnalyzeQueue(tasks, catalog, s.cfg.StalePendingAfter, now),
		GeneratedAt:    now,
	}
	report.UnderrepresentedAreas = report.Queue.UnderrepresentedAreas

	if !force {
		if reason, gated := s.gate(ctx, tasks, now); gated {
			report.Reason = reason
			s.log.InfoCtx("discovery gated", map[string]any{"reason": reason})
			return report, nil
		}
	}

	candidates := RankCandidates(catalog, tasks, maxTasks)
	report.GrowthTaskSamples = candidates
	if len(candidates) == 0 {
		report.Reason = "no uncovered growth candidates"
		return report, nil
	}

	report.DiscoveryNeeded = true

	if dryRun {
		report.Reason = "dry run: no tasks written"
		return report, nil
	}

	bucket := now.Unix() / int64(s.cfg.Window.Seconds())
	for _, cand := range candidates {
		dedup := fmt.Sprintf("growth:%s:%d", cand.Area, bucket)
		task := &model.Task{
			Title:          cand.Title,
			Description:    cand.Description,
			Type:           cand.Type,
			Priority:       cand.Priority,
			Status:         model.TaskPending,
			AutoAssign:     true,
			GrowthArea:     cand.Area,
			EstimatedHours: cand.EstimatedHours,
			DedupKey:       &dedup,
		}

		inserted, err := s.store.CreateTaskIdempotent(ctx, task)
		if err != nil {
			s.log.ErrorCtx("create growth task", map[string]any{
				"title": cand.Title, "error": err.Error(),
			})
			continue
		}
		if !inserted {
			// A concurrent invocation won the bucket; skip quietly.
			continue
		}

		report.TasksCreated++
		report.CreatedTaskIDs = append(report.CreatedTaskIDs, task.ID)
		s.log.InfoCtx("created growth task", map[string]any{
			"task": task.ID, "area": cand.Area, "priority": string(cand.Priority),
		})
	}

	return report, nil
}

// gate reports whether discovery should be skipped and why. The
// check-then-create is not atomic against a concurrent invocation; the
// dedup key on creation is the safety net.
func (s *Service) gate(ctx context.Context, tasks []*model.Task, now time.Time) (string, bool) {
	cutoff := now.Add(-s.cfg.Window)
	for _, t := range tasks {
		if t.CreatedAt.Before(cutoff) {
			continue
		}
		if t.Type == model.TypeDiscovery || t.GrowthArea != "" {
			return fmt.Sprintf("discovery ran within the last %s", s.cfg.Window), true
		}
	}

	agents, err := s.store.ListAgents(ctx, true)
	if err != nil {
		// Store trouble is not a reason to create tasks blind.
		return fmt.Sprintf("agent check failed: %v", err), true
	}
	counts, err := s.store.ActiveTaskCounts(ctx)
	if err != nil {
		return fmt.Sprintf("task count check failed: %v", err), true
	}
	for _, a := range agents {
		if a.Type == model.AgentDiscovery && counts[a.Name] > 0 {
			return fmt.Sprintf("discovery agent %s is still holding tasks", a.Name), true
		}
	}

	return "", false
}
