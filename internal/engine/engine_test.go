package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/calloway/taskpilot/internal/db"
	"github.com/calloway/taskpilot/internal/deploymon"
	"github.com/calloway/taskpilot/internal/issues"
	"github.com/calloway/taskpilot/internal/model"
	"github.com/calloway/taskpilot/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return store.New(database)
}

func addAgent(t *testing.T, st *store.Store, agent *model.Agent) {
	t.Helper()
	if agent.Type == "" {
		agent.Type = model.AgentGeneral
	}
	if len(agent.Capabilities) == 0 {
		agent.Capabilities = []string{"general"}
	}
	if agent.MaxConcurrent == 0 {
		agent.MaxConcurrent = 1
	}
	agent.IsActive = true
	if err := st.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}
}

func addTask(t *testing.T, st *store.Store, task *model.Task) *model.Task {
	t.Helper()
	if task.Title == "" {
		task.Title = "work item"
	}
	if task.Type == "" {
		task.Type = model.TypeMaintenance
	}
	task.AutoAssign = true
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestRunCycle_AssignsByPriority(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addAgent(t, st, &model.Agent{Name: "worker-1", MaxConcurrent: 1})
	low := addTask(t, st, &model.Task{Title: "low", Priority: model.PriorityLow})
	critical := addTask(t, st, &model.Task{Title: "critical", Priority: model.PriorityCritical})

	eng := New(st, DefaultConfig())
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	gotCritical, _ := st.GetTask(ctx, critical.ID)
	if gotCritical.Status != model.TaskAssigned {
		t.Errorf("critical task = %s, want assigned", gotCritical.Status)
	}
	gotLow, _ := st.GetTask(ctx, low.ID)
	if gotLow.Status != model.TaskPending {
		t.Errorf("low task = %s, want pending (capacity exhausted)", gotLow.Status)
	}
	if eng.Stats().Assigned != 1 {
		t.Errorf("assigned = %d, want 1", eng.Stats().Assigned)
	}
}

func TestRunCycle_RespectsCapability(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addAgent(t, st, &model.Agent{Name: "fixer", Capabilities: []string{"deployment"}})
	deploy := addTask(t, st, &model.Task{Title: "fix deploy", Type: model.TypeDeploymentFailure})
	dev := addTask(t, st, &model.Task{Title: "build feature", Type: model.TypeFeatureDevelopment})

	eng := New(st, DefaultConfig())
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	gotDeploy, _ := st.GetTask(ctx, deploy.ID)
	if gotDeploy.Status != model.TaskAssigned {
		t.Errorf("deployment task = %s, want assigned", gotDeploy.Status)
	}
	gotDev, _ := st.GetTask(ctx, dev.ID)
	if gotDev.Status != model.TaskPending {
		t.Errorf("development task = %s, want pending (no capable agent)", gotDev.Status)
	}
}

func TestRunCycle_RetriesRecentFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addAgent(t, st, &model.Agent{Name: "worker-1", MaxConcurrent: 2})
	task := addTask(t, st, &model.Task{Title: "flaky"})
	if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := st.FailTask(ctx, task.ID, &model.ErrorDetails{Message: "flake", Severity: "error"}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	sink := &issues.Recorder{}
	eng := New(st, DefaultConfig(), WithSink(sink))
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// The failure is requeued this cycle; the next cycle reassigns it.
	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskPending {
		t.Fatalf("status = %s, want pending after retry", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if eng.Stats().Retried != 1 {
		t.Errorf("retried = %d, want 1", eng.Stats().Retried)
	}
	if sink.Count() != 0 {
		t.Errorf("issues = %d, want 0 for a retryable failure", sink.Count())
	}
}

func TestRunCycle_EscalatesExhaustedRetries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addAgent(t, st, &model.Agent{Name: "worker-1", MaxConcurrent: 2})
	task := addTask(t, st, &model.Task{Title: "hopeless", Priority: model.PriorityHigh})
	if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := st.FailTask(ctx, task.ID, &model.ErrorDetails{Message: "broken", Severity: "error"}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	cfg := DefaultConfig()
	cfg.MaxAttempts = 1

	sink := &issues.Recorder{}
	eng := New(st, cfg, WithSink(sink))
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskEscalated {
		t.Errorf("status = %s, want escalated", got.Status)
	}
	if sink.Count() != 1 {
		t.Fatalf("issues = %d, want exactly 1", sink.Count())
	}
	req := sink.Requests[0]
	if req.TaskID != task.ID {
		t.Errorf("issue task id = %s, want %s", req.TaskID, task.ID)
	}
	if req.Priority != model.PriorityHigh {
		t.Errorf("issue priority = %s, want high", req.Priority)
	}

	// A second cycle must not escalate again.
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if sink.Count() != 1 {
		t.Errorf("issues after second cycle = %d, want 1", sink.Count())
	}
}

func TestRunCycle_EscalatesFatalImmediately(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addAgent(t, st, &model.Agent{Name: "worker-1", MaxConcurrent: 2})
	task := addTask(t, st, &model.Task{Title: "fatal"})
	if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := st.FailTask(ctx, task.ID, &model.ErrorDetails{Message: "corrupt state", Severity: "fatal"}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	sink := &issues.Recorder{}
	eng := New(st, DefaultConfig(), WithSink(sink))
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskEscalated {
		t.Errorf("status = %s, want escalated on first fatal failure", got.Status)
	}
	if sink.Count() != 1 {
		t.Errorf("issues = %d, want 1", sink.Count())
	}
}

func TestRunCycle_SweepsBusyAgentWithNoTasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addAgent(t, st, &model.Agent{Name: "worker-1"})
	if err := st.UpdateAgentStatus(ctx, "worker-1", model.AgentBusy); err != nil {
		t.Fatalf("set busy: %v", err)
	}

	eng := New(st, DefaultConfig())
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	agent, _ := st.GetAgent(ctx, "worker-1")
	if agent.Status != model.AgentAvailable {
		t.Errorf("status = %s, want available after one cycle", agent.Status)
	}
}

func TestRunCycle_MarksStaleAgentOffline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addAgent(t, st, &model.Agent{
		Name:          "worker-1",
		LastHeartbeat: time.Now().Add(-11 * time.Minute),
	})

	eng := New(st, DefaultConfig())
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	agent, _ := st.GetAgent(ctx, "worker-1")
	if agent.Status != model.AgentOffline {
		t.Errorf("status = %s, want offline for 11m old heartbeat", agent.Status)
	}
}

func TestRunCycle_RequeuesOrphanedTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addAgent(t, st, &model.Agent{Name: "worker-1"})
	task := addTask(t, st, &model.Task{Title: "orphan"})
	if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := st.SetAgentActive(ctx, "worker-1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	eng := New(st, DefaultConfig())
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskPending {
		t.Errorf("status = %s, want pending after orphan sweep", got.Status)
	}
	if got.Assigned() {
		t.Error("orphan should have no agent reference")
	}
	if eng.Stats().Requeued != 1 {
		t.Errorf("requeued = %d, want 1", eng.Stats().Requeued)
	}
}

func TestRunCycle_DeploymentCheckGated(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	source := &deploymon.StaticSource{Events: []deploymon.FailureEvent{{
		ID: "evt-1", DeploymentID: "deploy-1", Message: "boom", Severity: "error",
	}}}
	monitor := deploymon.New(st, source, nil, false)

	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	eng := New(st, DefaultConfig(), WithMonitor(monitor), WithClock(clock))
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if eng.Stats().DeploymentTasks != 1 {
		t.Errorf("deployment tasks = %d, want 1", eng.Stats().DeploymentTasks)
	}

	// Same timestamp: the deployment check interval has not elapsed, so
	// the monitor is not consulted again.
	source.Events = append(source.Events, deploymon.FailureEvent{
		ID: "evt-2", DeploymentID: "deploy-2", Message: "boom", Severity: "error",
	})
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if eng.Stats().DeploymentTasks != 1 {
		t.Errorf("deployment tasks = %d, want still 1 inside the interval", eng.Stats().DeploymentTasks)
	}

	now = now.Add(2 * time.Minute)
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if eng.Stats().DeploymentTasks != 2 {
		t.Errorf("deployment tasks = %d, want 2 after the interval", eng.Stats().DeploymentTasks)
	}
}

func TestRunCycle_DryRunWritesNothing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addAgent(t, st, &model.Agent{Name: "worker-1"})
	task := addTask(t, st, &model.Task{Title: "untouched"})

	eng := New(st, DefaultConfig(), WithDryRun(true))
	if err := eng.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskPending {
		t.Errorf("status = %s, want pending in dry run", got.Status)
	}
}

func TestRun_MaxCycles(t *testing.T) {
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond

	eng := New(st, cfg)
	stats, err := eng.Run(context.Background(), 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Cycles != 3 {
		t.Errorf("cycles = %d, want 3", stats.Cycles)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = New(st, cfg).Run(ctx, 0)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
