package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/calloway/taskpilot/internal/db"
	"github.com/calloway/taskpilot/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return New(database)
}

func makeTask(t *testing.T, st *Store, priority model.Priority) *model.Task {
	t.Helper()
	task := &model.Task{
		Title:      "test task",
		Type:       model.TypeMaintenance,
		Priority:   priority,
		AutoAssign: true,
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func makeAgent(t *testing.T, st *Store, name string, maxConcurrent int) *model.Agent {
	t.Helper()
	agent := &model.Agent{
		Name:          name,
		Type:          model.AgentGeneral,
		Capabilities:  []string{"general"},
		MaxConcurrent: maxConcurrent,
		IsActive:      true,
	}
	if err := st.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return agent
}

func TestCreateTask_Defaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := &model.Task{Title: "defaults", Type: model.TypeMaintenance}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.TaskPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Priority != model.PriorityMedium {
		t.Errorf("priority = %s, want medium", got.Priority)
	}
	if got.ID == "" {
		t.Error("id not generated")
	}
	if got.Assigned() {
		t.Error("new task should not be assigned")
	}
}

func TestCreateTaskIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	dedup := "deploy:event-1"
	first := &model.Task{Title: "first", Type: model.TypeDeploymentFailure, DedupKey: &dedup}
	inserted, err := st.CreateTaskIdempotent(ctx, first)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should report inserted")
	}

	dup := "deploy:event-1"
	second := &model.Task{Title: "second", Type: model.TypeDeploymentFailure, DedupKey: &dup}
	inserted, err = st.CreateTaskIdempotent(ctx, second)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Error("duplicate dedup key should not insert")
	}

	n, err := st.CountTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("task count = %d, want 1", n)
	}
}

func TestCreateTaskIdempotent_RequiresKey(t *testing.T) {
	st := newTestStore(t)
	task := &model.Task{Title: "no key", Type: model.TypeMaintenance}
	if _, err := st.CreateTaskIdempotent(context.Background(), task); err == nil {
		t.Error("expected error without dedup key")
	}
}

func TestAssignTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := makeTask(t, st, model.PriorityHigh)
	makeAgent(t, st, "worker-1", 1)

	if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != model.TaskAssigned {
		t.Errorf("status = %s, want assigned", got.Status)
	}
	if !got.Assigned() || *got.AgentName != "worker-1" {
		t.Errorf("agent = %v, want worker-1", got.AgentName)
	}

	// Capacity 1 agent with one active task flips to busy.
	agent, err := st.GetAgent(ctx, "worker-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.Status != model.AgentBusy {
		t.Errorf("agent status = %s, want busy", agent.Status)
	}

	// A second assignment of the same task must fail the pending guard.
	if err := st.AssignTask(ctx, task.ID, "worker-1"); !errors.Is(err, ErrConflict) {
		t.Errorf("reassign error = %v, want ErrConflict", err)
	}
}

func TestCompleteTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := makeTask(t, st, model.PriorityMedium)
	makeAgent(t, st, "worker-1", 1)

	if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := st.StartTask(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := st.CompleteTask(ctx, task.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	// Slot released: agent goes back to available.
	agent, _ := st.GetAgent(ctx, "worker-1")
	if agent.Status != model.AgentAvailable {
		t.Errorf("agent status = %s, want available", agent.Status)
	}
	if agent.SuccessRate != 1.0 {
		t.Errorf("success rate = %v, want 1.0 after a success", agent.SuccessRate)
	}
}

func TestFailTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := makeTask(t, st, model.PriorityMedium)
	makeAgent(t, st, "worker-1", 1)

	if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	details := &model.ErrorDetails{Message: "boom", Step: "deploy", Severity: "error"}
	if err := st.FailTask(ctx, task.ID, details); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.Assigned() {
		t.Error("failed task should have no agent reference")
	}
	if got.ErrorDetails == nil || got.ErrorDetails.Message != "boom" {
		t.Errorf("error details = %+v, want message boom", got.ErrorDetails)
	}

	// Failure decays the success rate EMA: 0.9*1.0 + 0.1*0.
	agent, _ := st.GetAgent(ctx, "worker-1")
	if math.Abs(agent.SuccessRate-0.9) > 1e-9 {
		t.Errorf("success rate = %v, want 0.9", agent.SuccessRate)
	}
	if agent.Status != model.AgentAvailable {
		t.Errorf("agent status = %s, want available after failure", agent.Status)
	}
}

func TestRetryAndEscalate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	makeAgent(t, st, "worker-1", 2)

	fail := func(task *model.Task) {
		t.Helper()
		if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
			t.Fatalf("assign: %v", err)
		}
		if err := st.FailTask(ctx, task.ID, &model.ErrorDetails{Message: "nope"}); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	retried := makeTask(t, st, model.PriorityMedium)
	fail(retried)
	if err := st.RetryTask(ctx, retried.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _ := st.GetTask(ctx, retried.ID)
	if got.Status != model.TaskPending {
		t.Errorf("retried status = %s, want pending", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 preserved across retry", got.Attempts)
	}

	escalated := makeTask(t, st, model.PriorityMedium)
	fail(escalated)
	if err := st.EscalateTask(ctx, escalated.ID); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	got, _ = st.GetTask(ctx, escalated.ID)
	if got.Status != model.TaskEscalated {
		t.Errorf("escalated status = %s, want escalated", got.Status)
	}

	// Terminal: nothing moves an escalated task.
	if err := st.RetryTask(ctx, escalated.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("retry of escalated = %v, want ErrInvalidTransition", err)
	}
}

func TestRequeueTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := makeTask(t, st, model.PriorityMedium)
	makeAgent(t, st, "worker-1", 1)
	if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := st.RequeueTask(ctx, task.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != model.TaskPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Assigned() {
		t.Error("requeued task should have no agent reference")
	}
}

func TestTransition_NotFound(t *testing.T) {
	st := newTestStore(t)
	if err := st.RetryTask(context.Background(), "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestActiveTaskCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	makeAgent(t, st, "worker-1", 3)
	for i := 0; i < 2; i++ {
		task := makeTask(t, st, model.PriorityMedium)
		if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	done := makeTask(t, st, model.PriorityMedium)
	if err := st.AssignTask(ctx, done.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := st.StartTask(ctx, done.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := st.CompleteTask(ctx, done.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	counts, err := st.ActiveTaskCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["worker-1"] != 2 {
		t.Errorf("active count = %d, want 2", counts["worker-1"])
	}
}

func TestListTasks_Filter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	makeTask(t, st, model.PriorityLow)
	high := makeTask(t, st, model.PriorityHigh)
	makeAgent(t, st, "worker-1", 1)
	if err := st.AssignTask(ctx, high.ID, "worker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	pending, err := st.ListTasks(ctx, TaskFilter{Statuses: []model.TaskStatus{model.TaskPending}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}

	byAgent, err := st.ListTasks(ctx, TaskFilter{AgentName: "worker-1"})
	if err != nil {
		t.Fatalf("list by agent: %v", err)
	}
	if len(byAgent) != 1 || byAgent[0].ID != high.ID {
		t.Errorf("by agent = %v, want the assigned task", byAgent)
	}
}

func TestHeartbeat_RevivesOffline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	makeAgent(t, st, "worker-1", 1)
	if err := st.UpdateAgentStatus(ctx, "worker-1", model.AgentOffline); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	if err := st.Heartbeat(ctx, "worker-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	agent, _ := st.GetAgent(ctx, "worker-1")
	if agent.Status != model.AgentAvailable {
		t.Errorf("status = %s, want available after heartbeat", agent.Status)
	}
}

func TestUpsertHealth(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	write := func(status model.HealthStatus, pending int) {
		t.Helper()
		err := st.UpsertHealth(ctx, &model.SystemHealth{
			Component:   "task_queue",
			MetricName:  "queue_pressure",
			MetricValue: map[string]any{"pending": pending},
			Status:      status,
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	write(model.HealthHealthy, 3)
	write(model.HealthWarning, 60)

	rows, err := st.ListHealth(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 (upsert replaces)", len(rows))
	}
	if rows[0].Status != model.HealthWarning {
		t.Errorf("status = %s, want warning", rows[0].Status)
	}
}

func TestStoreClock(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	st := newTestStore(t).WithClock(func() time.Time { return fixed })

	task := makeTask(t, st, model.PriorityMedium)
	got, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, fixed)
	}
}
