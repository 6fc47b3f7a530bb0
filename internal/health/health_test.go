package health

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/calloway/taskpilot/internal/db"
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

func addPending(t *testing.T, st *store.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		task := &model.Task{Title: "queued work", Type: model.TypeMaintenance}
		if err := st.CreateTask(ctx, task); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}
}

func addAgent(t *testing.T, st *store.Store, name string, status model.AgentStatus) {
	t.Helper()
	ctx := context.Background()
	agent := &model.Agent{
		Name:          name,
		Type:          model.AgentGeneral,
		Capabilities:  []string{"general"},
		MaxConcurrent: 1,
		IsActive:      true,
	}
	if err := st.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if status != model.AgentAvailable {
		if err := st.UpdateAgentStatus(ctx, name, status); err != nil {
			t.Fatalf("set status: %v", err)
		}
	}
}

func metricStatus(t *testing.T, st *store.Store, component, metric string) model.HealthStatus {
	t.Helper()
	rows, err := st.ListHealth(context.Background())
	if err != nil {
		t.Fatalf("list health: %v", err)
	}
	for _, h := range rows {
		if h.Component == component && h.MetricName == metric {
			return h.Status
		}
	}
	t.Fatalf("metric %s/%s not found", component, metric)
	return ""
}

func TestReport_QueuePressure(t *testing.T) {
	tests := []struct {
		name    string
		pending int
		want    model.HealthStatus
	}{
		{"empty queue", 0, model.HealthHealthy},
		{"at warning boundary", 50, model.HealthHealthy},
		{"above warning", 51, model.HealthWarning},
		{"above critical", 101, model.HealthCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			addPending(t, st, tt.pending)
			addAgent(t, st, "worker-1", model.AgentAvailable)

			reporter := NewReporter(st, DefaultThresholds(), nil, false)
			if err := reporter.Report(context.Background()); err != nil {
				t.Fatalf("report: %v", err)
			}

			got := metricStatus(t, st, "task_queue", "queue_pressure")
			if got != tt.want {
				t.Errorf("queue_pressure = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReport_RecentFailuresEscalateStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	addAgent(t, st, "worker-1", model.AgentAvailable)

	// Six fresh failures trip the warning threshold of five even with
	// an empty pending queue.
	for i := 0; i < 6; i++ {
		task := &model.Task{Title: "doomed", Type: model.TypeMaintenance}
		if err := st.CreateTask(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := st.AssignTask(ctx, task.ID, "worker-1"); err != nil {
			t.Fatalf("assign: %v", err)
		}
		if err := st.FailTask(ctx, task.ID, &model.ErrorDetails{Message: "no"}); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	reporter := NewReporter(st, DefaultThresholds(), nil, false)
	if err := reporter.Report(ctx); err != nil {
		t.Fatalf("report: %v", err)
	}

	if got := metricStatus(t, st, "task_queue", "queue_pressure"); got != model.HealthWarning {
		t.Errorf("queue_pressure = %s, want warning", got)
	}
}

func TestReport_AgentAvailability(t *testing.T) {
	tests := []struct {
		name   string
		agents map[string]model.AgentStatus
		want   model.HealthStatus
	}{
		{"no agents", nil, model.HealthCritical},
		{
			"all available",
			map[string]model.AgentStatus{"a": model.AgentAvailable, "b": model.AgentAvailable},
			model.HealthHealthy,
		},
		{
			"low availability",
			map[string]model.AgentStatus{
				"a": model.AgentAvailable,
				"b": model.AgentBusy,
				"c": model.AgentOffline,
				"d": model.AgentOffline,
			},
			model.HealthWarning,
		},
		{
			"half available",
			map[string]model.AgentStatus{
				"a": model.AgentAvailable,
				"b": model.AgentBusy,
			},
			model.HealthHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			for name, status := range tt.agents {
				addAgent(t, st, name, status)
			}

			reporter := NewReporter(st, DefaultThresholds(), nil, false)
			if err := reporter.Report(context.Background()); err != nil {
				t.Fatalf("report: %v", err)
			}

			if got := metricStatus(t, st, "agent_pool", "availability"); got != tt.want {
				t.Errorf("availability = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReport_DryRunWritesNothing(t *testing.T) {
	st := newTestStore(t)
	addAgent(t, st, "worker-1", model.AgentAvailable)

	reporter := NewReporter(st, DefaultThresholds(), nil, true)
	if err := reporter.Report(context.Background()); err != nil {
		t.Fatalf("report: %v", err)
	}

	rows, err := st.ListHealth(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("dry run wrote %d rows, want 0", len(rows))
	}
}
