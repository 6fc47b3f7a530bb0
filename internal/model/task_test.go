package model

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"pending to assigned", TaskPending, TaskAssigned, true},
		{"pending to in_progress", TaskPending, TaskInProgress, false},
		{"pending to completed", TaskPending, TaskCompleted, false},
		{"assigned to in_progress", TaskAssigned, TaskInProgress, true},
		{"assigned to failed", TaskAssigned, TaskFailed, true},
		{"assigned back to pending", TaskAssigned, TaskPending, true},
		{"assigned to completed", TaskAssigned, TaskCompleted, false},
		{"in_progress to completed", TaskInProgress, TaskCompleted, true},
		{"in_progress to failed", TaskInProgress, TaskFailed, true},
		{"in_progress back to pending", TaskInProgress, TaskPending, true},
		{"failed to pending", TaskFailed, TaskPending, true},
		{"failed to escalated", TaskFailed, TaskEscalated, true},
		{"failed to assigned", TaskFailed, TaskAssigned, false},
		{"completed is terminal", TaskCompleted, TaskPending, false},
		{"escalated is terminal", TaskEscalated, TaskPending, false},
		{"unknown status", TaskStatus("bogus"), TaskPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Predicates(t *testing.T) {
	if !TaskCompleted.Terminal() || !TaskEscalated.Terminal() {
		t.Error("completed and escalated should be terminal")
	}
	if TaskFailed.Terminal() {
		t.Error("failed should not be terminal")
	}
	if !TaskAssigned.Active() || !TaskInProgress.Active() {
		t.Error("assigned and in_progress should be active")
	}
	if TaskPending.Active() {
		t.Error("pending should not be active")
	}
	if TaskStatus("bogus").Valid() {
		t.Error("bogus status should not be valid")
	}
}

func TestPriority_Rank(t *testing.T) {
	order := []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if Priority("bogus").Rank() >= PriorityLow.Rank() {
		t.Error("unknown priority should rank below low")
	}
}

func TestTaskType_RequiredCapability(t *testing.T) {
	tests := []struct {
		typ  TaskType
		want string
	}{
		{TypeDeploymentFailure, "deployment"},
		{TypeDiscovery, "analysis"},
		{TypeFeatureDevelopment, "development"},
		{TypeOptimization, "optimization"},
		{TypeMaintenance, "maintenance"},
		{TypeInfrastructure, "infrastructure"},
	}
	for _, tt := range tests {
		if got := tt.typ.RequiredCapability(); got != tt.want {
			t.Errorf("%s.RequiredCapability() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestErrorDetails_NonRetryable(t *testing.T) {
	var nilDetails *ErrorDetails
	if nilDetails.NonRetryable() {
		t.Error("nil details should be retryable")
	}
	if (&ErrorDetails{Severity: "error"}).NonRetryable() {
		t.Error("error severity should be retryable")
	}
	if !(&ErrorDetails{Severity: "fatal"}).NonRetryable() {
		t.Error("fatal severity should not be retryable")
	}
}

func TestTask_Validate(t *testing.T) {
	valid := Task{
		Title:    "fix the build",
		Type:     TypeMaintenance,
		Priority: PriorityMedium,
		Status:   TaskPending,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid task rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Task)
	}{
		{"empty title", func(tk *Task) { tk.Title = "" }},
		{"bad type", func(tk *Task) { tk.Type = "bogus" }},
		{"bad priority", func(tk *Task) { tk.Priority = "urgent" }},
		{"bad status", func(tk *Task) { tk.Status = "done" }},
		{"negative attempts", func(tk *Task) { tk.Attempts = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := valid
			tt.mutate(&task)
			if err := task.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAgent_HasCapability(t *testing.T) {
	a := &Agent{Name: "worker", Capabilities: []string{"deployment", "maintenance"}}
	if !a.HasCapability("deployment") {
		t.Error("should have deployment capability")
	}
	if a.HasCapability("development") {
		t.Error("should not have development capability")
	}

	general := &Agent{Name: "generalist", Capabilities: []string{"general"}}
	if !general.HasCapability("development") {
		t.Error("general capability should match everything")
	}
}

func TestAgent_EfficiencyScore(t *testing.T) {
	a := &Agent{SuccessRate: 0.8, PriorityWeight: 1.5}
	if got := a.EfficiencyScore(); got != 0.8*1.5 {
		t.Errorf("EfficiencyScore() = %v, want %v", got, 0.8*1.5)
	}
}

func TestAgent_HeartbeatStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Agent{LastHeartbeat: now.Add(-11 * time.Minute)}
	if !a.HeartbeatStale(now, 10*time.Minute) {
		t.Error("11 minute old heartbeat should be stale at 10m threshold")
	}
	a.LastHeartbeat = now.Add(-9 * time.Minute)
	if a.HeartbeatStale(now, 10*time.Minute) {
		t.Error("9 minute old heartbeat should not be stale")
	}
}
