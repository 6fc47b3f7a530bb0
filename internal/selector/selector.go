// Package selector implements the assignment algorithm: given a pending
// task and a snapshot of the agent pool, pick the best-fit agent.
package selector

import (
	"sort"

	"github.com/calloway/taskpilot/internal/model"
)

// PickAgent returns the best agent for the task, or nil when no agent
// qualifies (the task stays pending and is retried next cycle).
//
// Candidates must be active, available, below capacity, and hold the
// capability the task type requires. Ranking: priority_weight desc,
// efficiency_score desc, current task count asc (load balancing), then
// name asc for determinism.
func PickAgent(task *model.Task, agents []*model.Agent, activeCounts map[string]int) *model.Agent {
	capability := task.Type.RequiredCapability()

	var candidates []*model.Agent
	for _, a := range agents {
		if !a.IsActive || a.Status != model.AgentAvailable {
			continue
		}
		if activeCounts[a.Name] >= a.MaxConcurrent {
			continue
		}
		if !a.HasCapability(capability) {
			continue
		}
		candidates = append(candidates, a)
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.PriorityWeight != b.PriorityWeight {
			return a.PriorityWeight > b.PriorityWeight
		}
		if a.EfficiencyScore() != b.EfficiencyScore() {
			return a.EfficiencyScore() > b.EfficiencyScore()
		}
		if activeCounts[a.Name] != activeCounts[b.Name] {
			return activeCounts[a.Name] < activeCounts[b.Name]
		}
		return a.Name < b.Name
	})

	return candidates[0]
}

// SortByDispatchOrder orders tasks for assignment: priority desc, then
// creation time asc so equal-priority tasks are served first-come.
func SortByDispatchOrder(tasks []*model.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
