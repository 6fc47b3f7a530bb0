package discovery

import (
	"sort"
	"time"

	"github.com/calloway/taskpilot/internal/model"
)

// QueueAnalysis summarizes the composition of the task queue.
type QueueAnalysis struct {
	TotalTasks    int `json:"total_tasks"`
	PendingCount  int `json:"pending_count"`
	ActiveCount   int `json:"active_count"`
	OldTasksCount int `json:"old_tasks_count"`

	ByType map[model.TaskType]int `json:"by_type"`

	// UnderrepresentedAreas lists catalogue growth areas with no live
	// task, i.e. areas the queue is not currently working toward.
	UnderrepresentedAreas []string `json:"underrepresented_areas"`
}

// AnalyzeQueue computes queue statistics from a task snapshot. Pure: no
// store access, no clock access beyond the supplied now.
func AnalyzeQueue(tasks []*model.Task, catalog *Catalog, stalePendingAfter time.Duration, now time.Time) QueueAnalysis {
	analysis := QueueAnalysis{
		ByType:                make(map[model.TaskType]int),
		UnderrepresentedAreas: []string{},
	}

	liveAreas := make(map[string]bool)
	for _, t := range tasks {
		analysis.TotalTasks++
		analysis.ByType[t.Type]++

		switch {
		case t.Status == model.TaskPending:
			analysis.PendingCount++
			if now.Sub(t.CreatedAt) > stalePendingAfter {
				analysis.OldTasksCount++
			}
		case t.Status.Active():
			analysis.ActiveCount++
		}

		if t.GrowthArea != "" && !t.Status.Terminal() {
			liveAreas[t.GrowthArea] = true
		}
	}

	for _, area := range catalog.Areas() {
		if !liveAreas[area] {
			analysis.UnderrepresentedAreas = append(analysis.UnderrepresentedAreas, area)
		}
	}

	return analysis
}

// RankCandidates filters out catalogue candidates whose growth area
// already has a non-terminal task, sorts the rest by priority (ties
// broken by title for determinism), and returns at most n.
func RankCandidates(catalog *Catalog, tasks []*model.Task, n int) []GrowthCandidate {
	covered := make(map[string]bool)
	for _, t := range tasks {
		if t.GrowthArea != "" && !t.Status.Terminal() {
			covered[t.GrowthArea] = true
		}
	}

	var ranked []GrowthCandidate
	for _, cand := range catalog.Candidates {
		if covered[cand.Area] {
			continue
		}
		ranked = append(ranked, cand)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Priority.Rank() != ranked[j].Priority.Rank() {
			return ranked[i].Priority.Rank() > ranked[j].Priority.Rank()
		}
		return ranked[i].Title < ranked[j].Title
	})

	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
