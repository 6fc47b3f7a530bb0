package engine

import (
	"fmt"
	"strings"
)

// Stats accumulates counters across orchestration cycles.
type Stats struct {
	Cycles          int
	Assigned        int
	Retried         int
	Escalated       int
	Requeued        int
	AgentSweeps     int
	DeploymentTasks int
	Errors          int
}

// String renders the counters as a summary block.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycles run:        %d\n", s.Cycles)
	fmt.Fprintf(&b, "tasks assigned:    %d\n", s.Assigned)
	fmt.Fprintf(&b, "tasks retried:     %d\n", s.Retried)
	fmt.Fprintf(&b, "tasks escalated:   %d\n", s.Escalated)
	fmt.Fprintf(&b, "tasks requeued:    %d\n", s.Requeued)
	fmt.Fprintf(&b, "agent sweeps:      %d\n", s.AgentSweeps)
	fmt.Fprintf(&b, "deployment tasks:  %d\n", s.DeploymentTasks)
	fmt.Fprintf(&b, "errors:            %d", s.Errors)
	return b.String()
}
