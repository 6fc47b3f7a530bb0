package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/calloway/taskpilot/internal/model"
	"github.com/calloway/taskpilot/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, agent, and health status",
	Long: `Display the current state of the task queue, the agent pool, and
the latest health metrics.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntP("tasks", "n", 10, "Number of recent tasks to show")
	rootCmd.AddCommand(statusCmd)
}

var statusStyles = struct {
	Section  lipgloss.Style
	Healthy  lipgloss.Style
	Warning  lipgloss.Style
	Critical lipgloss.Style
	Muted    lipgloss.Style
}{
	Section:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
	Healthy:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
	Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	Critical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	Muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	database, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	ctx := cmd.Context()
	now := time.Now()

	fmt.Println(statusStyles.Section.Render("Task queue"))
	for _, status := range []model.TaskStatus{
		model.TaskPending, model.TaskAssigned, model.TaskInProgress,
		model.TaskCompleted, model.TaskFailed, model.TaskEscalated,
	} {
		n, err := st.CountTasks(ctx, store.TaskFilter{Statuses: []model.TaskStatus{status}})
		if err != nil {
			return err
		}
		if n == 0 && status.Terminal() {
			continue
		}
		fmt.Printf("  %-12s %d\n", status, n)
	}

	limit, _ := cmd.Flags().GetInt("tasks")
	recent, err := st.ListTasks(ctx, store.TaskFilter{Limit: limit})
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Println()
		fmt.Println(statusStyles.Section.Render("Recent tasks"))
		for _, t := range recent {
			agent := "-"
			if t.Assigned() {
				agent = *t.AgentName
			}
			fmt.Printf("  %-10s %-11s %-8s %-14s %s\n",
				shortID(t.ID), t.Status, t.Priority, agent, t.Title)
		}
	}

	agents, err := st.ListAgents(ctx, false)
	if err != nil {
		return err
	}
	counts, err := st.ActiveTaskCounts(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(statusStyles.Section.Render("Agents"))
	if len(agents) == 0 {
		fmt.Println(statusStyles.Muted.Render("  No agents registered."))
	}
	for _, a := range agents {
		active := ""
		if !a.IsActive {
			active = statusStyles.Muted.Render(" (inactive)")
		}
		fmt.Printf("  %-20s %-10s %d/%d tasks  rate=%.2f  heartbeat=%s%s\n",
			a.Name, a.Status, counts[a.Name], a.MaxConcurrent,
			a.SuccessRate, formatAge(a.LastHeartbeat, now), active)
	}

	rows, err := st.ListHealth(ctx)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		fmt.Println()
		fmt.Println(statusStyles.Section.Render("Health"))
		for _, h := range rows {
			fmt.Printf("  %s/%s: %s %s\n",
				h.Component, h.MetricName, renderHealthStatus(h.Status),
				statusStyles.Muted.Render("("+formatAge(h.UpdatedAt, now)+" ago)"))
		}
	}

	return nil
}

func renderHealthStatus(s model.HealthStatus) string {
	switch s {
	case model.HealthHealthy:
		return statusStyles.Healthy.Render("healthy")
	case model.HealthWarning:
		return statusStyles.Warning.Render("warning")
	case model.HealthCritical:
		return statusStyles.Critical.Render("critical")
	default:
		return string(s)
	}
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
