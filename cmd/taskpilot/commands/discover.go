package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/calloway/taskpilot/internal/discovery"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run task discovery",
	Long: `Analyze the task queue against the growth catalogue and create
growth tasks for uncovered areas.

Discovery is rate limited: if a discovery-type task was created recently
or a discovery agent is still holding tasks, the run is skipped. Use
--force to bypass the gate and --dry-run to preview without writing.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntP("max-tasks", "n", 0, "Maximum tasks to create (0 = config default)")
	discoverCmd.Flags().Bool("dry-run", false, "Analyze without creating tasks")
	discoverCmd.Flags().Bool("force", false, "Bypass the discovery gate")
	discoverCmd.Flags().String("report-format", "text", "Report format: text or json")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("report-format")
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown report format %q (want text or json)", format)
	}

	report, err := executeDiscovery(cmd)
	if err != nil {
		if format == "json" {
			emitJSONError(err)
			os.Exit(1)
		}
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Println(renderDiscoveryText(report))
	return nil
}

func executeDiscovery(cmd *cobra.Command) (*discovery.Report, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := initLogging(cfg, cmd); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	maxTasks, _ := cmd.Flags().GetInt("max-tasks")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	database, st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = database.Close() }()

	svc := discovery.NewService(st, func() *discovery.Catalog { return catalog }, discovery.Config{
		Window:            cfg.Discovery.Window,
		StalePendingAfter: cfg.Discovery.StalePendingAfter,
		DefaultMaxTasks:   cfg.Discovery.DefaultMaxTasks,
	}, nil)

	return svc.Run(cmd.Context(), maxTasks, force, dryRun)
}

// emitJSONError prints a machine-readable error payload for callers
// consuming the json report format.
func emitJSONError(err error) {
	payload := map[string]any{
		"error":     true,
		"message":   err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	_ = json.NewEncoder(os.Stdout).Encode(payload)
}

type discoveryStyles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Muted   lipgloss.Style
	Warn    lipgloss.Style
	Good    lipgloss.Style
}

func newDiscoveryStyles() discoveryStyles {
	return discoveryStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
		Section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Good:    lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
	}
}

func renderDiscoveryText(report *discovery.Report) string {
	styles := newDiscoveryStyles()
	var b strings.Builder

	b.WriteString(styles.Title.Render("Taskpilot Discovery"))
	b.WriteString("\n")
	b.WriteString(styles.Muted.Render(report.GeneratedAt.Format(time.RFC3339)))
	b.WriteString("\n\n")

	b.WriteString(styles.Section.Render("Queue"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Total:   %d\n", report.Queue.TotalTasks)
	fmt.Fprintf(&b, "  Pending: %d (%d stale)\n", report.Queue.PendingCount, report.Queue.OldTasksCount)
	fmt.Fprintf(&b, "  Active:  %d\n", report.Queue.ActiveCount)
	if len(report.Queue.ByType) > 0 {
		b.WriteString("  By type:\n")
		for typ, count := range report.Queue.ByType {
			fmt.Fprintf(&b, "    - %s: %d\n", typ, count)
		}
	}
	b.WriteString("\n")

	if len(report.UnderrepresentedAreas) > 0 {
		b.WriteString(styles.Section.Render("Uncovered growth areas"))
		b.WriteString("\n")
		for _, area := range report.UnderrepresentedAreas {
			fmt.Fprintf(&b, "  - %s\n", area)
		}
		b.WriteString("\n")
	}

	b.WriteString(styles.Section.Render("Result"))
	b.WriteString("\n")
	switch {
	case report.TasksCreated > 0:
		b.WriteString("  " + styles.Good.Render(fmt.Sprintf("Created %d task(s)", report.TasksCreated)))
		b.WriteString("\n")
		for _, id := range report.CreatedTaskIDs {
			fmt.Fprintf(&b, "    - %s\n", id)
		}
	case report.Reason != "":
		b.WriteString("  " + styles.Warn.Render("Skipped: "+report.Reason))
		b.WriteString("\n")
	default:
		b.WriteString("  " + styles.Muted.Render("Nothing to do"))
		b.WriteString("\n")
	}

	if len(report.GrowthTaskSamples) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Section.Render("Candidates"))
		b.WriteString("\n")
		for _, cand := range report.GrowthTaskSamples {
			fmt.Fprintf(&b, "  [%s] %s (%s, ~%.1fh)\n",
				cand.Priority, cand.Title, cand.Area, cand.EstimatedHours)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
