package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/calloway/taskpilot/internal/config"
	"github.com/calloway/taskpilot/internal/deploymon"
	"github.com/calloway/taskpilot/internal/engine"
	"github.com/calloway/taskpilot/internal/health"
	"github.com/calloway/taskpilot/internal/issues"
	"github.com/calloway/taskpilot/internal/logging"
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run the orchestration loop",
	Long: `Run the orchestration loop in the foreground.

Each cycle assigns pending tasks to agents, retries or escalates recent
failures, sweeps agent liveness, and fires the time-gated deployment and
health checks. Stop with Ctrl+C; a summary is printed on exit.`,
	RunE: runOrchestrate,
}

func init() {
	orchestrateCmd.Flags().Duration("interval", 0, "Cycle interval (overrides config)")
	orchestrateCmd.Flags().Duration("deployment-check-interval", 0, "Deployment check interval (overrides config)")
	orchestrateCmd.Flags().Duration("health-check-interval", 0, "Health check interval (overrides config)")
	orchestrateCmd.Flags().Int("max-cycles", 0, "Stop after N cycles (0 = run until interrupted)")
	orchestrateCmd.Flags().Bool("dry-run", false, "Report actions without writing")
	rootCmd.AddCommand(orchestrateCmd)
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := initLogging(cfg, cmd); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	maxCycles, _ := cmd.Flags().GetInt("max-cycles")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	engCfg := engineConfig(cfg)
	if d, _ := cmd.Flags().GetDuration("interval"); d > 0 {
		engCfg.Interval = d
	}
	if d, _ := cmd.Flags().GetDuration("deployment-check-interval"); d > 0 {
		engCfg.DeploymentCheckInterval = d
	}
	if d, _ := cmd.Flags().GetDuration("health-check-interval"); d > 0 {
		engCfg.HealthCheckInterval = d
	}

	database, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	var sink issues.Sink = issues.NewOutbox(cfg.Issues.Path)
	if dryRun {
		sink = issues.Null{}
	}

	eng := engine.New(st, engCfg,
		engine.WithMonitor(deploymon.New(st, deploymon.NewFileSource(cfg.Events.Path), nil, dryRun)),
		engine.WithReporter(health.NewReporter(st, healthThresholds(cfg), nil, dryRun)),
		engine.WithSink(sink),
		engine.WithDryRun(dryRun),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Component("orchestrate").Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	log := logging.Component("orchestrate")
	log.InfoCtx("orchestrator starting", map[string]any{
		"interval": engCfg.Interval.String(),
		"dry_run":  dryRun,
	})
	started := time.Now()

	stats, err := eng.Run(ctx, maxCycles)
	if err != nil {
		return err
	}

	fmt.Printf("Orchestrator ran for %s\n\n", time.Since(started).Round(time.Second))
	fmt.Println(stats.String())
	return nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Interval:                cfg.Orchestrator.Interval,
		DeploymentCheckInterval: cfg.Orchestrator.DeploymentCheckInterval,
		HealthCheckInterval:     cfg.Orchestrator.HealthCheckInterval,
		RecentFailedWindow:      cfg.Orchestrator.RecentFailedWindow,
		MaxAttempts:             cfg.Orchestrator.MaxAttempts,
		RetryWindow:             cfg.Orchestrator.RetryWindow,
		HeartbeatTimeout:        cfg.Orchestrator.HeartbeatTimeout,
	}
}
