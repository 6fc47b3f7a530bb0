package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/calloway/taskpilot/internal/config"
	"github.com/calloway/taskpilot/internal/db"
	"github.com/calloway/taskpilot/internal/deploymon"
	"github.com/calloway/taskpilot/internal/discovery"
	"github.com/calloway/taskpilot/internal/engine"
	"github.com/calloway/taskpilot/internal/health"
	"github.com/calloway/taskpilot/internal/issues"
	"github.com/calloway/taskpilot/internal/logging"
	"github.com/calloway/taskpilot/internal/store"
)

const pidFileName = "taskpilot.pid"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage background daemon",
	Long:  `Start, stop, or check status of the taskpilot background daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start background daemon",
	Long: `Start the taskpilot daemon as a background process.

The daemon runs the orchestration loop continuously and, when a
discovery cron is configured, runs task discovery on that schedule.
The growth catalogue is hot-reloaded when its file changes.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop background daemon",
	Long:  `Stop the running taskpilot daemon by sending SIGTERM.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE:  runDaemonStatus,
}

var daemonForegroundFlag bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// pidFilePath returns the path to the PID file.
func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "taskpilot", pidFileName)
}

func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func removePidFile() error {
	return os.Remove(pidFilePath())
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; send signal 0 to check if alive
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cmd, cfg)
	}

	// Daemonize: start a new process with --foreground flag
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	child := exec.Command(executable, "daemon", "start", "--foreground")
	child.Stdout = nil
	child.Stderr = nil
	child.Stdin = nil
	child.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("daemon started (pid %d)\n", child.Process.Pid)
	return nil
}

func runDaemonLoop(cmd *cobra.Command, cfg *config.Config) error {
	if err := initLogging(cfg, cmd); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("daemon")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = removePidFile() }()

	log.Info("daemon starting")

	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = database.Close() }()
	st := store.New(database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	catalogFn, closeCatalog, err := startCatalogSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCatalog()

	svc := discovery.NewService(st, catalogFn, discovery.Config{
		Window:            cfg.Discovery.Window,
		StalePendingAfter: cfg.Discovery.StalePendingAfter,
		DefaultMaxTasks:   cfg.Discovery.DefaultMaxTasks,
	}, nil)

	var schedule *cron.Cron
	if cfg.Discovery.Cron != "" {
		schedule = cron.New()
		_, err := schedule.AddFunc(cfg.Discovery.Cron, func() {
			if _, err := svc.Run(ctx, 0, false, false); err != nil {
				log.Errorf("scheduled discovery: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("discovery cron %q: %w", cfg.Discovery.Cron, err)
		}
		schedule.Start()
		defer schedule.Stop()
		log.Infof("discovery scheduled: %s", cfg.Discovery.Cron)
	}

	eng := engine.New(st, engineConfig(cfg),
		engine.WithMonitor(deploymon.New(st, deploymon.NewFileSource(cfg.Events.Path), nil, false)),
		engine.WithReporter(health.NewReporter(st, healthThresholds(cfg), nil, false)),
		engine.WithSink(issues.NewOutbox(cfg.Issues.Path)),
	)

	log.InfoCtx("daemon running", map[string]any{
		"interval": cfg.Orchestrator.Interval.String(),
	})

	if _, err := eng.Run(ctx, 0); err != nil {
		log.Errorf("orchestration loop: %v", err)
	}

	log.Info("daemon stopped")
	return nil
}

// startCatalogSource returns a catalogue provider. With a configured
// catalogue file a hot-reloading watcher is started; otherwise the
// built-in catalogue is served.
func startCatalogSource(ctx context.Context, cfg *config.Config, log *logging.Logger) (func() *discovery.Catalog, func(), error) {
	if cfg.Discovery.CatalogPath == "" {
		def := discovery.DefaultCatalog()
		return func() *discovery.Catalog { return def }, func() {}, nil
	}

	watcher, err := discovery.NewCatalogWatcher(cfg.Discovery.CatalogPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog watcher: %w", err)
	}
	go watcher.Run(ctx)
	return watcher.Catalog, func() { _ = watcher.Close() }, nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		fmt.Println("daemon is not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("daemon stopped (pid %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if running {
		fmt.Printf("daemon is running (pid %d)\n", pid)
	} else {
		fmt.Println("daemon is not running")
	}
	return nil
}
