package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/calloway/taskpilot/internal/config"
	"github.com/calloway/taskpilot/internal/db"
	"github.com/calloway/taskpilot/internal/discovery"
	"github.com/calloway/taskpilot/internal/health"
	"github.com/calloway/taskpilot/internal/logging"
	"github.com/calloway/taskpilot/internal/store"
)

// loadConfig loads configuration, honoring the global --config flag.
func loadConfig() (*config.Config, error) {
	if configFileFlag != "" {
		return config.LoadFile(configFileFlag)
	}
	return config.Load()
}

// initLogging initializes the global logger from config. With verbose
// set, the level is forced down to debug.
func initLogging(cfg *config.Config, cmd *cobra.Command) error {
	level := cfg.Logging.Level
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	return logging.Init(logging.Config{
		Level:         level,
		Path:          cfg.Logging.Path,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	})
}

// openStore opens the database and wraps it in a store. The caller owns
// closing the returned DB.
func openStore(cfg *config.Config) (*db.DB, *store.Store, error) {
	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening db: %w", err)
	}
	return database, store.New(database), nil
}

// loadCatalog returns the growth catalogue from the configured path, or
// the built-in catalogue when no path is set.
func loadCatalog(cfg *config.Config) (*discovery.Catalog, error) {
	if cfg.Discovery.CatalogPath == "" {
		return discovery.DefaultCatalog(), nil
	}
	return discovery.LoadCatalog(cfg.Discovery.CatalogPath)
}

func healthThresholds(cfg *config.Config) health.Thresholds {
	return health.Thresholds{
		PendingWarning:      cfg.Health.PendingWarning,
		PendingCritical:     cfg.Health.PendingCritical,
		FailedWarning:       cfg.Health.FailedWarning,
		FailedCritical:      cfg.Health.FailedCritical,
		AvailabilityWarning: cfg.Health.AvailabilityWarning,
	}
}

// formatAge renders a duration since a timestamp as a compact string.
func formatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
