// Package config handles loading and validating taskpilot configuration.
// Supports YAML config files and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all taskpilot configuration.
type Config struct {
	DB           DBConfig           `mapstructure:"db"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Discovery    DiscoveryConfig    `mapstructure:"discovery"`
	Health       HealthConfig       `mapstructure:"health"`
	Events       EventsConfig       `mapstructure:"events"`
	Issues       IssuesConfig       `mapstructure:"issues"`
}

// DBConfig locates the SQLite database.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// OrchestratorConfig tunes the orchestration loop.
type OrchestratorConfig struct {
	Interval                time.Duration `mapstructure:"interval"`
	DeploymentCheckInterval time.Duration `mapstructure:"deployment_check_interval"`
	HealthCheckInterval     time.Duration `mapstructure:"health_check_interval"`
	RecentFailedWindow      time.Duration `mapstructure:"recent_failed_window"`
	MaxAttempts             int           `mapstructure:"max_attempts"`
	RetryWindow             time.Duration `mapstructure:"retry_window"`
	HeartbeatTimeout        time.Duration `mapstructure:"heartbeat_timeout"`
}

// DiscoveryConfig tunes task discovery.
type DiscoveryConfig struct {
	Window            time.Duration `mapstructure:"window"`
	DefaultMaxTasks   int           `mapstructure:"default_max_tasks"`
	CatalogPath       string        `mapstructure:"catalog_path"`
	StalePendingAfter time.Duration `mapstructure:"stale_pending_after"`
	Cron              string        `mapstructure:"cron"`
}

// HealthConfig holds the health metric thresholds.
type HealthConfig struct {
	PendingWarning      int     `mapstructure:"pending_warning"`
	PendingCritical     int     `mapstructure:"pending_critical"`
	FailedWarning       int     `mapstructure:"failed_warning"`
	FailedCritical      int     `mapstructure:"failed_critical"`
	AvailabilityWarning float64 `mapstructure:"availability_warning"`
}

// EventsConfig locates the deployment failure event feed.
type EventsConfig struct {
	Path string `mapstructure:"path"`
}

// IssuesConfig locates the escalation outbox.
type IssuesConfig struct {
	Path string `mapstructure:"path"`
}

const configName = "taskpilot"

// Load reads configuration from taskpilot.yaml and environment. Search
// order: current directory, $XDG_CONFIG_HOME/taskpilot, ~/.config/taskpilot.
// Environment variables use the TASKPILOT_ prefix with underscores,
// e.g. TASKPILOT_DB_PATH.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		v.AddConfigPath(filepath.Join(xdg, "taskpilot"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "taskpilot"))
	}

	v.SetEnvPrefix("TASKPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "taskpilot")

	v.SetDefault("db.path", filepath.Join(dataDir, "taskpilot.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", filepath.Join(dataDir, "logs"))
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.retention_days", 7)

	v.SetDefault("orchestrator.interval", 30*time.Second)
	v.SetDefault("orchestrator.deployment_check_interval", 60*time.Second)
	v.SetDefault("orchestrator.health_check_interval", 5*time.Minute)
	v.SetDefault("orchestrator.recent_failed_window", 30*time.Minute)
	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.retry_window", 24*time.Hour)
	v.SetDefault("orchestrator.heartbeat_timeout", 10*time.Minute)

	v.SetDefault("discovery.window", 45*time.Minute)
	v.SetDefault("discovery.default_max_tasks", 3)
	v.SetDefault("discovery.catalog_path", "")
	v.SetDefault("discovery.stale_pending_after", 24*time.Hour)
	v.SetDefault("discovery.cron", "")

	v.SetDefault("health.pending_warning", 50)
	v.SetDefault("health.pending_critical", 100)
	v.SetDefault("health.failed_warning", 5)
	v.SetDefault("health.failed_critical", 20)
	v.SetDefault("health.availability_warning", 0.30)

	v.SetDefault("events.path", filepath.Join(dataDir, "deploy-events.json"))
	v.SetDefault("issues.path", filepath.Join(dataDir, "issue-outbox.jsonl"))
}

// Validate fails fast on configuration that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Orchestrator.Interval <= 0 {
		return fmt.Errorf("orchestrator.interval must be positive")
	}
	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be at least 1")
	}
	if c.Orchestrator.RetryWindow <= 0 {
		return fmt.Errorf("orchestrator.retry_window must be positive")
	}
	if c.Orchestrator.HeartbeatTimeout <= 0 {
		return fmt.Errorf("orchestrator.heartbeat_timeout must be positive")
	}
	if c.Discovery.Window <= 0 {
		return fmt.Errorf("discovery.window must be positive")
	}
	if c.Discovery.DefaultMaxTasks < 1 {
		return fmt.Errorf("discovery.default_max_tasks must be at least 1")
	}
	if c.Health.PendingWarning > c.Health.PendingCritical {
		return fmt.Errorf("health.pending_warning exceeds pending_critical")
	}
	if c.Health.FailedWarning > c.Health.FailedCritical {
		return fmt.Errorf("health.failed_warning exceeds failed_critical")
	}
	if c.Health.AvailabilityWarning < 0 || c.Health.AvailabilityWarning > 1 {
		return fmt.Errorf("health.availability_warning must be within [0, 1]")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
