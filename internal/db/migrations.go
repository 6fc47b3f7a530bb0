package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: tasks, agents, system_health",
		SQL:         migration001SQL,
	},
}

const migration001SQL = `
CREATE TABLE tasks (
    id              TEXT PRIMARY KEY,
    title           TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    task_type       TEXT NOT NULL,
    priority        TEXT NOT NULL,
    status          TEXT NOT NULL,
    agent_name      TEXT,
    attempts        INTEGER NOT NULL DEFAULT 0,
    error_details   TEXT,
    auto_assign     INTEGER NOT NULL DEFAULT 1,
    growth_area     TEXT NOT NULL DEFAULT '',
    estimated_hours REAL NOT NULL DEFAULT 0,
    dedup_key       TEXT UNIQUE,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX idx_tasks_status ON tasks(status, updated_at DESC);
CREATE INDEX idx_tasks_type_created ON tasks(task_type, created_at DESC);
CREATE INDEX idx_tasks_agent ON tasks(agent_name);

CREATE TABLE agents (
    name            TEXT PRIMARY KEY,
    agent_type      TEXT NOT NULL,
    capabilities    TEXT NOT NULL DEFAULT '',
    max_concurrent  INTEGER NOT NULL DEFAULT 1,
    status          TEXT NOT NULL DEFAULT 'available',
    last_heartbeat  DATETIME NOT NULL,
    is_active       INTEGER NOT NULL DEFAULT 1,
    priority_weight REAL NOT NULL DEFAULT 1.0,
    success_rate    REAL NOT NULL DEFAULT 1.0
);

CREATE TABLE system_health (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    component    TEXT NOT NULL,
    metric_name  TEXT NOT NULL,
    metric_value TEXT NOT NULL,
    status       TEXT NOT NULL,
    updated_at   DATETIME NOT NULL,
    UNIQUE(component, metric_name)
);
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		log.Printf("db: applied migration %d: %s", migration.Version, migration.Description)
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
