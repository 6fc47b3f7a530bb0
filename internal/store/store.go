// Package store is the entity store: atomic create/read/update access to
// task, agent, and system health records. All timestamps are written by
// the store so that updated_at is monotonically non-decreasing, and every
// status transition is applied with a guarded single-row update.
package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/calloway/taskpilot/internal/db"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a guarded update matched no row,
	// meaning the record changed underneath the caller.
	ErrConflict = errors.New("record changed concurrently")

	// ErrInvalidTransition is returned for illegal status transitions.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store provides entity access backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a store on top of an open database.
func New(database *db.DB) *Store {
	return &Store{db: database.SQL(), now: time.Now}
}

// WithClock overrides the store's time source. Used by tests and by the
// engine so that every record written in one cycle shares a timestamp base.
func (s *Store) WithClock(now func() time.Time) *Store {
	return &Store{db: s.db, now: now}
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}
