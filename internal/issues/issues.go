// Package issues defines the escalation sink: a place to hand tasks that
// exhausted their retry budget. Delivery to the actual tracker is the
// collaborator's concern; taskpilot only emits the request payload.
package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/calloway/taskpilot/internal/model"
)

// Request is the payload emitted for an escalated task.
type Request struct {
	TaskID    string         `json:"task_id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Labels    []string       `json:"labels,omitempty"`
	Priority  model.Priority `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink receives issue-creation requests.
type Sink interface {
	CreateIssue(ctx context.Context, req Request) error
}

// Outbox appends requests as JSON lines to a file for the tracker
// integration to pick up.
type Outbox struct {
	path string
	mu   sync.Mutex
}

// NewOutbox creates a file-backed sink at the given path.
func NewOutbox(path string) *Outbox {
	return &Outbox{path: path}
}

// CreateIssue appends the request to the outbox file.
func (o *Outbox) CreateIssue(ctx context.Context, req Request) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(o.path), 0755); err != nil {
		return fmt.Errorf("creating outbox dir: %w", err)
	}

	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening outbox: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal issue request: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// Null discards requests. Used in dry-run mode.
type Null struct{}

// CreateIssue does nothing.
func (Null) CreateIssue(ctx context.Context, req Request) error { return nil }

// Recorder captures requests in memory for tests.
type Recorder struct {
	mu       sync.Mutex
	Requests []Request
}

// CreateIssue records the request.
func (r *Recorder) CreateIssue(ctx context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests = append(r.Requests, req)
	return nil
}

// Count returns the number of recorded requests.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Requests)
}
