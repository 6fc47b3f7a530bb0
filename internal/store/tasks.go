package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calloway/taskpilot/internal/model"
)

const taskColumns = `id, title, description, task_type, priority, status,
	agent_name, attempts, error_details, auto_assign, growth_area,
	estimated_hours, dedup_key, created_at, updated_at`

// TaskFilter selects tasks by predicate. Zero fields are ignored.
type TaskFilter struct {
	Statuses     []model.TaskStatus
	Types        []model.TaskType
	AgentName    string
	UpdatedAfter time.Time
	CreatedAfter time.Time
	AutoAssign   *bool
	GrowthArea   string
	Limit        int
}

func (f TaskFilter) where() (string, []any) {
	var clauses []string
	var args []any

	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(ph, ",")+")")
	}
	if len(f.Types) > 0 {
		ph := make([]string, len(f.Types))
		for i, tt := range f.Types {
			ph[i] = "?"
			args = append(args, string(tt))
		}
		clauses = append(clauses, "task_type IN ("+strings.Join(ph, ",")+")")
	}
	if f.AgentName != "" {
		clauses = append(clauses, "agent_name = ?")
		args = append(args, f.AgentName)
	}
	if !f.UpdatedAfter.IsZero() {
		clauses = append(clauses, "updated_at >= ?")
		args = append(args, f.UpdatedAfter.UTC())
	}
	if !f.CreatedAfter.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.CreatedAfter.UTC())
	}
	if f.AutoAssign != nil {
		clauses = append(clauses, "auto_assign = ?")
		args = append(args, boolToInt(*f.AutoAssign))
	}
	if f.GrowthArea != "" {
		clauses = append(clauses, "growth_area = ?")
		args = append(args, f.GrowthArea)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CreateTask inserts a new task, filling in id, defaults, and timestamps.
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	prepareTask(t, s.timestamp())
	if err := t.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskArgs(t)...)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// CreateTaskIdempotent inserts a task guarded by its dedup key. It
// reports whether a row was actually inserted; a false return with nil
// error means a task with the same dedup key already exists.
func (s *Store) CreateTaskIdempotent(ctx context.Context, t *model.Task) (bool, error) {
	if t.DedupKey == nil || *t.DedupKey == "" {
		return false, fmt.Errorf("idempotent create requires a dedup key")
	}
	prepareTask(t, s.timestamp())
	if err := t.Validate(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedup_key) DO NOTHING`,
		taskArgs(t)...)
	if err != nil {
		return false, fmt.Errorf("insert task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func prepareTask(t *model.Task, now time.Time) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.TaskPending
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	t.CreatedAt = now
	t.UpdatedAt = now
}

func taskArgs(t *model.Task) []any {
	return []any{
		t.ID, t.Title, t.Description, string(t.Type), string(t.Priority),
		string(t.Status), t.AgentName, t.Attempts, marshalDetails(t.ErrorDetails),
		boolToInt(t.AutoAssign), t.GrowthArea, t.EstimatedHours, t.DedupKey,
		t.CreatedAt, t.UpdatedAt,
	}
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*model.Task, error) {
	where, args := f.where()
	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountTasks returns the number of tasks matching the filter.
func (s *Store) CountTasks(ctx context.Context, f TaskFilter) (int, error) {
	where, args := f.where()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// ActiveTaskCounts returns, per agent name, the number of tasks currently
// assigned or in progress. This is the derivation of current_task_count.
func (s *Store) ActiveTaskCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_name, COUNT(*) FROM tasks
		WHERE status IN (?, ?) AND agent_name IS NOT NULL
		GROUP BY agent_name`,
		string(model.TaskAssigned), string(model.TaskInProgress))
	if err != nil {
		return nil, fmt.Errorf("count active tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// AssignTask atomically moves a pending task to assigned, sets the agent
// reference, and flips the agent to busy when the assignment fills its
// last slot. The pending-status guard makes concurrent assignment safe.
func (s *Store) AssignTask(ctx context.Context, taskID, agentName string) error {
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE tasks
		SET status = ?, agent_name = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.TaskAssigned), agentName, now, taskID, string(model.TaskPending))
	if err != nil {
		return fmt.Errorf("assign task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assign task %s: %w", taskID, ErrConflict)
	}

	if err := refreshAgentStatus(ctx, tx, agentName); err != nil {
		return err
	}

	return tx.Commit()
}

// StartTask moves an assigned task to in_progress.
func (s *Store) StartTask(ctx context.Context, id string) error {
	return s.transition(ctx, id, []model.TaskStatus{model.TaskAssigned}, model.TaskInProgress, nil)
}

// CompleteTask moves an active task to completed, releases the agent
// slot, and nudges the agent's historical success rate upward.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	return s.finishTask(ctx, id, model.TaskCompleted, true, nil)
}

// FailTask records a failure: attempts is incremented, the diagnostic
// payload is stored, the agent reference is cleared, and the agent's
// success rate is nudged downward.
func (s *Store) FailTask(ctx context.Context, id string, details *model.ErrorDetails) error {
	return s.finishTask(ctx, id, model.TaskFailed, false, details)
}

func (s *Store) finishTask(ctx context.Context, id string, to model.TaskStatus, success bool, details *model.ErrorDetails) error {
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := getTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(t.Status, to) {
		return fmt.Errorf("task %s: %s -> %s: %w", id, t.Status, to, ErrInvalidTransition)
	}

	if to == model.TaskFailed {
		res, err := tx.ExecContext(ctx, `UPDATE tasks
			SET status = ?, attempts = attempts + 1, error_details = ?,
			    agent_name = NULL, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(to), marshalDetails(details), now, id, string(t.Status))
		if err != nil {
			return fmt.Errorf("fail task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("fail task %s: %w", id, ErrConflict)
		}
	} else {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(to), now, id, string(t.Status))
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("complete task %s: %w", id, ErrConflict)
		}
	}

	if t.Assigned() {
		if err := recordOutcome(ctx, tx, *t.AgentName, success); err != nil {
			return err
		}
		if err := refreshAgentStatus(ctx, tx, *t.AgentName); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RetryTask requeues a failed task for reassignment on the next cycle.
func (s *Store) RetryTask(ctx context.Context, id string) error {
	return s.transition(ctx, id, []model.TaskStatus{model.TaskFailed}, model.TaskPending, nil)
}

// EscalateTask marks a failed task as escalated. Terminal.
func (s *Store) EscalateTask(ctx context.Context, id string) error {
	return s.transition(ctx, id, []model.TaskStatus{model.TaskFailed}, model.TaskEscalated, nil)
}

// RequeueTask returns an active task to pending and clears its agent
// reference. Used by the health sweep when an assigned agent vanished.
func (s *Store) RequeueTask(ctx context.Context, id string) error {
	clear := true
	return s.transition(ctx, id,
		[]model.TaskStatus{model.TaskAssigned, model.TaskInProgress},
		model.TaskPending, &clear)
}

func (s *Store) transition(ctx context.Context, id string, from []model.TaskStatus, to model.TaskStatus, clearAgent *bool) error {
	now := s.timestamp()

	ph := make([]string, len(from))
	args := []any{string(to), now}
	set := "status = ?, updated_at = ?"
	if clearAgent != nil && *clearAgent {
		set = "status = ?, updated_at = ?, agent_name = NULL"
	}
	args = append(args, id)
	for i, st := range from {
		ph[i] = "?"
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+set+` WHERE id = ? AND status IN (`+strings.Join(ph, ",")+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("transition task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, gerr := s.GetTask(ctx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("task %s -> %s: %w", id, to, ErrInvalidTransition)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var agent sql.NullString
	var details sql.NullString
	var dedup sql.NullString
	var auto int
	var typ, prio, status string

	err := row.Scan(&t.ID, &t.Title, &t.Description, &typ, &prio, &status,
		&agent, &t.Attempts, &details, &auto, &t.GrowthArea,
		&t.EstimatedHours, &dedup, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Type = model.TaskType(typ)
	t.Priority = model.Priority(prio)
	t.Status = model.TaskStatus(status)
	t.AutoAssign = auto != 0
	if agent.Valid {
		t.AgentName = &agent.String
	}
	if dedup.Valid {
		t.DedupKey = &dedup.String
	}
	if details.Valid && details.String != "" {
		var d model.ErrorDetails
		if err := json.Unmarshal([]byte(details.String), &d); err == nil {
			t.ErrorDetails = &d
		}
	}
	return &t, nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id string) (*model.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

func marshalDetails(d *model.ErrorDetails) any {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return string(data)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
