package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/calloway/taskpilot/internal/model"
)

const agentColumns = `name, agent_type, capabilities, max_concurrent,
	status, last_heartbeat, is_active, priority_weight, success_rate`

// successRateDecay is the EMA weight applied to historical success rate
// when a task outcome is recorded.
const successRateDecay = 0.9

// CreateAgent inserts a new agent record.
func (s *Store) CreateAgent(ctx context.Context, a *model.Agent) error {
	if a.Status == "" {
		a.Status = model.AgentAvailable
	}
	if a.MaxConcurrent == 0 {
		a.MaxConcurrent = 1
	}
	if a.PriorityWeight == 0 {
		a.PriorityWeight = 1.0
	}
	if a.SuccessRate == 0 {
		a.SuccessRate = 1.0
	}
	if a.LastHeartbeat.IsZero() {
		a.LastHeartbeat = s.timestamp()
	}
	if err := a.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, string(a.Type), strings.Join(a.Capabilities, ","),
		a.MaxConcurrent, string(a.Status), a.LastHeartbeat.UTC(),
		boolToInt(a.IsActive), a.PriorityWeight, a.SuccessRate)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetAgent returns an agent by name.
func (s *Store) GetAgent(ctx context.Context, name string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = ?`, name)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", name, ErrNotFound)
	}
	return a, err
}

// ListAgents returns agents ordered by name. With onlyActive set, agents
// with is_active=false are excluded.
func (s *Store) ListAgents(ctx context.Context, onlyActive bool) ([]*model.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if onlyActive {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus sets an agent's status.
func (s *Store) UpdateAgentStatus(ctx context.Context, name string, status model.AgentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid agent status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status = ? WHERE name = ?`,
		string(status), name)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", name, ErrNotFound)
	}
	return nil
}

// Heartbeat records a fresh heartbeat. An offline agent that heartbeats
// again comes back as available.
func (s *Store) Heartbeat(ctx context.Context, name string) error {
	now := s.timestamp()
	res, err := s.db.ExecContext(ctx, `UPDATE agents
		SET last_heartbeat = ?,
		    status = CASE WHEN status = ? THEN ? ELSE status END
		WHERE name = ?`,
		now, string(model.AgentOffline), string(model.AgentAvailable), name)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", name, ErrNotFound)
	}
	return nil
}

// SetAgentActive flips the is_active flag.
func (s *Store) SetAgentActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET is_active = ? WHERE name = ?`,
		boolToInt(active), name)
	if err != nil {
		return fmt.Errorf("set agent active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", name, ErrNotFound)
	}
	return nil
}

// refreshAgentStatus recomputes busy/available from the agent's actual
// active task count. Offline agents are left alone; the sweep owns that
// transition. Must run inside the transaction that changed the tasks.
func refreshAgentStatus(ctx context.Context, tx *sql.Tx, name string) error {
	var active, max int
	var status string
	err := tx.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM tasks WHERE agent_name = ? AND status IN (?, ?)),
		max_concurrent, status
		FROM agents WHERE name = ?`,
		name, string(model.TaskAssigned), string(model.TaskInProgress), name).
		Scan(&active, &max, &status)
	if err == sql.ErrNoRows {
		// Weak reference: the agent may have been deleted.
		return nil
	}
	if err != nil {
		return fmt.Errorf("refresh agent: %w", err)
	}

	if model.AgentStatus(status) == model.AgentOffline {
		return nil
	}

	want := model.AgentAvailable
	if active >= max {
		want = model.AgentBusy
	}
	if model.AgentStatus(status) == want {
		return nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE agents SET status = ? WHERE name = ?`,
		string(want), name)
	if err != nil {
		return fmt.Errorf("refresh agent: %w", err)
	}
	return nil
}

// recordOutcome folds a task outcome into the agent's success rate EMA.
func recordOutcome(ctx context.Context, tx *sql.Tx, name string, success bool) error {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	_, err := tx.ExecContext(ctx, `UPDATE agents
		SET success_rate = success_rate * ? + ? * ?
		WHERE name = ?`,
		successRateDecay, 1-successRateDecay, outcome, name)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func scanAgent(row rowScanner) (*model.Agent, error) {
	var a model.Agent
	var typ, status, caps string
	var active int

	err := row.Scan(&a.Name, &typ, &caps, &a.MaxConcurrent, &status,
		&a.LastHeartbeat, &active, &a.PriorityWeight, &a.SuccessRate)
	if err != nil {
		return nil, err
	}

	a.Type = model.AgentType(typ)
	a.Status = model.AgentStatus(status)
	a.IsActive = active != 0
	if caps != "" {
		a.Capabilities = strings.Split(caps, ",")
	}
	return &a, nil
}
