package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// CreateCommand queues a remote command for an agent.
func (s *Store) CreateCommand(ctx context.Context, c *models.AgentCommand) error {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.exec(ctx, `INSERT INTO agent_commands
		(id, agent_id, command_type, params, status, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AgentID, c.CommandType, marshalJSON(c.Params), c.Status, c.Result,
		fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create command: %w", err)
	}
	return nil
}

// CommandByID fetches one command.
func (s *Store) CommandByID(ctx context.Context, id string) (*models.AgentCommand, error) {
	row := s.queryRow(ctx, `SELECT id, agent_id, command_type, params, status, result, created_at, updated_at
		FROM agent_commands WHERE id = ?`, id)
	c, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// OpenCommandsForAgent returns the agent's commands still in flight
// (pending, ack, running), newest first, the poller's view.
func (s *Store) OpenCommandsForAgent(ctx context.Context, agentID string) ([]models.AgentCommand, error) {
	return s.commandsWhere(ctx, `WHERE agent_id = ? AND status IN (?, ?, ?) ORDER BY created_at DESC`,
		agentID, models.CommandPending, models.CommandAck, models.CommandRunning)
}

// PendingCommandCount is embedded in heartbeat responses.
func (s *Store) PendingCommandCount(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM agent_commands WHERE agent_id = ? AND status = ?`,
		agentID, models.CommandPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending command count: %w", err)
	}
	return n, nil
}

// UpdateCommandStatus progresses the lifecycle and optionally stores a result.
func (s *Store) UpdateCommandStatus(ctx context.Context, id, status, result string) error {
	set := []string{"status = ?", "updated_at = ?"}
	args := []any{status, fmtTime(time.Now())}
	if result != "" {
		set = append(set, "result = ?")
		args = append(args, result)
	}
	args = append(args, id)

	res, err := s.exec(ctx, `UPDATE agent_commands SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update command: %w", err)
	}
	return requireRow(res)
}

func (s *Store) commandsWhere(ctx context.Context, where string, args ...any) ([]models.AgentCommand, error) {
	rows, err := s.query(ctx, `SELECT id, agent_id, command_type, params, status, result, created_at, updated_at
		FROM agent_commands `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []models.AgentCommand
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCommand(r rowScanner) (*models.AgentCommand, error) {
	var (
		c       models.AgentCommand
		params  string
		created string
		updated string
	)
	err := r.Scan(&c.ID, &c.AgentID, &c.CommandType, &params, &c.Status, &c.Result, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Params = unmarshalMap(params)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}
