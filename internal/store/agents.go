package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

const agentColumns = `id, name, site_name, location, status, version, subnets,
	token_digest, is_active, registered_at, last_seen`

// CreateAgent persists a freshly registered agent.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.exec(ctx, `INSERT INTO agents
		(id, name, site_name, location, status, version, subnets, token_digest, is_active, registered_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.SiteName, a.Location, a.Status, a.Version,
		marshalJSON(a.Subnets), a.TokenDigest, boolToInt(a.IsActive),
		fmtTime(a.RegisteredAt), fmtTimePtr(a.LastSeen))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("agent: %w", ErrDuplicate)
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// AgentByID fetches one agent.
func (s *Store) AgentByID(ctx context.Context, id string) (*models.Agent, error) {
	row := s.queryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// AgentByTokenDigest resolves a bearer digest to its agent. Auth calls this
// on every authenticated request.
func (s *Store) AgentByTokenDigest(ctx context.Context, digest string) (*models.Agent, error) {
	row := s.queryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE token_digest = ?`, digest)
	return scanAgent(row)
}

// ListAgents returns all agents, newest registration first.
func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY registered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListActiveAgents returns active agents only (dead-man audit input).
func (s *Store) ListActiveAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.query(ctx, `SELECT `+agentColumns+` FROM agents WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// TouchAgent records a heartbeat: last_seen=now plus whatever the agent
// reported. Empty version/subnets leave the stored values alone.
func (s *Store) TouchAgent(ctx context.Context, id, status, version string, subnets []string) error {
	set := []string{"last_seen = ?", "status = ?"}
	args := []any{fmtTime(time.Now()), status}
	if version != "" {
		set = append(set, "version = ?")
		args = append(args, version)
	}
	if len(subnets) > 0 {
		set = append(set, "subnets = ?")
		args = append(args, marshalJSON(subnets))
	}
	args = append(args, id)

	res, err := s.exec(ctx, `UPDATE agents SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	return requireRow(res)
}

// RotateAgentToken atomically replaces the stored digest.
func (s *Store) RotateAgentToken(ctx context.Context, id, newDigest string) error {
	res, err := s.exec(ctx, `UPDATE agents SET token_digest = ? WHERE id = ?`, newDigest, id)
	if err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}
	return requireRow(res)
}

// SetAgentStatus overrides the status field (dead-man switch marks stale).
func (s *Store) SetAgentStatus(ctx context.Context, id, status string) error {
	res, err := s.exec(ctx, `UPDATE agents SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	return requireRow(res)
}

// DeactivateAgent revokes an agent without deleting its history.
func (s *Store) DeactivateAgent(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `UPDATE agents SET is_active = 0, status = ? WHERE id = ?`,
		models.AgentStatusOffline, id)
	if err != nil {
		return fmt.Errorf("deactivate agent: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row *sql.Row) (*models.Agent, error) {
	a, err := scanAgentRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanAgentRows(r rowScanner) (*models.Agent, error) {
	var (
		a          models.Agent
		subnets    string
		active     int
		registered string
		lastSeen   sql.NullString
	)
	err := r.Scan(&a.ID, &a.Name, &a.SiteName, &a.Location, &a.Status, &a.Version,
		&subnets, &a.TokenDigest, &active, &registered, &lastSeen)
	if err != nil {
		return nil, err
	}
	a.Subnets = unmarshalStrings(subnets)
	a.IsActive = active != 0
	a.RegisteredAt = parseTime(registered)
	a.LastSeen = parseTimePtr(lastSeen)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed")
}
