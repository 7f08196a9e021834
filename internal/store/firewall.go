package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// AddRule persists a firewall rule.
func (s *Store) AddRule(ctx context.Context, r *models.FirewallRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `INSERT INTO firewall_rules
		(id, rule_type, target, direction, protocol, source, reason, is_active, created_at, expires_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RuleType, r.Target, r.Direction, r.Protocol, r.Source, r.Reason,
		boolToInt(r.IsActive), fmtTime(r.CreatedAt), fmtTimePtr(r.ExpiresAt), r.HitCount)
	if err != nil {
		return fmt.Errorf("add rule: %w", err)
	}
	return nil
}

// RuleByID fetches one rule.
func (s *Store) RuleByID(ctx context.Context, id string) (*models.FirewallRule, error) {
	row := s.queryRow(ctx, `SELECT id, rule_type, target, direction, protocol, source, reason, is_active, created_at, expires_at, hit_count
		FROM firewall_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListRules returns rules, optionally restricted to active ones.
func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]models.FirewallRule, error) {
	query := `SELECT id, rule_type, target, direction, protocol, source, reason, is_active, created_at, expires_at, hit_count
		FROM firewall_rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []models.FirewallRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SetRuleActive toggles a rule without deleting it.
func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) error {
	res, err := s.exec(ctx, `UPDATE firewall_rules SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	return requireRow(res)
}

// DeleteRule removes a rule permanently.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM firewall_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return requireRow(res)
}

// IncrementRuleHits bumps the match counter for a rule.
func (s *Store) IncrementRuleHits(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE firewall_rules SET hit_count = hit_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment rule hits: %w", err)
	}
	return nil
}

// ActiveRuleExists reports whether an active rule already covers
// (rule_type, target), the idempotence check for the sync operations.
func (s *Store) ActiveRuleExists(ctx context.Context, ruleType, target string) (bool, error) {
	var one int
	err := s.queryRow(ctx, `SELECT 1 FROM firewall_rules WHERE rule_type = ? AND target = ? AND is_active = 1 LIMIT 1`,
		ruleType, target).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("active rule exists: %w", err)
	}
	return true, nil
}

// RecordFirewallEvent appends one evaluation verdict.
func (s *Store) RecordFirewallEvent(ctx context.Context, e *models.FirewallEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.exec(ctx, `INSERT INTO firewall_events
		(id, ts, action, rule_id, src_ip, dst_ip, dst_port, protocol, process, direction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, fmtTime(e.Timestamp), e.Action, e.RuleID, e.SrcIP, e.DstIP, e.DstPort,
		e.Protocol, e.Process, e.Direction)
	if err != nil {
		return fmt.Errorf("record firewall event: %w", err)
	}
	return nil
}

// ListFirewallEvents returns recent events, newest first.
func (s *Store) ListFirewallEvents(ctx context.Context, limit int) ([]models.FirewallEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, `SELECT id, ts, action, rule_id, src_ip, dst_ip, dst_port, protocol, process, direction
		FROM firewall_events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list firewall events: %w", err)
	}
	defer rows.Close()

	var out []models.FirewallEvent
	for rows.Next() {
		var (
			e  models.FirewallEvent
			ts string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.RuleID, &e.SrcIP, &e.DstIP,
			&e.DstPort, &e.Protocol, &e.Process, &e.Direction); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanRule(r rowScanner) (*models.FirewallRule, error) {
	var (
		rule    models.FirewallRule
		active  int
		created string
		expires sql.NullString
	)
	err := r.Scan(&rule.ID, &rule.RuleType, &rule.Target, &rule.Direction, &rule.Protocol,
		&rule.Source, &rule.Reason, &active, &created, &expires, &rule.HitCount)
	if err != nil {
		return nil, err
	}
	rule.IsActive = active != 0
	rule.CreatedAt = parseTime(created)
	rule.ExpiresAt = parseTimePtr(expires)
	return &rule, nil
}
