package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// InsertSignal stores one noised collective signal. Raw rows never leave
// this table through the API; only the engine reads them back.
func (s *Store) InsertSignal(ctx context.Context, sig *models.CollectiveSignal) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.ReportedAt.IsZero() {
		sig.ReportedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `INSERT INTO collective_signals
		(id, subnet_hash, signal_type, severity, port, agent_hash, reported_at, is_noised)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.SubnetHash, sig.SignalType, sig.Severity, sig.Port,
		sig.AgentHash, fmtTime(sig.ReportedAt), boolToInt(sig.IsNoised))
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// SignalsSince returns unexpired raw signals for aggregation.
func (s *Store) SignalsSince(ctx context.Context, cutoff time.Time) ([]models.CollectiveSignal, error) {
	rows, err := s.query(ctx, `SELECT id, subnet_hash, signal_type, severity, port, agent_hash, reported_at, is_noised
		FROM collective_signals WHERE reported_at >= ? ORDER BY reported_at`, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("signals since: %w", err)
	}
	defer rows.Close()

	var out []models.CollectiveSignal
	for rows.Next() {
		var (
			sig      models.CollectiveSignal
			reported string
			noised   int
		)
		if err := rows.Scan(&sig.ID, &sig.SubnetHash, &sig.SignalType, &sig.Severity,
			&sig.Port, &sig.AgentHash, &reported, &noised); err != nil {
			return nil, err
		}
		sig.ReportedAt = parseTime(reported)
		sig.IsNoised = noised != 0
		out = append(out, sig)
	}
	return out, rows.Err()
}

// DeleteExpiredSignals enforces the signal TTL.
func (s *Store) DeleteExpiredSignals(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM collective_signals WHERE reported_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete expired signals: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DistinctSignalSubnets counts subnets contributing unexpired signals
// (community score input).
func (s *Store) DistinctSignalSubnets(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(DISTINCT subnet_hash) FROM collective_signals WHERE reported_at >= ?`,
		fmtTime(cutoff)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("distinct signal subnets: %w", err)
	}
	return n, nil
}

// CountActiveAgents counts active agents (community score input).
func (s *Store) CountActiveAgents(ctx context.Context) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM agents WHERE is_active = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active agents: %w", err)
	}
	return n, nil
}

// ---- threat indicators ------------------------------------------------------

// UpsertThreatIndicator inserts or refreshes an indicator keyed by IP.
func (s *Store) UpsertThreatIndicator(ctx context.Context, t *models.ThreatIndicator) error {
	now := time.Now().UTC()
	if t.LastSeen.IsZero() {
		t.LastSeen = now
	}
	res, err := s.exec(ctx, `UPDATE threat_indicators SET indicator_type = ?, score = ?, source = ?, last_seen = ?, is_active = ?
		WHERE ip = ?`,
		t.IndicatorType, t.Score, t.Source, fmtTime(t.LastSeen), boolToInt(t.IsActive), t.IP)
	if err != nil {
		return fmt.Errorf("update threat indicator: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.FirstSeen.IsZero() {
		t.FirstSeen = now
	}
	_, err = s.exec(ctx, `INSERT INTO threat_indicators (id, ip, indicator_type, score, source, first_seen, last_seen, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.IP, t.IndicatorType, t.Score, t.Source, fmtTime(t.FirstSeen), fmtTime(t.LastSeen), boolToInt(t.IsActive))
	if err != nil {
		return fmt.Errorf("insert threat indicator: %w", err)
	}
	return nil
}

// ListThreatIndicators returns active indicators with score >= minScore.
func (s *Store) ListThreatIndicators(ctx context.Context, minScore float64) ([]models.ThreatIndicator, error) {
	rows, err := s.query(ctx, `SELECT id, ip, indicator_type, score, source, first_seen, last_seen, is_active
		FROM threat_indicators WHERE is_active = 1 AND score >= ? ORDER BY score DESC`, minScore)
	if err != nil {
		return nil, fmt.Errorf("list threat indicators: %w", err)
	}
	defer rows.Close()

	var out []models.ThreatIndicator
	for rows.Next() {
		var (
			t      models.ThreatIndicator
			first  string
			last   string
			active int
		)
		if err := rows.Scan(&t.ID, &t.IP, &t.IndicatorType, &t.Score, &t.Source, &first, &last, &active); err != nil {
			return nil, err
		}
		t.FirstSeen = parseTime(first)
		t.LastSeen = parseTime(last)
		t.IsActive = active != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- remediation history ----------------------------------------------------

// InsertRemediation records one execute call.
func (s *Store) InsertRemediation(ctx context.Context, r *models.Remediation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `INSERT INTO remediations (id, action_id, asset_ip, action_type, status, created_at, completed_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ActionID, r.AssetIP, r.ActionType, r.Status, fmtTime(r.CreatedAt),
		fmtTimePtr(r.CompletedAt), r.Result)
	if err != nil {
		return fmt.Errorf("insert remediation: %w", err)
	}
	return nil
}

// UpdateRemediationStatus closes out a remediation.
func (s *Store) UpdateRemediationStatus(ctx context.Context, id, status, result string) error {
	res, err := s.exec(ctx, `UPDATE remediations SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		status, result, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update remediation: %w", err)
	}
	return requireRow(res)
}

// ListRemediations returns history for one asset IP (all when ip is empty),
// newest first.
func (s *Store) ListRemediations(ctx context.Context, ip string) ([]models.Remediation, error) {
	query := `SELECT id, action_id, asset_ip, action_type, status, created_at, completed_at, result FROM remediations`
	var args []any
	if ip != "" {
		query += ` WHERE asset_ip = ?`
		args = append(args, ip)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list remediations: %w", err)
	}
	defer rows.Close()

	var out []models.Remediation
	for rows.Next() {
		var (
			r         models.Remediation
			created   string
			completed sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ActionID, &r.AssetIP, &r.ActionType, &r.Status, &created, &completed, &r.Result); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		r.CompletedAt = parseTimePtr(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}
