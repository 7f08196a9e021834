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

// ErrBadTransition marks an illegal shield-scan state change.
var ErrBadTransition = errors.New("invalid scan state transition")

// CreateShieldScan persists a scan in its initial state.
func (s *Store) CreateShieldScan(ctx context.Context, sc *models.ShieldScan) error {
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `INSERT INTO shield_scans
		(id, target, target_type, depth, sensitivity, modules_enabled, status,
		 started_at, completed_at, total_checks, passed_checks, failed_checks, warning_checks,
		 shield_score, grade, error, agent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Target, sc.TargetType, sc.Depth, sc.Sensitivity,
		marshalJSON(sc.ModulesEnabled), sc.Status,
		fmtTimePtr(sc.StartedAt), fmtTimePtr(sc.CompletedAt),
		sc.TotalChecks, sc.PassedChecks, sc.FailedChecks, sc.WarningChecks,
		sc.ShieldScore, sc.Grade, sc.Error, nullable(sc.AgentID), fmtTime(sc.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("shield scan: %w", ErrDuplicate)
		}
		return fmt.Errorf("create shield scan: %w", err)
	}
	return nil
}

// MarkShieldScanRunning atomically moves a scan from queued or failed to
// running and stamps started_at. Any other current state is rejected with
// ErrBadTransition; scans only ever move forward.
func (s *Store) MarkShieldScanRunning(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `UPDATE shield_scans SET status = ?, started_at = ?, error = ''
		WHERE id = ? AND status IN (?, ?)`,
		models.ShieldRunning, fmtTime(time.Now()), id, models.ShieldQueued, models.ShieldFailed)
	if err != nil {
		return fmt.Errorf("mark shield scan running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.shieldScanExists(ctx, id); err != nil {
			return err
		}
		return ErrBadTransition
	}
	return nil
}

func (s *Store) shieldScanExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.queryRow(ctx, `SELECT 1 FROM shield_scans WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("shield scan exists: %w", err)
	}
	return true, nil
}

// SaveShieldResults stores a finished scan: counters, score, grade, findings
// and per-module scores, in one transaction.
func (s *Store) SaveShieldResults(ctx context.Context, sc *models.ShieldScan) error {
	completed := fmtTimePtr(sc.CompletedAt)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`UPDATE shield_scans SET
			status = ?, completed_at = ?, total_checks = ?, passed_checks = ?,
			failed_checks = ?, warning_checks = ?, shield_score = ?, grade = ?, error = ?
			WHERE id = ?`),
			sc.Status, completed, sc.TotalChecks, sc.PassedChecks,
			sc.FailedChecks, sc.WarningChecks, sc.ShieldScore, sc.Grade, sc.Error, sc.ID)
		if err != nil {
			return fmt.Errorf("update shield scan: %w", err)
		}

		for i := range sc.Findings {
			f := &sc.Findings[i]
			if f.ID == "" {
				f.ID = uuid.NewString()
			}
			if f.DetectedAt.IsZero() {
				f.DetectedAt = time.Now().UTC()
			}
			_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO shield_findings
				(id, scan_id, module, severity, title, description, remediation,
				 target_ip, target_port, evidence, mitre_technique, mitre_tactic,
				 cve_id, cvss_score, epss_score, is_kev, detected_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				f.ID, sc.ID, f.Module, f.Severity, f.Title, f.Description, f.Remediation,
				f.TargetIP, f.TargetPort, marshalJSON(f.Evidence), f.MitreTechnique, f.MitreTactic,
				f.CVEID, f.CVSSScore, f.EPSSScore, boolToInt(f.IsKEV), fmtTime(f.DetectedAt))
			if err != nil {
				return fmt.Errorf("insert finding: %w", err)
			}
		}

		for _, ms := range sc.ModuleScores {
			_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO module_scores
				(scan_id, module, score, weight, total_checks, passed_checks, failed_checks, warning_checks)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
				sc.ID, ms.Module, ms.Score, ms.Weight,
				ms.TotalChecks, ms.PassedChecks, ms.FailedChecks, ms.WarningChecks)
			if err != nil {
				return fmt.Errorf("insert module score: %w", err)
			}
		}
		return nil
	})
}

// FailShieldScan records an orchestrator-level failure.
func (s *Store) FailShieldScan(ctx context.Context, id, errMsg string) error {
	res, err := s.exec(ctx, `UPDATE shield_scans SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		models.ShieldFailed, errMsg, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("fail shield scan: %w", err)
	}
	return requireRow(res)
}

// RecoverRunningScans marks scans abandoned by a dead process as failed.
// Called once at startup.
func (s *Store) RecoverRunningScans(ctx context.Context) (int, error) {
	res, err := s.exec(ctx, `UPDATE shield_scans SET status = ?, error = ? WHERE status = ?`,
		models.ShieldFailed, "interrupted by server restart", models.ShieldRunning)
	if err != nil {
		return 0, fmt.Errorf("recover running scans: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const shieldScanColumns = `id, target, target_type, depth, sensitivity, modules_enabled, status,
	started_at, completed_at, total_checks, passed_checks, failed_checks, warning_checks,
	shield_score, grade, error, agent_id, created_at`

// ShieldScanByID loads one scan with its findings and module scores.
func (s *Store) ShieldScanByID(ctx context.Context, id string) (*models.ShieldScan, error) {
	row := s.queryRow(ctx, `SELECT `+shieldScanColumns+` FROM shield_scans WHERE id = ?`, id)
	sc, err := scanShieldScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	findings, err := s.FindingsByScan(ctx, id)
	if err != nil {
		return nil, err
	}
	sc.Findings = findings

	scores, err := s.moduleScoresByScan(ctx, id)
	if err != nil {
		return nil, err
	}
	sc.ModuleScores = scores
	return sc, nil
}

// ListShieldScans returns scan summaries (no findings), newest first.
func (s *Store) ListShieldScans(ctx context.Context, limit int) ([]models.ShieldScan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `SELECT `+shieldScanColumns+` FROM shield_scans ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list shield scans: %w", err)
	}
	defer rows.Close()

	var out []models.ShieldScan
	for rows.Next() {
		sc, err := scanShieldScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// FindingsByScan returns all findings of one scan.
func (s *Store) FindingsByScan(ctx context.Context, scanID string) ([]models.ShieldFinding, error) {
	return s.queryFindings(ctx, `WHERE scan_id = ? ORDER BY detected_at`, scanID)
}

// FindingsForIP returns findings targeting ip whose severity is in sevs
// (remediation planner input).
func (s *Store) FindingsForIP(ctx context.Context, ip string, sevs []string) ([]models.ShieldFinding, error) {
	if len(sevs) == 0 {
		return s.queryFindings(ctx, `WHERE target_ip = ? ORDER BY detected_at DESC`, ip)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sevs)), ", ")
	args := []any{ip}
	for _, sev := range sevs {
		args = append(args, sev)
	}
	return s.queryFindings(ctx, `WHERE target_ip = ? AND severity IN (`+placeholders+`) ORDER BY detected_at DESC`, args...)
}

func (s *Store) queryFindings(ctx context.Context, where string, args ...any) ([]models.ShieldFinding, error) {
	rows, err := s.query(ctx, `SELECT id, scan_id, module, severity, title, description, remediation,
		target_ip, target_port, evidence, mitre_technique, mitre_tactic,
		cve_id, cvss_score, epss_score, is_kev, detected_at
		FROM shield_findings `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	var out []models.ShieldFinding
	for rows.Next() {
		var (
			f        models.ShieldFinding
			evidence string
			isKEV    int
			detected string
		)
		if err := rows.Scan(&f.ID, &f.ScanID, &f.Module, &f.Severity, &f.Title, &f.Description,
			&f.Remediation, &f.TargetIP, &f.TargetPort, &evidence, &f.MitreTechnique,
			&f.MitreTactic, &f.CVEID, &f.CVSSScore, &f.EPSSScore, &isKEV, &detected); err != nil {
			return nil, err
		}
		f.Evidence = unmarshalMap(evidence)
		f.IsKEV = isKEV != 0
		f.DetectedAt = parseTime(detected)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) moduleScoresByScan(ctx context.Context, scanID string) (map[string]models.ModuleScore, error) {
	rows, err := s.query(ctx, `SELECT module, score, weight, total_checks, passed_checks, failed_checks, warning_checks
		FROM module_scores WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, fmt.Errorf("module scores: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.ModuleScore)
	for rows.Next() {
		var ms models.ModuleScore
		if err := rows.Scan(&ms.Module, &ms.Score, &ms.Weight, &ms.TotalChecks,
			&ms.PassedChecks, &ms.FailedChecks, &ms.WarningChecks); err != nil {
			return nil, err
		}
		out[ms.Module] = ms
	}
	if len(out) == 0 {
		return nil, rows.Err()
	}
	return out, rows.Err()
}

// SaveCertificate upserts the TLS material observed on (host, port).
func (s *Store) SaveCertificate(ctx context.Context, c *models.Certificate) error {
	if c.SeenAt.IsZero() {
		c.SeenAt = time.Now().UTC()
	}
	res, err := s.exec(ctx, `UPDATE certificates SET subject_cn = ?, issuer = ?, not_before = ?, not_after = ?, fingerprint = ?, seen_at = ?
		WHERE host = ? AND port = ?`,
		c.SubjectCN, c.Issuer, fmtTime(c.NotBefore), fmtTime(c.NotAfter), c.Fingerprint, fmtTime(c.SeenAt),
		c.Host, c.Port)
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err = s.exec(ctx, `INSERT INTO certificates (id, host, port, subject_cn, issuer, not_before, not_after, fingerprint, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Host, c.Port, c.SubjectCN, c.Issuer, fmtTime(c.NotBefore), fmtTime(c.NotAfter), c.Fingerprint, fmtTime(c.SeenAt))
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func scanShieldScan(r rowScanner) (*models.ShieldScan, error) {
	var (
		sc        models.ShieldScan
		modules   string
		started   sql.NullString
		completed sql.NullString
		agentID   sql.NullString
		created   string
	)
	err := r.Scan(&sc.ID, &sc.Target, &sc.TargetType, &sc.Depth, &sc.Sensitivity,
		&modules, &sc.Status, &started, &completed,
		&sc.TotalChecks, &sc.PassedChecks, &sc.FailedChecks, &sc.WarningChecks,
		&sc.ShieldScore, &sc.Grade, &sc.Error, &agentID, &created)
	if err != nil {
		return nil, err
	}
	sc.ModulesEnabled = unmarshalStrings(modules)
	sc.StartedAt = parseTimePtr(started)
	sc.CompletedAt = parseTimePtr(completed)
	sc.AgentID = agentID.String
	sc.CreatedAt = parseTime(created)
	return &sc, nil
}
