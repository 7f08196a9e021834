package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// IngestResult summarizes one committed discovery ingest.
type IngestResult struct {
	ScanID         string `json:"scan_id"`
	AssetsIngested int    `json:"assets_ingested"`
	NewAssets      int    `json:"new_assets"`
	ChangedAssets  int    `json:"changed_assets"`
}

// IngestDiscovery writes one Scan, upserts every observed asset, and journals
// a ScanAsset per observation plus an AssetChange per mutation, all in one
// transaction. A partially-applied scan is never visible. The returned
// changes feed the event bus after commit.
func (s *Store) IngestDiscovery(ctx context.Context, agent *models.Agent, p *models.DiscoveryPayload) (*IngestResult, []models.AssetChange, error) {
	if p.Target == "" {
		return nil, nil, fmt.Errorf("discovery payload: target is required")
	}
	if p.StartedAt.IsZero() {
		return nil, nil, fmt.Errorf("discovery payload: started_at is required")
	}

	now := time.Now().UTC()
	scanID := uuid.NewString()
	result := &IngestResult{ScanID: scanID}
	var changes []models.AssetChange

	agentID, siteName := "", ""
	if agent != nil {
		agentID, siteName = agent.ID, agent.SiteName
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO scans
			(id, target, scan_method, started_at, completed_at, total_assets, agent_id, site_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			scanID, p.Target, p.ScanMethod, fmtTime(p.StartedAt), fmtTimePtr(p.CompletedAt),
			len(p.Assets), nullable(agentID), siteName)
		if err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}

		for i := range p.Assets {
			obs := &p.Assets[i]
			if obs.IP == "" {
				return fmt.Errorf("asset %d: ip is required", i)
			}
			assetChanges, isNew, assetID, err := s.upsertAsset(ctx, tx, scanID, agentID, siteName, p.ScanMethod, obs, now)
			if err != nil {
				return err
			}
			if isNew {
				result.NewAssets++
			} else if len(assetChanges) > 0 {
				result.ChangedAssets++
			}
			changes = append(changes, assetChanges...)

			_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO scan_assets
				(scan_id, asset_id, open_ports, confidence, category, raw_evidence)
				VALUES (?, ?, ?, ?, ?, ?)`),
				scanID, assetID, marshalJSON(obs.OpenPorts), obs.ConfidenceScore,
				obs.BigrCategory, marshalJSON(obs.RawEvidence))
			if err != nil {
				return fmt.Errorf("insert scan_asset: %w", err)
			}

			if obs.SwitchHost != "" {
				if err := upsertSwitchTx(ctx, tx, s, obs.SwitchHost); err != nil {
					return err
				}
			}
			result.AssetsIngested++
		}

		if p.Fingerprint != nil {
			for _, cidr := range p.Fingerprint.CIDRs {
				if err := upsertSubnetTx(ctx, tx, s, cidr, siteName, agentID, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, changes, nil
}

// Tracked fields whose mutation is journaled (string fields skip empty
// incoming values: a sweep that could not resolve a hostname must not erase
// a known one).
func (s *Store) upsertAsset(ctx context.Context, tx *sql.Tx, scanID, agentID, siteName, scanMethod string, obs *models.AssetObservation, now time.Time) ([]models.AssetChange, bool, string, error) {
	mac := strings.ToLower(obs.MAC)

	var (
		assetID    string
		hostname   string
		vendor     string
		osHint     string
		category   string
		confidence float64
		method     string
	)
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT id, hostname, vendor, os_hint, bigr_category, confidence_score, scan_method
		FROM assets WHERE ip = ? AND mac = ?`), obs.IP, mac).
		Scan(&assetID, &hostname, &vendor, &osHint, &category, &confidence, &method)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		assetID = uuid.NewString()
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO assets
			(id, ip, mac, hostname, vendor, os_hint, bigr_category, confidence_score, scan_method,
			 first_seen, last_seen, switch_host, switch_port, switch_port_index, agent_id, site_name, last_scan_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			assetID, obs.IP, mac, obs.Hostname, obs.Vendor, obs.OSHint, obs.BigrCategory,
			obs.ConfidenceScore, scanMethod, fmtTime(now), fmtTime(now),
			obs.SwitchHost, obs.SwitchPort, obs.SwitchPortIndex,
			nullable(agentID), siteName, fmtTime(now))
		if err != nil {
			return nil, false, "", fmt.Errorf("insert asset %s: %w", obs.IP, err)
		}
		change := models.AssetChange{
			AssetID:    assetID,
			ScanID:     scanID,
			ChangeType: models.ChangeNewAsset,
			DetectedAt: now,
		}
		if err := insertChangeTx(ctx, tx, s, &change); err != nil {
			return nil, false, "", err
		}
		return []models.AssetChange{change}, true, assetID, nil

	case err != nil:
		return nil, false, "", fmt.Errorf("lookup asset %s: %w", obs.IP, err)
	}

	type fieldDiff struct {
		name     string
		old, new string
		apply    bool
	}
	diffs := []fieldDiff{
		{"hostname", hostname, obs.Hostname, obs.Hostname != "" && obs.Hostname != hostname},
		{"vendor", vendor, obs.Vendor, obs.Vendor != "" && obs.Vendor != vendor},
		{"os_hint", osHint, obs.OSHint, obs.OSHint != "" && obs.OSHint != osHint},
		{"bigr_category", category, obs.BigrCategory, obs.BigrCategory != "" && obs.BigrCategory != category},
		{"confidence_score", formatFloat(confidence), formatFloat(obs.ConfidenceScore),
			obs.ConfidenceScore > 0 && obs.ConfidenceScore != confidence},
		{"scan_method", method, scanMethod, scanMethod != "" && scanMethod != method},
	}

	var changes []models.AssetChange
	set := []string{"last_seen = ?", "last_scan_at = ?"}
	args := []any{fmtTime(now), fmtTime(now)}

	for _, d := range diffs {
		if !d.apply {
			continue
		}
		change := models.AssetChange{
			AssetID:    assetID,
			ScanID:     scanID,
			ChangeType: models.ChangeFieldChanged,
			FieldName:  d.name,
			OldValue:   d.old,
			NewValue:   d.new,
			DetectedAt: now,
		}
		if err := insertChangeTx(ctx, tx, s, &change); err != nil {
			return nil, false, "", err
		}
		changes = append(changes, change)

		if d.name == "confidence_score" {
			set = append(set, "confidence_score = ?")
			args = append(args, obs.ConfidenceScore)
		} else {
			set = append(set, d.name+" = ?")
			args = append(args, d.new)
		}
	}

	if obs.SwitchHost != "" {
		set = append(set, "switch_host = ?", "switch_port = ?", "switch_port_index = ?")
		args = append(args, obs.SwitchHost, obs.SwitchPort, obs.SwitchPortIndex)
	}
	if agentID != "" {
		set = append(set, "agent_id = ?", "site_name = ?")
		args = append(args, agentID, siteName)
	}
	args = append(args, assetID)

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE assets SET `+strings.Join(set, ", ")+` WHERE id = ?`), args...); err != nil {
		return nil, false, "", fmt.Errorf("update asset %s: %w", obs.IP, err)
	}
	return changes, false, assetID, nil
}

func insertChangeTx(ctx context.Context, tx *sql.Tx, s *Store, c *models.AssetChange) error {
	_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO asset_changes
		(asset_id, scan_id, change_type, field_name, old_value, new_value, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		c.AssetID, nullable(c.ScanID), c.ChangeType, c.FieldName, c.OldValue, c.NewValue, fmtTime(c.DetectedAt))
	if err != nil {
		return fmt.Errorf("insert asset change: %w", err)
	}
	return nil
}

func upsertSubnetTx(ctx context.Context, tx *sql.Tx, s *Store, cidr, siteName, agentID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE subnets SET site_name = ?, agent_id = ?, last_scanned = ? WHERE cidr = ?`),
		siteName, nullable(agentID), fmtTime(now), cidr)
	if err != nil {
		return fmt.Errorf("update subnet: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO subnets (id, cidr, site_name, agent_id, last_scanned) VALUES (?, ?, ?, ?, ?)`),
		uuid.NewString(), cidr, siteName, nullable(agentID), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert subnet: %w", err)
	}
	return nil
}

// UpsertSubnets refreshes subnet ownership outside of an ingest, e.g. when a
// heartbeat reports the CIDRs an agent is watching.
func (s *Store) UpsertSubnets(ctx context.Context, cidrs []string, siteName, agentID string) error {
	if len(cidrs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, cidr := range cidrs {
			if cidr == "" {
				continue
			}
			if err := upsertSubnetTx(ctx, tx, s, cidr, siteName, agentID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertSwitchTx(ctx context.Context, tx *sql.Tx, s *Store, host string) error {
	var id string
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM switches WHERE host = ?`), host).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO switches (id, host) VALUES (?, ?)`), uuid.NewString(), host)
	}
	if err != nil {
		return fmt.Errorf("upsert switch %s: %w", host, err)
	}
	return nil
}

// ---- reads ----------------------------------------------------------------

const assetColumns = `id, ip, mac, hostname, vendor, os_hint, bigr_category, confidence_score,
	scan_method, first_seen, last_seen, manual_category, manual_note, is_ignored,
	switch_host, switch_port, switch_port_index, agent_id, site_name, last_scan_at`

// ListAssets returns every known asset, most recently seen first.
func (s *Store) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.query(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AssetByIP returns the first asset bound to ip (multiple MACs on one IP
// resolve to the most recently seen row).
func (s *Store) AssetByIP(ctx context.Context, ip string) (*models.Asset, error) {
	rows, err := s.query(ctx, `SELECT `+assetColumns+` FROM assets WHERE ip = ? ORDER BY last_seen DESC`, ip)
	if err != nil {
		return nil, fmt.Errorf("asset by ip: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanAsset(rows)
}

// SetAssetOverride records the operator's manual classification for an
// asset: category, note, and the ignored flag that excludes it from
// network-wide remediation planning.
func (s *Store) SetAssetOverride(ctx context.Context, ip, category, note string, ignored bool) error {
	res, err := s.exec(ctx, `UPDATE assets SET manual_category = ?, manual_note = ?, is_ignored = ? WHERE ip = ?`,
		category, note, boolToInt(ignored), ip)
	if err != nil {
		return fmt.Errorf("set asset override: %w", err)
	}
	return requireRow(res)
}

// AssetChanges lists the audit trail for one asset, newest first.
func (s *Store) AssetChanges(ctx context.Context, assetID string, limit int) ([]models.AssetChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, `SELECT id, asset_id, scan_id, change_type, field_name, old_value, new_value, detected_at
		FROM asset_changes WHERE asset_id = ? ORDER BY id DESC LIMIT ?`, assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("asset changes: %w", err)
	}
	defer rows.Close()

	var out []models.AssetChange
	for rows.Next() {
		var (
			c        models.AssetChange
			scanID   sql.NullString
			detected string
		)
		if err := rows.Scan(&c.ID, &c.AssetID, &scanID, &c.ChangeType, &c.FieldName, &c.OldValue, &c.NewValue, &detected); err != nil {
			return nil, err
		}
		c.ScanID = scanID.String
		c.DetectedAt = parseTime(detected)
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestOpenPorts returns the open-port list from the most recent scan of
// the asset (remediation planner input).
func (s *Store) LatestOpenPorts(ctx context.Context, assetID string) ([]int, error) {
	var ports string
	err := s.queryRow(ctx, `SELECT sa.open_ports FROM scan_assets sa
		JOIN scans sc ON sc.id = sa.scan_id
		WHERE sa.asset_id = ?
		ORDER BY sc.started_at DESC LIMIT 1`, assetID).Scan(&ports)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest open ports: %w", err)
	}
	return unmarshalInts(ports), nil
}

// ListScans returns discovery scans, newest first.
func (s *Store) ListScans(ctx context.Context, limit int) ([]models.Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `SELECT id, target, scan_method, started_at, completed_at, total_assets, agent_id, site_name
		FROM scans ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var out []models.Scan
	for rows.Next() {
		var (
			sc        models.Scan
			started   string
			completed sql.NullString
			agentID   sql.NullString
		)
		if err := rows.Scan(&sc.ID, &sc.Target, &sc.ScanMethod, &started, &completed, &sc.TotalAssets, &agentID, &sc.SiteName); err != nil {
			return nil, err
		}
		sc.StartedAt = parseTime(started)
		sc.CompletedAt = parseTimePtr(completed)
		sc.AgentID = agentID.String
		out = append(out, sc)
	}
	return out, rows.Err()
}

func scanAsset(r rowScanner) (*models.Asset, error) {
	var (
		a          models.Asset
		firstSeen  string
		lastSeen   string
		ignored    int
		agentID    sql.NullString
		lastScanAt sql.NullString
	)
	err := r.Scan(&a.ID, &a.IP, &a.MAC, &a.Hostname, &a.Vendor, &a.OSHint, &a.BigrCategory,
		&a.ConfidenceScore, &a.ScanMethod, &firstSeen, &lastSeen, &a.ManualCategory,
		&a.ManualNote, &ignored, &a.SwitchHost, &a.SwitchPort, &a.SwitchPortIndex,
		&agentID, &a.SiteName, &lastScanAt)
	if err != nil {
		return nil, err
	}
	a.FirstSeen = parseTime(firstSeen)
	a.LastSeen = parseTime(lastSeen)
	a.IsIgnored = ignored != 0
	a.AgentID = agentID.String
	a.LastScanAt = parseTimePtr(lastScanAt)
	return &a, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// nullable maps "" to SQL NULL for optional foreign keys.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
