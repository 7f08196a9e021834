package store

import (
	"context"
	"fmt"
	"strings"
)

// The DDL is shared between dialects: ids and timestamps are TEXT (RFC 3339
// UTC), booleans are INTEGER 0/1, JSON payloads are TEXT. The only per-
// dialect difference is the auto-numbered asset_changes primary key.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		site_name     TEXT NOT NULL DEFAULT '',
		location      TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		version       TEXT NOT NULL DEFAULT '',
		subnets       TEXT NOT NULL DEFAULT '',
		token_digest  TEXT NOT NULL UNIQUE,
		is_active     INTEGER NOT NULL DEFAULT 1,
		registered_at TEXT NOT NULL,
		last_seen     TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS scans (
		id           TEXT PRIMARY KEY,
		target       TEXT NOT NULL,
		scan_method  TEXT NOT NULL DEFAULT '',
		started_at   TEXT NOT NULL,
		completed_at TEXT,
		total_assets INTEGER NOT NULL DEFAULT 0,
		agent_id     TEXT,
		site_name    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id                TEXT PRIMARY KEY,
		ip                TEXT NOT NULL,
		mac               TEXT NOT NULL DEFAULT '',
		hostname          TEXT NOT NULL DEFAULT '',
		vendor            TEXT NOT NULL DEFAULT '',
		os_hint           TEXT NOT NULL DEFAULT '',
		bigr_category     TEXT NOT NULL DEFAULT '',
		confidence_score  REAL NOT NULL DEFAULT 0,
		scan_method       TEXT NOT NULL DEFAULT '',
		first_seen        TEXT NOT NULL,
		last_seen         TEXT NOT NULL,
		manual_category   TEXT NOT NULL DEFAULT '',
		manual_note       TEXT NOT NULL DEFAULT '',
		is_ignored        INTEGER NOT NULL DEFAULT 0,
		switch_host       TEXT NOT NULL DEFAULT '',
		switch_port       TEXT NOT NULL DEFAULT '',
		switch_port_index INTEGER NOT NULL DEFAULT 0,
		agent_id          TEXT,
		site_name         TEXT NOT NULL DEFAULT '',
		last_scan_at      TEXT,
		UNIQUE (ip, mac)
	)`,
	`CREATE TABLE IF NOT EXISTS scan_assets (
		scan_id      TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		asset_id     TEXT NOT NULL REFERENCES assets(id),
		open_ports   TEXT NOT NULL DEFAULT '',
		confidence   REAL NOT NULL DEFAULT 0,
		category     TEXT NOT NULL DEFAULT '',
		raw_evidence TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (scan_id, asset_id)
	)`,
	`CREATE TABLE IF NOT EXISTS asset_changes (
		id          %AUTOID%,
		asset_id    TEXT NOT NULL REFERENCES assets(id),
		scan_id     TEXT,
		change_type TEXT NOT NULL,
		field_name  TEXT NOT NULL DEFAULT '',
		old_value   TEXT NOT NULL DEFAULT '',
		new_value   TEXT NOT NULL DEFAULT '',
		detected_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subnets (
		id           TEXT PRIMARY KEY,
		cidr         TEXT NOT NULL UNIQUE,
		site_name    TEXT NOT NULL DEFAULT '',
		agent_id     TEXT,
		last_scanned TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS switches (
		id         TEXT PRIMARY KEY,
		host       TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL DEFAULT '',
		port_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS certificates (
		id          TEXT PRIMARY KEY,
		host        TEXT NOT NULL,
		port        INTEGER NOT NULL,
		subject_cn  TEXT NOT NULL DEFAULT '',
		issuer      TEXT NOT NULL DEFAULT '',
		not_before  TEXT,
		not_after   TEXT,
		fingerprint TEXT NOT NULL DEFAULT '',
		seen_at     TEXT NOT NULL,
		UNIQUE (host, port)
	)`,
	`CREATE TABLE IF NOT EXISTS shield_scans (
		id              TEXT PRIMARY KEY,
		target          TEXT NOT NULL,
		target_type     TEXT NOT NULL DEFAULT '',
		depth           TEXT NOT NULL DEFAULT '',
		sensitivity     TEXT NOT NULL DEFAULT '',
		modules_enabled TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		started_at      TEXT,
		completed_at    TEXT,
		total_checks    INTEGER NOT NULL DEFAULT 0,
		passed_checks   INTEGER NOT NULL DEFAULT 0,
		failed_checks   INTEGER NOT NULL DEFAULT 0,
		warning_checks  INTEGER NOT NULL DEFAULT 0,
		shield_score    REAL NOT NULL DEFAULT 0,
		grade           TEXT NOT NULL DEFAULT '',
		error           TEXT NOT NULL DEFAULT '',
		agent_id        TEXT,
		created_at      TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS shield_findings (
		id              TEXT PRIMARY KEY,
		scan_id         TEXT NOT NULL REFERENCES shield_scans(id) ON DELETE CASCADE,
		module          TEXT NOT NULL,
		severity        TEXT NOT NULL,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		remediation     TEXT NOT NULL DEFAULT '',
		target_ip       TEXT NOT NULL DEFAULT '',
		target_port     INTEGER NOT NULL DEFAULT 0,
		evidence        TEXT NOT NULL DEFAULT '',
		mitre_technique TEXT NOT NULL DEFAULT '',
		mitre_tactic    TEXT NOT NULL DEFAULT '',
		cve_id          TEXT NOT NULL DEFAULT '',
		cvss_score      REAL NOT NULL DEFAULT 0,
		epss_score      REAL NOT NULL DEFAULT 0,
		is_kev          INTEGER NOT NULL DEFAULT 0,
		detected_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS module_scores (
		scan_id        TEXT NOT NULL REFERENCES shield_scans(id) ON DELETE CASCADE,
		module         TEXT NOT NULL,
		score          REAL NOT NULL DEFAULT 0,
		weight         INTEGER NOT NULL DEFAULT 0,
		total_checks   INTEGER NOT NULL DEFAULT 0,
		passed_checks  INTEGER NOT NULL DEFAULT 0,
		failed_checks  INTEGER NOT NULL DEFAULT 0,
		warning_checks INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (scan_id, module)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_commands (
		id           TEXT PRIMARY KEY,
		agent_id     TEXT NOT NULL REFERENCES agents(id),
		command_type TEXT NOT NULL,
		params       TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		result       TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS firewall_rules (
		id         TEXT PRIMARY KEY,
		rule_type  TEXT NOT NULL,
		target     TEXT NOT NULL,
		direction  TEXT NOT NULL DEFAULT 'both',
		protocol   TEXT NOT NULL DEFAULT 'any',
		source     TEXT NOT NULL DEFAULT 'user',
		reason     TEXT NOT NULL DEFAULT '',
		is_active  INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		expires_at TEXT,
		hit_count  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS firewall_events (
		id        TEXT PRIMARY KEY,
		ts        TEXT NOT NULL,
		action    TEXT NOT NULL,
		rule_id   TEXT NOT NULL DEFAULT '',
		src_ip    TEXT NOT NULL DEFAULT '',
		dst_ip    TEXT NOT NULL DEFAULT '',
		dst_port  INTEGER NOT NULL DEFAULT 0,
		protocol  TEXT NOT NULL DEFAULT '',
		process   TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS collective_signals (
		id          TEXT PRIMARY KEY,
		subnet_hash TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		severity    REAL NOT NULL,
		port        INTEGER NOT NULL DEFAULT 0,
		agent_hash  TEXT NOT NULL,
		reported_at TEXT NOT NULL,
		is_noised   INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS threat_indicators (
		id             TEXT PRIMARY KEY,
		ip             TEXT NOT NULL UNIQUE,
		indicator_type TEXT NOT NULL DEFAULT '',
		score          REAL NOT NULL DEFAULT 0,
		source         TEXT NOT NULL DEFAULT '',
		first_seen     TEXT NOT NULL,
		last_seen      TEXT NOT NULL,
		is_active      INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS remediations (
		id           TEXT PRIMARY KEY,
		action_id    TEXT NOT NULL,
		asset_ip     TEXT NOT NULL,
		action_type  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		completed_at TEXT,
		result       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_ip ON assets(ip)`,
	`CREATE INDEX IF NOT EXISTS idx_asset_changes_asset ON asset_changes(asset_id)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_assets_asset ON scan_assets(asset_id)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_scan ON shield_findings(scan_id)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_target ON shield_findings(target_ip)`,
	`CREATE INDEX IF NOT EXISTS idx_commands_agent ON agent_commands(agent_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_group ON collective_signals(subnet_hash, signal_type)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_type ON firewall_rules(rule_type)`,
}

// EnsureSchema creates all tables and indexes idempotently.
func (s *Store) EnsureSchema(ctx context.Context) error {
	autoID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		autoID = "BIGSERIAL PRIMARY KEY"
	}

	for _, stmt := range schemaStatements {
		stmt = strings.ReplaceAll(stmt, "%AUTOID%", autoID)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
