// Package models holds the domain entities shared by the server, the agent
// daemon, and the shield engine. Everything here is plain data: behavior
// lives in the packages that own each concern.
package models

import "time"

// Agent statuses reported via heartbeat or assigned by the dead-man switch.
const (
	AgentStatusOnline   = "online"
	AgentStatusOffline  = "offline"
	AgentStatusScanning = "scanning"
	AgentStatusStale    = "stale"
)

// Agent is the identity of a remote scanner. The bearer token is never
// stored; only its SHA-256 digest survives registration.
type Agent struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	SiteName     string     `json:"site_name"`
	Location     string     `json:"location,omitempty"`
	Status       string     `json:"status"`
	Version      string     `json:"version,omitempty"`
	Subnets      []string   `json:"subnets,omitempty"`
	TokenDigest  string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

// Scan records one discovery sweep pushed by an agent (or run locally).
type Scan struct {
	ID          string     `json:"id"`
	Target      string     `json:"target"`
	ScanMethod  string     `json:"scan_method"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TotalAssets int        `json:"total_assets"`
	AgentID     string     `json:"agent_id,omitempty"`
	SiteName    string     `json:"site_name,omitempty"`
}

// Asset is the living record for a discovered device, unique on (ip, mac).
// It is never deleted; later scans mutate it and every field change is
// journaled as an AssetChange.
type Asset struct {
	ID              string     `json:"id"`
	IP              string     `json:"ip"`
	MAC             string     `json:"mac,omitempty"`
	Hostname        string     `json:"hostname,omitempty"`
	Vendor          string     `json:"vendor,omitempty"`
	OSHint          string     `json:"os_hint,omitempty"`
	BigrCategory    string     `json:"bigr_category,omitempty"`
	ConfidenceScore float64    `json:"confidence_score"`
	ScanMethod      string     `json:"scan_method,omitempty"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
	ManualCategory  string     `json:"manual_category,omitempty"`
	ManualNote      string     `json:"manual_note,omitempty"`
	IsIgnored       bool       `json:"is_ignored"`
	SwitchHost      string     `json:"switch_host,omitempty"`
	SwitchPort      string     `json:"switch_port,omitempty"`
	SwitchPortIndex int        `json:"switch_port_index,omitempty"`
	AgentID         string     `json:"agent_id,omitempty"`
	SiteName        string     `json:"site_name,omitempty"`
	LastScanAt      *time.Time `json:"last_scan_at,omitempty"`
}

// ScanAsset is the junction capturing one asset's state at one scan instant.
type ScanAsset struct {
	ScanID      string         `json:"scan_id"`
	AssetID     string         `json:"asset_id"`
	OpenPorts   []int          `json:"open_ports,omitempty"`
	Confidence  float64        `json:"confidence"`
	Category    string         `json:"category,omitempty"`
	RawEvidence map[string]any `json:"raw_evidence,omitempty"`
}

// AssetChange kinds.
const (
	ChangeNewAsset     = "new_asset"
	ChangeFieldChanged = "field_changed"
)

// AssetChange is one row of the asset mutation audit log.
type AssetChange struct {
	ID         int64     `json:"id"`
	AssetID    string    `json:"asset_id"`
	ScanID     string    `json:"scan_id,omitempty"`
	ChangeType string    `json:"change_type"`
	FieldName  string    `json:"field_name,omitempty"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// Subnet is upserted by CIDR whenever an agent reports coverage.
type Subnet struct {
	ID          string     `json:"id"`
	CIDR        string     `json:"cidr"`
	SiteName    string     `json:"site_name,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	LastScanned *time.Time `json:"last_scanned,omitempty"`
}

// Switch is upserted by management host.
type Switch struct {
	ID        string `json:"id"`
	Host      string `json:"host"`
	Name      string `json:"name,omitempty"`
	PortCount int    `json:"port_count,omitempty"`
}

// Certificate is the TLS material observed on (host, port) by a shield scan.
type Certificate struct {
	ID          string    `json:"id"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	SubjectCN   string    `json:"subject_cn,omitempty"`
	Issuer      string    `json:"issuer,omitempty"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	SeenAt      time.Time `json:"seen_at"`
}

// AgentCommand statuses; pending → ack → running → completed | failed.
const (
	CommandPending   = "pending"
	CommandAck       = "ack"
	CommandRunning   = "running"
	CommandCompleted = "completed"
	CommandFailed    = "failed"
)

// Command types the daemon understands.
const (
	CommandScanNow   = "scan_now"
	CommandRemediate = "remediate"
)

// AgentCommand is a remote request queued for an agent.
type AgentCommand struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	CommandType string         `json:"command_type"`
	Params      map[string]any `json:"params,omitempty"`
	Status      string         `json:"status"`
	Result      string         `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NetworkFingerprint describes the network an agent scanned from.
type NetworkFingerprint struct {
	Interface string   `json:"interface,omitempty"`
	Gateway   string   `json:"gateway,omitempty"`
	LocalIP   string   `json:"local_ip,omitempty"`
	CIDRs     []string `json:"cidrs,omitempty"`
}

// DiscoveryPayload is the body of POST /api/ingest/discovery and the shape
// written to the agent's offline queue for discovery results.
type DiscoveryPayload struct {
	Target      string              `json:"target"`
	ScanMethod  string              `json:"scan_method,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	IsRoot      bool                `json:"is_root,omitempty"`
	Assets      []AssetObservation  `json:"assets"`
	Fingerprint *NetworkFingerprint `json:"network_fingerprint,omitempty"`
}

// AssetObservation is one device as seen by a single discovery sweep.
type AssetObservation struct {
	IP              string         `json:"ip"`
	MAC             string         `json:"mac,omitempty"`
	Hostname        string         `json:"hostname,omitempty"`
	Vendor          string         `json:"vendor,omitempty"`
	OSHint          string         `json:"os_hint,omitempty"`
	BigrCategory    string         `json:"bigr_category,omitempty"`
	ConfidenceScore float64        `json:"confidence_score,omitempty"`
	OpenPorts       []int          `json:"open_ports,omitempty"`
	SwitchHost      string         `json:"switch_host,omitempty"`
	SwitchPort      string         `json:"switch_port,omitempty"`
	SwitchPortIndex int            `json:"switch_port_index,omitempty"`
	RawEvidence     map[string]any `json:"raw_evidence,omitempty"`
}

// ShieldPayload is the body of POST /api/ingest/shield and the offline-queue
// shape for shield results pushed by agents.
type ShieldPayload struct {
	Target      string          `json:"target"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ModulesRun  []string        `json:"modules_run"`
	Findings    []ShieldFinding `json:"findings"`
}
