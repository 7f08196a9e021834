package models

import "time"

// Finding severities, ordered from worst to harmless.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Shield scan lifecycle states; queued → running → completed | failed.
const (
	ShieldQueued    = "queued"
	ShieldRunning   = "running"
	ShieldCompleted = "completed"
	ShieldFailed    = "failed"
)

// Scan depths and sensitivity levels accepted by the orchestrator.
const (
	DepthQuick    = "quick"
	DepthStandard = "standard"
	DepthDeep     = "deep"

	SensitivityFragile  = "fragile"
	SensitivityCautious = "cautious"
	SensitivitySafe     = "safe"
)

// Target types computed from the scan target string.
const (
	TargetIP     = "ip"
	TargetDomain = "domain"
	TargetCIDR   = "cidr"
)

// ShieldScan is the lifecycle token for one security assessment.
type ShieldScan struct {
	ID             string                 `json:"id"`
	Target         string                 `json:"target"`
	TargetType     string                 `json:"target_type"`
	Depth          string                 `json:"depth"`
	Sensitivity    string                 `json:"sensitivity,omitempty"`
	ModulesEnabled []string               `json:"modules_enabled"`
	Status         string                 `json:"status"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	TotalChecks    int                    `json:"total_checks"`
	PassedChecks   int                    `json:"passed_checks"`
	FailedChecks   int                    `json:"failed_checks"`
	WarningChecks  int                    `json:"warning_checks"`
	ShieldScore    float64                `json:"shield_score"`
	Grade          string                 `json:"grade,omitempty"`
	Error          string                 `json:"error,omitempty"`
	AgentID        string                 `json:"agent_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	Findings       []ShieldFinding        `json:"findings,omitempty"`
	ModuleScores   map[string]ModuleScore `json:"module_scores,omitempty"`
}

// ModuleScore summarizes one module's contribution to a scan.
type ModuleScore struct {
	Module        string  `json:"module"`
	Score         float64 `json:"score"`
	Weight        int     `json:"weight"`
	TotalChecks   int     `json:"total_checks"`
	PassedChecks  int     `json:"passed_checks"`
	FailedChecks  int     `json:"failed_checks"`
	WarningChecks int     `json:"warning_checks"`
}

// ShieldFinding is one observation produced by a shield module.
type ShieldFinding struct {
	ID             string         `json:"id"`
	ScanID         string         `json:"scan_id,omitempty"`
	Module         string         `json:"module"`
	Severity       string         `json:"severity"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Remediation    string         `json:"remediation,omitempty"`
	TargetIP       string         `json:"target_ip,omitempty"`
	TargetPort     int            `json:"target_port,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
	MitreTechnique string         `json:"mitre_technique,omitempty"`
	MitreTactic    string         `json:"mitre_tactic,omitempty"`
	CVEID          string         `json:"cve_id,omitempty"`
	CVSSScore      float64        `json:"cvss_score,omitempty"`
	EPSSScore      float64        `json:"epss_score,omitempty"`
	IsKEV          bool           `json:"is_kev,omitempty"`
	DetectedAt     time.Time      `json:"detected_at"`
}

// Firewall rule types. Allow rules always win over block rules.
const (
	RuleBlockIP     = "block_ip"
	RuleAllowIP     = "allow_ip"
	RuleBlockPort   = "block_port"
	RuleAllowPort   = "allow_port"
	RuleBlockDomain = "block_domain"
	RuleAllowDomain = "allow_domain"
)

// Firewall rule origins.
const (
	RuleSourceUser        = "user"
	RuleSourceThreatIntel = "threat_intel"
	RuleSourceRemediation = "remediation"
)

// Firewall rule directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
	DirectionBoth     = "both"
)

// Firewall rule protocols.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
	ProtocolAny = "any"
)

// FirewallRule is one persisted rule; the engine only sees active,
// unexpired rules.
type FirewallRule struct {
	ID        string     `json:"id"`
	RuleType  string     `json:"rule_type"`
	Target    string     `json:"target"`
	Direction string     `json:"direction"`
	Protocol  string     `json:"protocol"`
	Source    string     `json:"source"`
	Reason    string     `json:"reason,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	HitCount  int        `json:"hit_count"`
}

// FirewallEvent is an append-only record of one evaluation verdict.
type FirewallEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	RuleID    string    `json:"rule_id,omitempty"`
	SrcIP     string    `json:"src_ip,omitempty"`
	DstIP     string    `json:"dst_ip"`
	DstPort   int       `json:"dst_port"`
	Protocol  string    `json:"protocol,omitempty"`
	Process   string    `json:"process,omitempty"`
	Direction string    `json:"direction,omitempty"`
}

// Collective signal types accepted by the privacy engine.
const (
	SignalPortScan   = "port_scan"
	SignalMalwareC2  = "malware_c2"
	SignalBruteForce = "brute_force"
	SignalSuspicious = "suspicious"
)

// CollectiveSignal is one anonymized, noised threat report. Raw rows never
// leave the engine; only k-anonymous aggregates do.
type CollectiveSignal struct {
	ID         string    `json:"id"`
	SubnetHash string    `json:"subnet_hash"`
	SignalType string    `json:"signal_type"`
	Severity   float64   `json:"severity"`
	Port       int       `json:"port,omitempty"`
	AgentHash  string    `json:"agent_hash"`
	ReportedAt time.Time `json:"reported_at"`
	IsNoised   bool      `json:"is_noised"`
}

// CollectiveReport is the k-anonymous aggregate for one (subnet, type) group.
type CollectiveReport struct {
	SubnetHash    string  `json:"subnet_hash"`
	SignalType    string  `json:"signal_type"`
	ReporterCount int     `json:"reporter_count"`
	AvgSeverity   float64 `json:"avg_severity"`
	Consistency   float64 `json:"consistency"`
	Confidence    float64 `json:"confidence"`
	IsVerified    bool    `json:"is_verified"`
}

// ThreatIndicator feeds firewall sync-from-threats; score ≥ 0.7 becomes a
// block_ip rule.
type ThreatIndicator struct {
	ID            string    `json:"id"`
	IP            string    `json:"ip"`
	IndicatorType string    `json:"indicator_type"`
	Score         float64   `json:"score"`
	Source        string    `json:"source,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	IsActive      bool      `json:"is_active"`
}

// Remediation action types and execution states.
const (
	ActionFirewallRule = "firewall_rule"
	ActionConfigChange = "config_change"

	RemediationPending   = "pending"
	RemediationExecuting = "executing"
	RemediationCompleted = "completed"
	RemediationFailed    = "failed"
	RemediationManual    = "manual"
)

// RemediationAction is one planned fix for an asset.
type RemediationAction struct {
	ID          string `json:"id"`
	AssetIP     string `json:"asset_ip"`
	TargetPort  int    `json:"target_port,omitempty"`
	FindingID   string `json:"finding_id,omitempty"`
	ActionType  string `json:"action_type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	AutoFixable bool   `json:"auto_fixable"`
}

// RemediationPlan aggregates the actions for one asset or the whole network.
type RemediationPlan struct {
	AssetIP      string              `json:"asset_ip,omitempty"`
	Actions      []RemediationAction `json:"actions"`
	TotalActions int                 `json:"total_actions"`
	CriticalOpen int                 `json:"critical_open"`
	AutoFixable  int                 `json:"auto_fixable"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// Remediation is one history row written when an action is executed.
type Remediation struct {
	ID          string     `json:"id"`
	ActionID    string     `json:"action_id"`
	AssetIP     string     `json:"asset_ip"`
	ActionType  string     `json:"action_type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// AgentHealth is one row of the dead-man-switch audit.
type AgentHealth struct {
	AgentID        string     `json:"agent_id"`
	Name           string     `json:"name"`
	SiteName       string     `json:"site_name,omitempty"`
	LastHeartbeat  *time.Time `json:"last_heartbeat"`
	MinutesSince   float64    `json:"minutes_since,omitempty"`
	Alive          bool       `json:"alive"`
	AlertTriggered bool       `json:"alert_triggered"`
}
