// Package remediation turns open-port exposure and shield findings into
// an actionable fix plan, and drives execution through the agent command
// queue when an agent owns the asset.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// ErrInvalidAction marks an action id that no plan could have produced.
var ErrInvalidAction = errors.New("invalid remediation action")

// portFix describes the planned response to one dangerous open port.
// The SMB/NetBIOS family needs host configuration, not a packet filter,
// so those are not auto-fixable.
type portFix struct {
	service     string
	actionType  string
	description string
}

var dangerousPorts = map[int]portFix{
	21:    {"FTP", models.ActionFirewallRule, "FTP transmits credentials in cleartext. Block the port and move transfers to SFTP."},
	23:    {"Telnet", models.ActionFirewallRule, "Telnet is unencrypted remote access. Block the port and use SSH instead."},
	135:   {"MSRPC", models.ActionConfigChange, "Restrict MSRPC to the local segment via host firewall or service configuration."},
	139:   {"NetBIOS", models.ActionConfigChange, "Disable NetBIOS over TCP/IP unless legacy file sharing still depends on it."},
	445:   {"SMB", models.ActionConfigChange, "Restrict SMB to trusted subnets and require SMB3 with signing."},
	1433:  {"MSSQL", models.ActionFirewallRule, "SQL Server should not be reachable from the network. Block the port."},
	3306:  {"MySQL", models.ActionFirewallRule, "MySQL should not be reachable from the network. Block the port."},
	3389:  {"RDP", models.ActionFirewallRule, "Exposed RDP is a common ransomware entry point. Block the port or gate it behind a VPN."},
	5432:  {"PostgreSQL", models.ActionFirewallRule, "PostgreSQL should not be reachable from the network. Block the port."},
	5900:  {"VNC", models.ActionFirewallRule, "VNC frequently runs without strong auth. Block the port or tunnel it."},
	6379:  {"Redis", models.ActionFirewallRule, "Redis ships without authentication. Block the port immediately."},
	9200:  {"Elasticsearch", models.ActionFirewallRule, "An open Elasticsearch API exposes all indexed data. Block the port."},
	27017: {"MongoDB", models.ActionFirewallRule, "MongoDB without auth exposes all collections. Block the port."},
}

// planSeverities are the finding severities worth a remediation action.
var planSeverities = []string{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium}

// PlanStore is the persistence the planner needs; *store.Store satisfies it.
type PlanStore interface {
	AssetByIP(ctx context.Context, ip string) (*models.Asset, error)
	ListAssets(ctx context.Context) ([]models.Asset, error)
	LatestOpenPorts(ctx context.Context, assetID string) ([]int, error)
	FindingsForIP(ctx context.Context, ip string, sevs []string) ([]models.ShieldFinding, error)
	AgentByID(ctx context.Context, id string) (*models.Agent, error)
	CreateCommand(ctx context.Context, c *models.AgentCommand) error
	InsertRemediation(ctx context.Context, r *models.Remediation) error
	ListRemediations(ctx context.Context, ip string) ([]models.Remediation, error)
}

// Planner derives and executes remediation plans.
type Planner struct {
	store  PlanStore
	logger *log.Logger
}

func NewPlanner(st PlanStore) *Planner {
	return &Planner{
		store:  st,
		logger: log.New(log.Writer(), "[REMEDIATION] ", log.LstdFlags),
	}
}

// PlanForAsset builds the fix list for one asset: dangerous open ports
// from its latest scan, plus critical/high/medium shield findings.
func (p *Planner) PlanForAsset(ctx context.Context, ip string) (*models.RemediationPlan, error) {
	asset, err := p.store.AssetByIP(ctx, ip)
	if err != nil {
		return nil, err
	}

	ports, err := p.store.LatestOpenPorts(ctx, asset.ID)
	if err != nil {
		return nil, fmt.Errorf("open ports for %s: %w", ip, err)
	}
	findings, err := p.store.FindingsForIP(ctx, ip, planSeverities)
	if err != nil {
		return nil, fmt.Errorf("findings for %s: %w", ip, err)
	}

	actions := planActions(ip, ports, findings)
	return buildPlan(ip, actions), nil
}

// NetworkPlan unions the plans of every non-ignored asset, deduplicated
// by (target ip, target port, action type).
func (p *Planner) NetworkPlan(ctx context.Context) (*models.RemediationPlan, error) {
	assets, err := p.store.ListAssets(ctx)
	if err != nil {
		return nil, err
	}

	type dedupKey struct {
		ip         string
		port       int
		actionType string
	}
	seen := make(map[dedupKey]bool)
	var actions []models.RemediationAction

	for _, a := range assets {
		if a.IsIgnored {
			continue
		}
		ports, err := p.store.LatestOpenPorts(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("open ports for %s: %w", a.IP, err)
		}
		findings, err := p.store.FindingsForIP(ctx, a.IP, planSeverities)
		if err != nil {
			return nil, fmt.Errorf("findings for %s: %w", a.IP, err)
		}
		for _, act := range planActions(a.IP, ports, findings) {
			k := dedupKey{act.AssetIP, act.TargetPort, act.ActionType}
			if seen[k] {
				continue
			}
			seen[k] = true
			actions = append(actions, act)
		}
	}
	return buildPlan("", actions), nil
}

func planActions(ip string, openPorts []int, findings []models.ShieldFinding) []models.RemediationAction {
	sorted := append([]int(nil), openPorts...)
	sort.Ints(sorted)

	var actions []models.RemediationAction
	for _, port := range sorted {
		fix, dangerous := dangerousPorts[port]
		if !dangerous {
			continue
		}
		actions = append(actions, models.RemediationAction{
			ID:          fmt.Sprintf("port-%s-%d", ip, port),
			AssetIP:     ip,
			TargetPort:  port,
			ActionType:  fix.actionType,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("%s exposed on port %d. %s", fix.service, port, fix.description),
			AutoFixable: fix.actionType == models.ActionFirewallRule,
		})
	}

	for _, f := range findings {
		actions = append(actions, models.RemediationAction{
			ID:          fmt.Sprintf("finding-%s-%s", ip, f.ID),
			AssetIP:     ip,
			TargetPort:  f.TargetPort,
			FindingID:   f.ID,
			ActionType:  models.ActionConfigChange,
			Severity:    f.Severity,
			Description: findingDescription(f),
			AutoFixable: false,
		})
	}
	return actions
}

func findingDescription(f models.ShieldFinding) string {
	if f.Remediation != "" {
		return fmt.Sprintf("%s: %s", f.Title, f.Remediation)
	}
	return f.Title
}

func buildPlan(ip string, actions []models.RemediationAction) *models.RemediationPlan {
	plan := &models.RemediationPlan{
		AssetIP:      ip,
		Actions:      actions,
		TotalActions: len(actions),
		GeneratedAt:  time.Now().UTC(),
	}
	for _, a := range actions {
		if a.Severity == models.SeverityCritical {
			plan.CriticalOpen++
		}
		if a.AutoFixable {
			plan.AutoFixable++
		}
	}
	return plan
}

// ExecuteResult reports how one action was dispatched.
type ExecuteResult struct {
	Remediation *models.Remediation  `json:"remediation"`
	Command     *models.AgentCommand `json:"command,omitempty"`
	Mode        string               `json:"mode"` // "agent" or "manual"
}

// Execute dispatches one planned action. When the asset has a live agent
// the fix rides the command queue; otherwise the remediation is recorded
// for manual follow-up.
func (p *Planner) Execute(ctx context.Context, actionID string) (*ExecuteResult, error) {
	ip, actionType, err := parseActionID(actionID)
	if err != nil {
		return nil, err
	}

	asset, err := p.store.AssetByIP(ctx, ip)
	if err != nil {
		return nil, err
	}

	var agent *models.Agent
	if asset.AgentID != "" {
		a, err := p.store.AgentByID(ctx, asset.AgentID)
		if err == nil && a.IsActive {
			agent = a
		}
	}

	rem := &models.Remediation{
		ActionID:   actionID,
		AssetIP:    ip,
		ActionType: actionType,
	}

	if agent == nil {
		rem.Status = models.RemediationManual
		rem.Result = "no active agent for asset; manual remediation required"
		if err := p.store.InsertRemediation(ctx, rem); err != nil {
			return nil, err
		}
		p.logger.Printf("⚠️ No agent for %s; action %s queued for manual follow-up", ip, actionID)
		return &ExecuteResult{Remediation: rem, Mode: "manual"}, nil
	}

	cmd := &models.AgentCommand{
		AgentID:     agent.ID,
		CommandType: models.CommandRemediate,
		Params: map[string]any{
			"action_id":   actionID,
			"action_type": actionType,
			"target_ip":   ip,
		},
		Status: models.CommandPending,
	}
	if err := p.store.CreateCommand(ctx, cmd); err != nil {
		return nil, err
	}

	rem.Status = models.RemediationExecuting
	if err := p.store.InsertRemediation(ctx, rem); err != nil {
		return nil, err
	}
	p.logger.Printf("✅ Action %s dispatched to agent %s", actionID, agent.ID)
	return &ExecuteResult{Remediation: rem, Command: cmd, Mode: "agent"}, nil
}

// History lists past executions for one asset.
func (p *Planner) History(ctx context.Context, ip string) ([]models.Remediation, error) {
	return p.store.ListRemediations(ctx, ip)
}

// parseActionID splits `port-<ip>-<port>` / `finding-<ip>-<finding-id>`
// and re-derives the action type the planner would have assigned.
func parseActionID(actionID string) (ip, actionType string, err error) {
	kind, rest, ok := strings.Cut(actionID, "-")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAction, actionID)
	}
	ip, suffix, ok := strings.Cut(rest, "-")
	if !ok || net.ParseIP(ip) == nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAction, actionID)
	}

	switch kind {
	case "port":
		port, convErr := strconv.Atoi(suffix)
		if convErr != nil {
			return "", "", fmt.Errorf("%w: bad port in %q", ErrInvalidAction, actionID)
		}
		fix, dangerous := dangerousPorts[port]
		if !dangerous {
			return "", "", fmt.Errorf("%w: port %d is not in the dangerous set", ErrInvalidAction, port)
		}
		return ip, fix.actionType, nil
	case "finding":
		if suffix == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidAction, actionID)
		}
		return ip, models.ActionConfigChange, nil
	default:
		return "", "", fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, kind)
	}
}
