package firewall

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/metrics"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// ErrInvalidRule marks a rejected rule; API handlers map it to 400.
var ErrInvalidRule = errors.New("invalid firewall rule")

// threatBlockScore is the indicator score at and above which a threat
// becomes a block rule.
const threatBlockScore = 0.7

// threatRuleTTL is how long a threat-sourced block stays active.
const threatRuleTTL = 90 * 24 * time.Hour

// highRiskPorts seeds the sync-from-ports operation. These services have
// no business crossing a network boundary.
var highRiskPorts = map[int]string{
	21:    "FTP",
	23:    "Telnet",
	135:   "MSRPC",
	139:   "NetBIOS",
	445:   "SMB",
	1433:  "MSSQL",
	3306:  "MySQL",
	3389:  "RDP",
	5432:  "PostgreSQL",
	5900:  "VNC",
	6379:  "Redis",
	9200:  "Elasticsearch",
	27017: "MongoDB",
}

// RuleStore is the persistence the service needs; *store.Store satisfies it.
type RuleStore interface {
	AddRule(ctx context.Context, r *models.FirewallRule) error
	RuleByID(ctx context.Context, id string) (*models.FirewallRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]models.FirewallRule, error)
	SetRuleActive(ctx context.Context, id string, active bool) error
	DeleteRule(ctx context.Context, id string) error
	IncrementRuleHits(ctx context.Context, id string) error
	ActiveRuleExists(ctx context.Context, ruleType, target string) (bool, error)
	RecordFirewallEvent(ctx context.Context, e *models.FirewallEvent) error
	ListFirewallEvents(ctx context.Context, limit int) ([]models.FirewallEvent, error)
}

// Service owns rule lifecycle and evaluation. Every mutation reloads the
// engine so the match view never drifts from the store.
type Service struct {
	store   RuleStore
	engine  *Engine
	adapter Adapter
	bus     events.Emitter
	metrics *metrics.Metrics
	logger  *log.Logger
}

func NewService(st RuleStore, adapter Adapter, bus events.Emitter, m *metrics.Metrics) *Service {
	if adapter == nil {
		adapter = NewNoopAdapter()
	}
	return &Service{
		store:   st,
		engine:  NewEngine(),
		adapter: adapter,
		bus:     bus,
		metrics: m,
		logger:  log.New(log.Writer(), "[FIREWALL] ", log.LstdFlags),
	}
}

// Engine exposes the match view, for handlers that only evaluate.
func (s *Service) Engine() *Engine { return s.engine }

// Reload rebuilds the engine from the store and pushes the active set to
// the platform adapter. Adapter trouble is logged, not fatal: matching
// must keep answering even when enforcement is down.
func (s *Service) Reload(ctx context.Context) error {
	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}
	s.engine.Load(rules)

	if err := s.adapter.ApplyRules(ctx, rules); err != nil {
		s.logger.Printf("⚠️ Adapter %s rejected rule set: %v", s.adapter.PlatformName(), err)
	}
	return nil
}

// AddRule validates, persists and activates one rule.
func (s *Service) AddRule(ctx context.Context, r *models.FirewallRule) (*models.FirewallRule, error) {
	if err := normalizeRule(r); err != nil {
		return nil, err
	}
	if err := s.store.AddRule(ctx, r); err != nil {
		return nil, err
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Emit(events.TypeRuleAdded, r.ID, map[string]any{
			"rule_type": r.RuleType,
			"target":    r.Target,
			"source":    r.Source,
		})
	}
	s.logger.Printf("✅ Rule added: %s %s (source=%s)", r.RuleType, r.Target, r.Source)
	return r, nil
}

// DeleteRule removes a rule permanently.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	return s.Reload(ctx)
}

// SetActive toggles a rule and reloads the view.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.store.SetRuleActive(ctx, id, active); err != nil {
		return err
	}
	return s.Reload(ctx)
}

// Rules lists persisted rules.
func (s *Service) Rules(ctx context.Context, activeOnly bool) ([]models.FirewallRule, error) {
	return s.store.ListRules(ctx, activeOnly)
}

// Events lists recent evaluation verdicts, newest first.
func (s *Service) Events(ctx context.Context, limit int) ([]models.FirewallEvent, error) {
	return s.store.ListFirewallEvents(ctx, limit)
}

// EvalRequest is one connection attempt to judge.
type EvalRequest struct {
	DestIP    string `json:"dest_ip"`
	DestPort  int    `json:"dest_port"`
	Protocol  string `json:"protocol,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Direction string `json:"direction,omitempty"`
	Process   string `json:"process,omitempty"`
	SrcIP     string `json:"src_ip,omitempty"`
}

// Evaluate runs one dry-run match, records the verdict as an event and
// bumps the hit counter of a matching block rule.
func (s *Service) Evaluate(ctx context.Context, req *EvalRequest) (string, *models.FirewallRule, error) {
	verdict, rule := s.engine.Evaluate(req.DestIP, req.DestPort, req.Protocol, req.Domain, req.Direction)

	event := &models.FirewallEvent{
		Action:    verdict,
		DstIP:     req.DestIP,
		DstPort:   req.DestPort,
		Protocol:  req.Protocol,
		Process:   req.Process,
		SrcIP:     req.SrcIP,
		Direction: req.Direction,
	}
	if rule != nil {
		event.RuleID = rule.ID
	}
	if err := s.store.RecordFirewallEvent(ctx, event); err != nil {
		return "", nil, err
	}

	s.metrics.RecordFirewallVerdict(verdict)
	if verdict == VerdictBlocked && rule != nil {
		if err := s.store.IncrementRuleHits(ctx, rule.ID); err != nil {
			s.logger.Printf("⚠️ Hit count for rule %s: %v", rule.ID, err)
		}
		if s.bus != nil {
			s.bus.Emit(events.TypeFirewallBlock, rule.ID, map[string]any{
				"dest_ip":   req.DestIP,
				"dest_port": req.DestPort,
				"rule_type": rule.RuleType,
				"target":    rule.Target,
			})
		}
		s.logger.Printf("🛑 Blocked %s:%d by %s %s", req.DestIP, req.DestPort, rule.RuleType, rule.Target)
	}
	return verdict, rule, nil
}

// SyncFromThreats turns high-confidence indicators into expiring block
// rules. Indicators already covered by an active block are skipped.
func (s *Service) SyncFromThreats(ctx context.Context, threats []models.ThreatIndicator) (int, error) {
	created := 0
	for _, t := range threats {
		if t.Score < threatBlockScore || t.IP == "" {
			continue
		}
		exists, err := s.store.ActiveRuleExists(ctx, models.RuleBlockIP, t.IP)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		expires := time.Now().UTC().Add(threatRuleTTL)
		rule := &models.FirewallRule{
			RuleType:  models.RuleBlockIP,
			Target:    t.IP,
			Direction: models.DirectionBoth,
			Protocol:  models.ProtocolAny,
			Source:    models.RuleSourceThreatIntel,
			Reason:    fmt.Sprintf("Collective threat indicator (%s, score %.2f)", t.IndicatorType, t.Score),
			IsActive:  true,
			ExpiresAt: &expires,
		}
		if err := s.store.AddRule(ctx, rule); err != nil {
			return created, err
		}
		created++
	}

	if created > 0 {
		if err := s.Reload(ctx); err != nil {
			return created, err
		}
		s.logger.Printf("✅ Threat sync: %d new block rule(s)", created)
	}
	return created, nil
}

// SyncPortRules seeds block rules for the high-risk service ports.
// Idempotent: ports already covered by an active block are skipped.
func (s *Service) SyncPortRules(ctx context.Context) (int, error) {
	created := 0
	for port, name := range highRiskPorts {
		target := strconv.Itoa(port)
		exists, err := s.store.ActiveRuleExists(ctx, models.RuleBlockPort, target)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		rule := &models.FirewallRule{
			RuleType:  models.RuleBlockPort,
			Target:    target,
			Direction: models.DirectionInbound,
			Protocol:  models.ProtocolTCP,
			Source:    models.RuleSourceRemediation,
			Reason:    fmt.Sprintf("High-risk service port (%s)", name),
			IsActive:  true,
		}
		if err := s.store.AddRule(ctx, rule); err != nil {
			return created, err
		}
		created++
	}

	if created > 0 {
		if err := s.Reload(ctx); err != nil {
			return created, err
		}
		s.logger.Printf("✅ Port sync: %d new block rule(s)", created)
	}
	return created, nil
}

// normalizeRule validates a rule and fills the defaults: direction both,
// protocol any, source user, active true.
func normalizeRule(r *models.FirewallRule) error {
	r.Target = strings.TrimSpace(r.Target)
	if r.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidRule)
	}

	switch r.RuleType {
	case models.RuleBlockIP, models.RuleAllowIP:
		if net.ParseIP(r.Target) == nil {
			return fmt.Errorf("%w: %q is not an IP address", ErrInvalidRule, r.Target)
		}
	case models.RuleBlockPort, models.RuleAllowPort:
		port, err := strconv.Atoi(r.Target)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%w: %q is not a port number", ErrInvalidRule, r.Target)
		}
	case models.RuleBlockDomain, models.RuleAllowDomain:
		r.Target = strings.ToLower(r.Target)
	default:
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, r.RuleType)
	}

	switch r.Direction {
	case "":
		r.Direction = models.DirectionBoth
	case models.DirectionInbound, models.DirectionOutbound, models.DirectionBoth:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidRule, r.Direction)
	}

	switch r.Protocol {
	case "":
		r.Protocol = models.ProtocolAny
	case models.ProtocolTCP, models.ProtocolUDP, models.ProtocolAny:
	default:
		return fmt.Errorf("%w: unknown protocol %q", ErrInvalidRule, r.Protocol)
	}

	if r.Source == "" {
		r.Source = models.RuleSourceUser
	}
	r.IsActive = true
	return nil
}
