// Package firewall holds the rule engine, the rule service and the
// platform adapters. The engine is pure matching over an in-memory view
// of the active rules; enforcement is delegated to an Adapter and
// persistence to the store.
package firewall

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// Evaluation verdicts.
const (
	VerdictAllowed = "allowed"
	VerdictBlocked = "blocked"
)

// Engine is a rebuildable match index over the active rule set. Reads
// are lock-shared so evaluation stays cheap under concurrent traffic;
// Load swaps the whole view atomically.
type Engine struct {
	mu          sync.RWMutex
	ipAllow     map[string]bool
	domainAllow map[string]bool
	ipBlock     map[string]models.FirewallRule
	portBlock   map[int]models.FirewallRule
	domainBlock map[string]models.FirewallRule
	loadedAt    time.Time
	ruleCount   int
}

func NewEngine() *Engine {
	e := &Engine{}
	e.Load(nil)
	return e
}

// Load rebuilds the indexes from the given rules. Inactive rules and
// rules whose expiry has passed are invisible to evaluation.
func (e *Engine) Load(rules []models.FirewallRule) {
	ipAllow := make(map[string]bool)
	domainAllow := make(map[string]bool)
	ipBlock := make(map[string]models.FirewallRule)
	portBlock := make(map[int]models.FirewallRule)
	domainBlock := make(map[string]models.FirewallRule)

	now := time.Now()
	count := 0
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
			continue
		}

		switch r.RuleType {
		case models.RuleAllowIP:
			ipAllow[r.Target] = true
		case models.RuleAllowDomain:
			domainAllow[strings.ToLower(r.Target)] = true
		case models.RuleBlockIP:
			ipBlock[r.Target] = r
		case models.RuleBlockPort:
			port, err := strconv.Atoi(r.Target)
			if err != nil {
				continue
			}
			portBlock[port] = r
		case models.RuleBlockDomain:
			domainBlock[strings.ToLower(r.Target)] = r
		default:
			// allow_port carries no evaluation semantics; the default
			// verdict is already allow.
			continue
		}
		count++
	}

	e.mu.Lock()
	e.ipAllow = ipAllow
	e.domainAllow = domainAllow
	e.ipBlock = ipBlock
	e.portBlock = portBlock
	e.domainBlock = domainBlock
	e.loadedAt = now
	e.ruleCount = count
	e.mu.Unlock()
}

// Evaluate matches one connection attempt against the loaded view.
// Allowlists always win; blocked verdicts carry the rule that matched.
func (e *Engine) Evaluate(destIP string, destPort int, protocol, domain, direction string) (string, *models.FirewallRule) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.ipAllow[destIP] {
		return VerdictAllowed, nil
	}
	if domain != "" && e.domainAllow[strings.ToLower(domain)] {
		return VerdictAllowed, nil
	}
	if r, ok := e.ipBlock[destIP]; ok {
		return VerdictBlocked, &r
	}
	if r, ok := e.portBlock[destPort]; ok {
		return VerdictBlocked, &r
	}
	if domain != "" {
		if r, ok := e.domainBlock[strings.ToLower(domain)]; ok {
			return VerdictBlocked, &r
		}
	}
	return VerdictAllowed, nil
}

// RuleCount returns the number of rules in the loaded view.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ruleCount
}

// LoadedAt returns when the view was last rebuilt.
func (e *Engine) LoadedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadedAt
}
