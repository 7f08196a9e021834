package firewall

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// Adapter is the enforcement boundary. The engine decides verdicts; an
// adapter pushes the active rule set down to whatever the platform uses
// for packet filtering. Adapters are compiled in, never loaded by path.
type Adapter interface {
	Install(ctx context.Context) error
	ApplyRules(ctx context.Context, rules []models.FirewallRule) error
	Status(ctx context.Context) (string, error)
	Uninstall(ctx context.Context) error
	PlatformName() string
}

// NoopAdapter accepts every call and enforces nothing. It keeps the rule
// service fully functional on platforms with no native filter wired up.
type NoopAdapter struct {
	logger *log.Logger

	mu        sync.Mutex
	installed bool
	ruleCount int
}

func NewNoopAdapter() *NoopAdapter {
	return &NoopAdapter{
		logger: log.New(log.Writer(), "[FIREWALL] ", log.LstdFlags),
	}
}

func (a *NoopAdapter) Install(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed = true
	a.logger.Printf("🔌 noop adapter installed (enforcement disabled)")
	return nil
}

func (a *NoopAdapter) ApplyRules(_ context.Context, rules []models.FirewallRule) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ruleCount = len(rules)
	return nil
}

func (a *NoopAdapter) Status(_ context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.installed {
		return "not installed", nil
	}
	return fmt.Sprintf("noop: %d rules accepted, none enforced", a.ruleCount), nil
}

func (a *NoopAdapter) Uninstall(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed = false
	a.ruleCount = 0
	return nil
}

func (a *NoopAdapter) PlatformName() string {
	return runtime.GOOS + "/noop"
}

// ScriptAdapter renders the active rule set as an nftables-style script.
// It never executes anything: the script is for operator inspection, or
// for feeding into a real filter by hand. When Path is set the script is
// also written to disk on every apply.
type ScriptAdapter struct {
	Path   string
	logger *log.Logger

	mu        sync.Mutex
	installed bool
	script    string
	appliedAt time.Time
}

func NewScriptAdapter(path string) *ScriptAdapter {
	return &ScriptAdapter{
		Path:   path,
		logger: log.New(log.Writer(), "[FIREWALL] ", log.LstdFlags),
	}
}

func (a *ScriptAdapter) Install(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed = true
	return nil
}

func (a *ScriptAdapter) ApplyRules(_ context.Context, rules []models.FirewallRule) error {
	script := renderScript(rules, time.Now().UTC())

	a.mu.Lock()
	a.script = script
	a.appliedAt = time.Now()
	path := a.Path
	a.mu.Unlock()

	if path != "" {
		if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
			return fmt.Errorf("write firewall script: %w", err)
		}
		a.logger.Printf("✅ firewall script written: %s (%d rules)", path, len(rules))
	}
	return nil
}

func (a *ScriptAdapter) Status(_ context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.installed {
		return "not installed", nil
	}
	if a.appliedAt.IsZero() {
		return "installed, no rules applied", nil
	}
	return fmt.Sprintf("script rendered %s", a.appliedAt.Format(time.RFC3339)), nil
}

func (a *ScriptAdapter) Uninstall(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed = false
	a.script = ""
	a.appliedAt = time.Time{}
	return nil
}

func (a *ScriptAdapter) PlatformName() string {
	return runtime.GOOS + "/script"
}

// Script returns the most recently rendered script.
func (a *ScriptAdapter) Script() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.script
}

// renderScript emits one nft-flavored line per rule, allows before blocks,
// sorted by target within each group so diffs between applies stay stable.
func renderScript(rules []models.FirewallRule, now time.Time) string {
	var allows, blocks []models.FirewallRule
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
			continue
		}
		switch r.RuleType {
		case models.RuleAllowIP, models.RuleAllowPort, models.RuleAllowDomain:
			allows = append(allows, r)
		default:
			blocks = append(blocks, r)
		}
	}
	sortRules(allows)
	sortRules(blocks)

	var b strings.Builder
	fmt.Fprintf(&b, "#!/usr/sbin/nft -f\n")
	fmt.Fprintf(&b, "# generated %s: %d allow, %d block\n", now.Format(time.RFC3339), len(allows), len(blocks))
	b.WriteString("table inet bigr {\n")
	b.WriteString("  chain input {\n")
	b.WriteString("    type filter hook input priority 0; policy accept;\n")
	for _, r := range allows {
		fmt.Fprintf(&b, "    %s accept comment \"%s\"\n", matchExpr(r), scriptComment(r))
	}
	for _, r := range blocks {
		fmt.Fprintf(&b, "    %s drop comment \"%s\"\n", matchExpr(r), scriptComment(r))
	}
	b.WriteString("  }\n")
	b.WriteString("}\n")
	return b.String()
}

func sortRules(rules []models.FirewallRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].RuleType != rules[j].RuleType {
			return rules[i].RuleType < rules[j].RuleType
		}
		return rules[i].Target < rules[j].Target
	})
}

func matchExpr(r models.FirewallRule) string {
	proto := r.Protocol
	if proto == "" || proto == models.ProtocolAny {
		proto = "meta l4proto { tcp, udp }"
	} else {
		proto = "meta l4proto " + proto
	}
	switch r.RuleType {
	case models.RuleBlockIP, models.RuleAllowIP:
		return fmt.Sprintf("ip saddr %s", r.Target)
	case models.RuleBlockPort, models.RuleAllowPort:
		return fmt.Sprintf("%s th dport %s", proto, r.Target)
	default:
		// Domains resolve outside the packet path; emit a placeholder set
		// reference the operator can populate.
		return fmt.Sprintf("ip daddr @resolved_%s", setName(r.Target))
	}
}

// setName turns a domain into a legal nft set identifier.
func setName(domain string) string {
	return strings.NewReplacer(".", "_", "-", "_", "*", "w").Replace(domain)
}

func scriptComment(r models.FirewallRule) string {
	c := r.RuleType + " " + r.Target
	if r.Source != "" {
		c += " source=" + r.Source
	}
	return sanitizeComment(c)
}

// sanitizeComment keeps rendered comments single-line and quote-free.
func sanitizeComment(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
