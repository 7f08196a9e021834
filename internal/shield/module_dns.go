package shield

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// dnsQueryTimeout bounds one resolver subprocess.
const dnsQueryTimeout = 15 * time.Second

// dmarcPolicy pulls the p= tag without tripping over sp=.
var dmarcPolicy = regexp.MustCompile(`(?:^|;)\s*p\s*=\s*([a-z]+)`)

// resolver abstracts dig/nslookup so the record evaluation is testable
// without a network.
type resolver interface {
	lookup(ctx context.Context, qtype, name string) ([]string, error)
}

// DNSModule audits a domain's mail and certificate guard rails: SPF,
// DKIM, DMARC, CAA and MX. IP targets have no DNS posture to audit and
// are skipped with an informational note.
type DNSModule struct {
	Timeout  time.Duration
	resolver resolver
}

func NewDNSModule() *DNSModule {
	m := &DNSModule{Timeout: dnsQueryTimeout}
	if path, err := exec.LookPath("dig"); err == nil {
		m.resolver = &digResolver{path: path}
	} else if path, err := exec.LookPath("nslookup"); err == nil {
		m.resolver = &nslookupResolver{path: path}
	}
	return m
}

func (m *DNSModule) Name() string      { return ModuleDNS }
func (m *DNSModule) Weight() int       { return 10 }
func (m *DNSModule) IsAvailable() bool { return m.resolver != nil }

func (m *DNSModule) Scan(ctx context.Context, target string, _ int) []models.ShieldFinding {
	if net.ParseIP(target) != nil {
		return []models.ShieldFinding{{
			Module:      ModuleDNS,
			Severity:    models.SeverityInfo,
			Title:       "DNS Checks Skipped",
			Description: fmt.Sprintf("%s is an IP address; SPF, DKIM, DMARC and CAA apply to domains only.", target),
			TargetIP:    target,
		}}
	}

	txt, err := m.query(ctx, "TXT", target)
	if err != nil {
		return []models.ShieldFinding{{
			Module:      ModuleDNS,
			Severity:    models.SeverityInfo,
			Title:       "DNS Resolution Failed",
			Description: fmt.Sprintf("TXT lookup for %s failed: %v", target, err),
		}}
	}

	var findings []models.ShieldFinding
	if f := evaluateSPF(target, txt); f != nil {
		findings = append(findings, *f)
	}

	// Sub-name lookups: a missing name errors on some resolvers, which
	// means the same thing as an empty answer here.
	dkim, _ := m.query(ctx, "TXT", "default._domainkey."+target)
	if f := evaluateDKIM(target, dkim); f != nil {
		findings = append(findings, *f)
	}

	dmarc, _ := m.query(ctx, "TXT", "_dmarc."+target)
	if f := evaluateDMARC(target, dmarc); f != nil {
		findings = append(findings, *f)
	}

	caa, _ := m.query(ctx, "CAA", target)
	if len(caa) == 0 {
		findings = append(findings, models.ShieldFinding{
			Module:      ModuleDNS,
			Severity:    models.SeverityLow,
			Title:       "CAA Record Missing",
			Description: fmt.Sprintf("%s has no CAA record; any certificate authority may issue for it.", target),
			Remediation: "Publish a CAA record naming your certificate authority.",
		})
	}

	mx, _ := m.query(ctx, "MX", target)
	if len(mx) > 0 {
		findings = append(findings, models.ShieldFinding{
			Module:      ModuleDNS,
			Severity:    models.SeverityInfo,
			Title:       "Mail Exchangers Present",
			Description: fmt.Sprintf("%s publishes %d MX record(s); the mail checks above apply.", target, len(mx)),
			Evidence:    map[string]any{"mx": mx},
		})
	}

	return findings
}

func (m *DNSModule) query(ctx context.Context, qtype, name string) ([]string, error) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = dnsQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.resolver.lookup(ctx, qtype, name)
}

func evaluateSPF(domain string, txt []string) *models.ShieldFinding {
	var spf string
	for _, r := range txt {
		if strings.HasPrefix(strings.ToLower(r), "v=spf1") {
			spf = r
			break
		}
	}
	if spf == "" {
		return &models.ShieldFinding{
			Module:      ModuleDNS,
			Severity:    models.SeverityHigh,
			Title:       "SPF Record Missing",
			Description: fmt.Sprintf("%s has no SPF record; anyone can send mail claiming to be this domain.", domain),
			Remediation: "Publish a TXT record starting with v=spf1 and ending in -all.",
		}
	}

	allMechanism := ""
	for _, field := range strings.Fields(strings.ToLower(spf)) {
		switch field {
		case "all", "+all", "-all", "~all", "?all":
			allMechanism = field
		}
	}

	switch allMechanism {
	case "-all":
		return nil
	case "~all":
		return &models.ShieldFinding{
			Module:      ModuleDNS,
			Severity:    models.SeverityLow,
			Title:       "SPF Soft-Fail Policy",
			Description: fmt.Sprintf("The SPF record for %s ends in ~all; forged mail is marked, not rejected.", domain),
			Remediation: "Tighten the SPF record to -all once legitimate senders are covered.",
			Evidence:    map[string]any{"spf": spf},
		}
	default:
		return &models.ShieldFinding{
			Module:      ModuleDNS,
			Severity:    models.SeverityMedium,
			Title:       "SPF Record Without Enforcement",
			Description: fmt.Sprintf("The SPF record for %s carries no strict all mechanism.", domain),
			Remediation: "End the SPF record with -all.",
			Evidence:    map[string]any{"spf": spf},
		}
	}
}

func evaluateDKIM(domain string, txt []string) *models.ShieldFinding {
	if len(txt) > 0 {
		return nil
	}
	return &models.ShieldFinding{
		Module:      ModuleDNS,
		Severity:    models.SeverityMedium,
		Title:       "DKIM Record Missing",
		Description: fmt.Sprintf("No DKIM key was found at default._domainkey.%s; recipients cannot verify message integrity.", domain),
		Remediation: "Publish a DKIM public key and sign outgoing mail.",
	}
}

func evaluateDMARC(domain string, txt []string) *models.ShieldFinding {
	var record string
	for _, r := range txt {
		if strings.HasPrefix(strings.ToLower(r), "v=dmarc1") {
			record = r
			break
		}
	}
	if record == "" {
		return &models.ShieldFinding{
			Module:      ModuleDNS,
			Severity:    models.SeverityHigh,
			Title:       "DMARC Record Missing",
			Description: fmt.Sprintf("%s publishes no DMARC policy; SPF and DKIM results are never enforced.", domain),
			Remediation: "Publish a _dmarc TXT record with at least p=quarantine.",
		}
	}

	policy := ""
	if m := dmarcPolicy.FindStringSubmatch(strings.ToLower(record)); m != nil {
		policy = m[1]
	}

	switch policy {
	case "reject":
		return nil
	case "quarantine":
		return &models.ShieldFinding{
			Module:      ModuleDNS,
			Severity:    models.SeverityLow,
			Title:       "DMARC Quarantine Policy",
			Description: fmt.Sprintf("The DMARC policy for %s is p=quarantine; forged mail lands in spam instead of being rejected.", domain),
			Remediation: "Move to p=reject once reports look clean.",
			Evidence:    map[string]any{"dmarc": record},
		}
	default:
		return &models.ShieldFinding{
			Module:      ModuleDNS,
			Severity:    models.SeverityHigh,
			Title:       "DMARC Policy Not Enforcing",
			Description: fmt.Sprintf("The DMARC policy for %s is %q; failures are only observed, never acted on.", domain, "p="+policyOrNone(policy)),
			Remediation: "Raise the DMARC policy to p=quarantine or p=reject.",
			Evidence:    map[string]any{"dmarc": record},
		}
	}
}

func policyOrNone(p string) string {
	if p == "" {
		return "none"
	}
	return p
}

type digResolver struct {
	path string
}

func (r *digResolver) lookup(ctx context.Context, qtype, name string) ([]string, error) {
	out, err := exec.CommandContext(ctx, r.path, "+short", qtype, name).Output()
	if err != nil {
		return nil, fmt.Errorf("dig %s %s: %w", qtype, name, err)
	}

	var records []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if qtype == "TXT" {
			// Long TXT records come back as multiple quoted chunks.
			line = strings.Trim(strings.ReplaceAll(line, `" "`, ""), `"`)
		}
		records = append(records, line)
	}
	return records, nil
}

type nslookupResolver struct {
	path string
}

func (r *nslookupResolver) lookup(ctx context.Context, qtype, name string) ([]string, error) {
	out, err := exec.CommandContext(ctx, r.path, "-type="+qtype, name).Output()
	if err != nil {
		return nil, fmt.Errorf("nslookup %s %s: %w", qtype, name, err)
	}

	var records []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		switch qtype {
		case "TXT":
			if _, after, found := strings.Cut(line, "text ="); found {
				records = append(records, strings.Trim(strings.TrimSpace(after), `"`))
			}
		case "MX":
			if _, after, found := strings.Cut(line, "mail exchanger ="); found {
				records = append(records, strings.TrimSpace(after))
			}
		case "CAA":
			if strings.Contains(line, "rdata_257") || strings.Contains(line, "issue") {
				records = append(records, line)
			}
		}
	}
	return records, nil
}
