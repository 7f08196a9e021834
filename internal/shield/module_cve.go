package shield

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/intel"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// VulnSource is what the CVE module needs from the intelligence layer;
// *intel.Service satisfies it.
type VulnSource interface {
	Lookup(ctx context.Context, vendor, product, version string) ([]intel.CVE, error)
}

// cveProbePorts is the service surface banner-grabbed when no explicit
// port is given.
var cveProbePorts = []int{21, 22, 25, 80, 110, 143, 443, 3306, 5432, 6379, 8080, 8443, 27017}

// versionPattern pulls a dotted version (optionally with an OpenSSH-style
// patch suffix) out of a banner, e.g. "nginx/1.18.0" or "OpenSSH_8.9p1".
var versionPattern = regexp.MustCompile(`[/_\s-]?(\d+(?:\.\d+)+(?:p\d+)?)`)

type serviceCPE struct {
	marker  string
	vendor  string
	product string
}

// cpeTable maps banner markers to NVD CPE vendor/product pairs. Order
// matters: more specific markers come first ("tomcat" before "apache").
var cpeTable = []serviceCPE{
	{"microsoft-iis", "microsoft", "iis"},
	{"openssh", "openbsd", "openssh"},
	{"nginx", "nginx", "nginx"},
	{"tomcat", "apache", "tomcat"},
	{"apache", "apache", "http_server"},
	{"lighttpd", "lighttpd", "lighttpd"},
	{"mariadb", "mariadb", "mariadb"},
	{"mysql", "oracle", "mysql"},
	{"postgresql", "postgresql", "postgresql"},
	{"postgres", "postgresql", "postgresql"},
	{"redis", "redis", "redis"},
	{"mongodb", "mongodb", "mongodb"},
	{"postfix", "postfix", "postfix"},
	{"exim", "exim", "exim"},
	{"vsftpd", "vsftpd_project", "vsftpd"},
	{"proftpd", "proftpd", "proftpd"},
	{"dovecot", "dovecot", "dovecot"},
}

var webProducts = map[string]bool{
	"nginx":       true,
	"http_server": true,
	"tomcat":      true,
	"iis":         true,
	"lighttpd":    true,
}

var remoteAccessProducts = map[string]bool{
	"openssh": true,
}

// CVEModule grabs service banners, maps them to CPEs and asks the
// vulnerability feeds what is known against each identified version.
type CVEModule struct {
	Source  VulnSource
	Ports   []int
	Timeout time.Duration
}

func NewCVEModule(source VulnSource) *CVEModule {
	return &CVEModule{Source: source, Timeout: dialTimeout}
}

func (m *CVEModule) Name() string      { return ModuleCVE }
func (m *CVEModule) Weight() int       { return 25 }
func (m *CVEModule) IsAvailable() bool { return m.Source != nil }

func (m *CVEModule) Scan(ctx context.Context, target string, port int) []models.ShieldFinding {
	ports := m.Ports
	if len(ports) == 0 {
		ports = cveProbePorts
	}
	if port > 0 {
		ports = []int{port}
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = dialTimeout
	}

	var findings []models.ShieldFinding
	seen := make(map[string]bool)
	feedDown := false

	for _, p := range ports {
		if ctx.Err() != nil {
			break
		}
		banner := grabBanner(ctx, target, p, timeout)
		if banner == "" {
			continue
		}

		vendor, product, version, ok := identifyService(banner)
		if !ok {
			continue
		}
		key := vendor + ":" + product + ":" + version
		if seen[key] {
			continue
		}
		seen[key] = true

		cves, err := m.Source.Lookup(ctx, vendor, product, version)
		if err != nil {
			if !feedDown {
				feedDown = true
				findings = append(findings, models.ShieldFinding{
					Module:      ModuleCVE,
					Severity:    models.SeverityInfo,
					Title:       "Vulnerability Feed Unavailable",
					Description: fmt.Sprintf("CVE lookup for %s %s failed: %v", product, version, err),
					TargetIP:    targetIPField(target),
					TargetPort:  p,
				})
			}
			continue
		}

		for _, cve := range cves {
			findings = append(findings, m.findingForCVE(target, p, product, version, banner, cve))
		}
	}
	return findings
}

func (m *CVEModule) findingForCVE(target string, port int, product, version, banner string, cve intel.CVE) models.ShieldFinding {
	f := models.ShieldFinding{
		Module:      ModuleCVE,
		Severity:    cvePriority(cve),
		Title:       fmt.Sprintf("%s: %s %s", cve.ID, product, version),
		Description: cve.Description,
		Remediation: fmt.Sprintf("Update %s beyond version %s or apply the vendor patch for %s.", product, version, cve.ID),
		TargetIP:    targetIPField(target),
		TargetPort:  port,
		CVEID:       cve.ID,
		CVSSScore:   cve.CVSS,
		EPSSScore:   cve.EPSS,
		IsKEV:       cve.IsKEV,
		Evidence: map[string]any{
			"banner":  banner,
			"product": product,
			"version": version,
		},
	}
	switch {
	case webProducts[product]:
		f.MitreTechnique = "T1190"
		f.MitreTactic = "Initial Access"
	case remoteAccessProducts[product]:
		f.MitreTechnique = "T1133"
		f.MitreTactic = "Persistence"
	}
	return f
}

// cvePriority folds CVSS, exploit probability and in-the-wild status into
// one severity. Knowing a CVE's score matters: scoreless records stay
// informational rather than guessing.
func cvePriority(c intel.CVE) string {
	switch {
	case !c.HasCVSS:
		return models.SeverityInfo
	case c.CVSS >= 9.0 && (c.EPSS >= 0.5 || c.IsKEV):
		return models.SeverityCritical
	case c.CVSS >= 7.0 || c.IsKEV || (c.EPSS >= 0.3 && c.CVSS >= 4.0):
		return models.SeverityHigh
	case c.CVSS >= 4.0:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// identifyService maps a banner to (vendor, product, version). Without a
// recognizable product and version there is no CPE to query.
func identifyService(banner string) (vendor, product, version string, ok bool) {
	lower := strings.ToLower(banner)
	for _, entry := range cpeTable {
		idx := strings.Index(lower, entry.marker)
		if idx < 0 {
			continue
		}
		match := versionPattern.FindStringSubmatch(lower[idx:])
		if match == nil {
			return "", "", "", false
		}
		return entry.vendor, entry.product, match[1], true
	}
	return "", "", "", false
}
