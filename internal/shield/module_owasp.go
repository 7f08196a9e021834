package shield

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// sqlErrorMarkers are database error fragments that leak through when a
// quote breaks a query.
var sqlErrorMarkers = []string{
	"sql syntax",
	"mysql_fetch",
	"you have an error in your sql",
	"unclosed quotation mark",
	"ora-01756",
	"ora-00933",
	"sqlite3.operationalerror",
	"pg_query",
	"psql:",
	"odbc sql server driver",
}

var traversalPayloads = []string{
	"../../etc/passwd",
	"....//....//etc/passwd",
	"..%2f..%2f..%2fetc%2fpasswd",
}

var disclosurePaths = []string{
	"/.env",
	"/.git/HEAD",
	"/phpinfo.php",
	"/server-status",
	"/debug",
	"/wp-config.php.bak",
}

const (
	xssPayload     = "<script>alert(1)</script>"
	redirectTarget = "https://evil.example.com"
)

// OWASPModule probes a web application for the classic injection and
// exposure classes, strictly via GET requests with inert payloads.
// Nothing here authenticates, mutates data or exploits anything; the
// probes only watch how the application reflects and reveals.
type OWASPModule struct {
	Timeout time.Duration
}

func NewOWASPModule() *OWASPModule {
	return &OWASPModule{Timeout: httpTimeout}
}

func (m *OWASPModule) Name() string      { return ModuleOWASP }
func (m *OWASPModule) Weight() int       { return 5 }
func (m *OWASPModule) IsAvailable() bool { return true }

func (m *OWASPModule) Scan(ctx context.Context, target string, port int) []models.ShieldFinding {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = httpTimeout
	}
	client := probeClient(timeout)

	base, err := resolveBaseURL(ctx, client, target, port)
	if err != nil {
		return []models.ShieldFinding{{
			Module:      ModuleOWASP,
			Severity:    models.SeverityInfo,
			Title:       "No Web Service Detected",
			Description: fmt.Sprintf("Neither HTTPS nor HTTP answered on %s: %v", target, err),
			TargetIP:    targetIPField(target),
			TargetPort:  port,
		}}
	}

	var findings []models.ShieldFinding
	add := func(f *models.ShieldFinding) {
		if f != nil {
			f.Module = ModuleOWASP
			f.TargetIP = targetIPField(target)
			f.TargetPort = port
			findings = append(findings, *f)
		}
	}

	add(m.checkSQLi(ctx, client, base))
	add(m.checkXSS(ctx, client, base))
	add(m.checkTraversal(ctx, client, base))
	for _, f := range m.checkDisclosure(ctx, client, base) {
		f := f
		add(&f)
	}
	add(m.checkOpenRedirect(ctx, client, base))

	return findings
}

func (m *OWASPModule) checkSQLi(ctx context.Context, client *http.Client, base string) *models.ShieldFinding {
	probe := base + "/?id=" + url.QueryEscape("' OR 1=1--")
	_, body, err := m.get(ctx, client, probe)
	if err != nil {
		return nil
	}

	lower := strings.ToLower(body)
	for _, marker := range sqlErrorMarkers {
		if strings.Contains(lower, marker) {
			return &models.ShieldFinding{
				Severity:    models.SeverityCritical,
				Title:       "SQL Injection: Error-Based Indicators",
				Description: fmt.Sprintf("A quoted probe parameter surfaced a database error (%q); input reaches SQL unescaped.", marker),
				Remediation: "Use parameterized queries everywhere and disable verbose database errors.",
				Evidence:    map[string]any{"url": probe, "marker": marker},
			}
		}
	}
	return nil
}

func (m *OWASPModule) checkXSS(ctx context.Context, client *http.Client, base string) *models.ShieldFinding {
	probe := base + "/?q=" + url.QueryEscape(xssPayload)
	_, body, err := m.get(ctx, client, probe)
	if err != nil {
		return nil
	}

	if strings.Contains(body, xssPayload) {
		return &models.ShieldFinding{
			Severity:    models.SeverityHigh,
			Title:       "Reflected Cross-Site Scripting",
			Description: "A script tag passed as a query parameter came back unescaped in the response body.",
			Remediation: "HTML-encode user input on output and deploy a Content-Security-Policy.",
			Evidence:    map[string]any{"url": probe},
		}
	}
	return nil
}

func (m *OWASPModule) checkTraversal(ctx context.Context, client *http.Client, base string) *models.ShieldFinding {
	for _, payload := range traversalPayloads {
		probe := base + "/?file=" + url.QueryEscape(payload)
		_, body, err := m.get(ctx, client, probe)
		if err != nil {
			continue
		}
		if strings.Contains(body, "root:x:") || strings.Contains(body, "root:0:0") {
			return &models.ShieldFinding{
				Severity:    models.SeverityCritical,
				Title:       "Path Traversal",
				Description: "A file parameter walked out of the web root and returned /etc/passwd.",
				Remediation: "Canonicalize file paths server-side and reject any path containing traversal sequences.",
				Evidence:    map[string]any{"url": probe, "payload": payload},
			}
		}
	}
	return nil
}

func (m *OWASPModule) checkDisclosure(ctx context.Context, client *http.Client, base string) []models.ShieldFinding {
	var findings []models.ShieldFinding
	for _, path := range disclosurePaths {
		probe := base + path
		resp, body, err := m.get(ctx, client, probe)
		if err != nil || resp.StatusCode != http.StatusOK || len(body) == 0 {
			continue
		}
		findings = append(findings, models.ShieldFinding{
			Severity:    models.SeverityHigh,
			Title:       fmt.Sprintf("Sensitive Path Exposed: %s", path),
			Description: fmt.Sprintf("%s answers with content; these paths typically hold secrets, internals or debug output.", probe),
			Remediation: fmt.Sprintf("Block %s at the web server and remove the file from the web root.", path),
			Evidence:    map[string]any{"url": probe, "bytes": len(body)},
		})
	}
	return findings
}

func (m *OWASPModule) checkOpenRedirect(ctx context.Context, client *http.Client, base string) *models.ShieldFinding {
	probe := base + "/?url=" + url.QueryEscape(redirectTarget)
	resp, _, err := m.get(ctx, client, probe)
	if err != nil {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		if loc := resp.Header.Get("Location"); strings.HasPrefix(loc, redirectTarget) {
			return &models.ShieldFinding{
				Severity:    models.SeverityMedium,
				Title:       "Open Redirect",
				Description: fmt.Sprintf("The url parameter redirects visitors to an arbitrary external site (%s).", loc),
				Remediation: "Validate redirect destinations against an allow-list of internal paths.",
				Evidence:    map[string]any{"url": probe, "location": loc},
			}
		}
	}
	return nil
}

func (m *OWASPModule) get(ctx context.Context, client *http.Client, probe string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp, string(body), nil
}
