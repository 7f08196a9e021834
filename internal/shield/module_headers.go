package shield

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// requiredHeaders is checked against the live response; each absence is
// its own finding with its own severity.
var requiredHeaders = []struct {
	name        string
	severity    string
	description string
	remediation string
}{
	{
		"Strict-Transport-Security",
		models.SeverityHigh,
		"Without HSTS, clients can be downgraded to plaintext HTTP by an active attacker.",
		"Send Strict-Transport-Security with a max-age of at least one year.",
	},
	{
		"Content-Security-Policy",
		models.SeverityMedium,
		"Without a CSP, injected scripts run with full page privileges.",
		"Define a Content-Security-Policy restricting script and frame sources.",
	},
	{
		"X-Frame-Options",
		models.SeverityMedium,
		"Without framing protection the site can be embedded for clickjacking.",
		"Send X-Frame-Options: DENY (or a frame-ancestors CSP directive).",
	},
	{
		"X-Content-Type-Options",
		models.SeverityLow,
		"Without nosniff, browsers may MIME-sniff responses into executable types.",
		"Send X-Content-Type-Options: nosniff.",
	},
	{
		"Referrer-Policy",
		models.SeverityLow,
		"Without a referrer policy, full URLs leak to third-party destinations.",
		"Send Referrer-Policy: strict-origin-when-cross-origin or stricter.",
	},
	{
		"Permissions-Policy",
		models.SeverityLow,
		"Without a permissions policy, embedded content can request powerful browser features.",
		"Send a Permissions-Policy disabling unneeded features.",
	},
}

// versionRevealing matches Server values that disclose software versions,
// e.g. "nginx/1.18.0" or "Apache 2.4.41".
var versionRevealing = regexp.MustCompile(`/|\d+\.\d+`)

// HeadersModule grades the security response headers of the target's web
// layer. HTTPS is tried first, plain HTTP as fallback; a server that
// rejects HEAD is retried with GET.
type HeadersModule struct {
	Timeout time.Duration
}

func NewHeadersModule() *HeadersModule {
	return &HeadersModule{Timeout: httpTimeout}
}

func (m *HeadersModule) Name() string      { return ModuleHeaders }
func (m *HeadersModule) Weight() int       { return 10 }
func (m *HeadersModule) IsAvailable() bool { return true }

func (m *HeadersModule) Scan(ctx context.Context, target string, port int) []models.ShieldFinding {
	resp, base, err := m.fetch(ctx, target, port)
	if err != nil {
		return []models.ShieldFinding{{
			Module:      ModuleHeaders,
			Severity:    models.SeverityInfo,
			Title:       "No Web Service Detected",
			Description: fmt.Sprintf("Neither HTTPS nor HTTP answered on %s: %v", target, err),
			TargetIP:    targetIPField(target),
			TargetPort:  port,
		}}
	}
	resp.Body.Close()

	var findings []models.ShieldFinding
	for _, h := range requiredHeaders {
		if resp.Header.Get(h.name) != "" {
			continue
		}
		findings = append(findings, models.ShieldFinding{
			Module:      ModuleHeaders,
			Severity:    h.severity,
			Title:       fmt.Sprintf("Missing Security Header: %s", h.name),
			Description: h.description,
			Remediation: h.remediation,
			TargetIP:    targetIPField(target),
			TargetPort:  port,
			Evidence:    map[string]any{"url": base},
		})
	}

	if server := resp.Header.Get("Server"); server != "" && versionRevealing.MatchString(server) {
		findings = append(findings, models.ShieldFinding{
			Module:      ModuleHeaders,
			Severity:    models.SeverityLow,
			Title:       "Server Version Disclosure",
			Description: fmt.Sprintf("The Server header reveals the software build: %q.", server),
			Remediation: "Strip or genericize the Server header.",
			TargetIP:    targetIPField(target),
			TargetPort:  port,
			Evidence:    map[string]any{"server": server},
		})
	}

	if powered := resp.Header.Get("X-Powered-By"); powered != "" {
		findings = append(findings, models.ShieldFinding{
			Module:      ModuleHeaders,
			Severity:    models.SeverityLow,
			Title:       "Technology Disclosure: X-Powered-By",
			Description: fmt.Sprintf("The X-Powered-By header advertises the backend stack: %q.", powered),
			Remediation: "Remove the X-Powered-By header.",
			TargetIP:    targetIPField(target),
			TargetPort:  port,
			Evidence:    map[string]any{"x_powered_by": powered},
		})
	}

	return findings
}

func (m *HeadersModule) fetch(ctx context.Context, target string, port int) (*http.Response, string, error) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = httpTimeout
	}
	client := probeClient(timeout)

	var bases []string
	if port > 0 {
		host := net.JoinHostPort(target, strconv.Itoa(port))
		bases = []string{"https://" + host, "http://" + host}
	} else {
		bases = []string{"https://" + target, "http://" + target}
	}

	var lastErr error
	for _, base := range bases {
		resp, err := m.request(ctx, client, http.MethodHead, base)
		if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
			resp.Body.Close()
			resp, err = m.request(ctx, client, http.MethodGet, base)
		}
		if err != nil {
			lastErr = err
			continue
		}
		return resp, base, nil
	}
	return nil, "", lastErr
}

func (m *HeadersModule) request(ctx context.Context, client *http.Client, method, base string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, base+"/", nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}
