package shield

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// credsAttemptBudget caps connection attempts per service category per
// scan. This module probes authentication surfaces; hammering them would
// look like the attack it warns about.
const credsAttemptBudget = 3

var adminPaths = []string{"/admin", "/wp-admin", "/phpmyadmin"}

var bannerServices = []struct {
	port int
	name string
}{
	{22, "SSH"},
	{21, "FTP"},
	{3306, "MySQL"},
	{5432, "PostgreSQL"},
}

// CredsModule checks for services that accept connections without
// credentials and for reachable authentication surfaces worth
// brute-forcing. All probes are read-only: nothing is ever written to a
// data store and no login is ever attempted.
type CredsModule struct {
	Timeout   time.Duration
	WebPorts  []int
	RedisPort int
	MongoPort int
}

func NewCredsModule() *CredsModule {
	return &CredsModule{
		Timeout:   dialTimeout,
		WebPorts:  []int{80, 443, 8080, 8443},
		RedisPort: 6379,
		MongoPort: 27017,
	}
}

func (m *CredsModule) Name() string      { return ModuleCreds }
func (m *CredsModule) Weight() int       { return 10 }
func (m *CredsModule) IsAvailable() bool { return true }

func (m *CredsModule) Scan(ctx context.Context, target string, port int) []models.ShieldFinding {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = dialTimeout
	}

	budget := map[string]int{"redis": credsAttemptBudget, "mongodb": credsAttemptBudget,
		"web": credsAttemptBudget, "banner": credsAttemptBudget}
	spend := func(category string) bool {
		if budget[category] <= 0 {
			return false
		}
		budget[category]--
		return true
	}

	var findings []models.ShieldFinding

	if spend("redis") {
		if reply := redisPing(ctx, target, m.redisPort(), timeout); strings.HasPrefix(reply, "+PONG") {
			findings = append(findings, models.ShieldFinding{
				Module:      ModuleCreds,
				Severity:    models.SeverityCritical,
				Title:       "Unauthenticated Redis Access",
				Description: fmt.Sprintf("Redis on %s:%d answers PING without authentication; all keys are readable and writable.", target, m.redisPort()),
				Remediation: "Set requirepass (or enable ACLs) and bind Redis to localhost.",
				TargetIP:    targetIPField(target),
				TargetPort:  m.redisPort(),
				Evidence:    map[string]any{"reply": strings.TrimSpace(reply)},
			})
		}
	}

	if spend("mongodb") {
		if volunteered := readOnConnect(ctx, target, m.mongoPort(), timeout); volunteered != "" {
			findings = append(findings, models.ShieldFinding{
				Module:      ModuleCreds,
				Severity:    models.SeverityCritical,
				Title:       "Unauthenticated MongoDB Access",
				Description: fmt.Sprintf("MongoDB on %s:%d returned data to an unauthenticated connection.", target, m.mongoPort()),
				Remediation: "Enable authorization in mongod.conf and bind MongoDB to localhost.",
				TargetIP:    targetIPField(target),
				TargetPort:  m.mongoPort(),
			})
		}
	}

	client := probeClient(timeout)
webAdmin:
	for _, webPort := range m.webPorts() {
		for _, path := range adminPaths {
			if !spend("web") {
				break webAdmin
			}
			url, ok := m.fetchAdminPath(ctx, client, target, webPort, path)
			if !ok {
				continue
			}
			findings = append(findings, models.ShieldFinding{
				Module:      ModuleCreds,
				Severity:    models.SeverityHigh,
				Title:       fmt.Sprintf("Exposed Admin Interface: %s", path),
				Description: fmt.Sprintf("%s serves an administrative interface without network-level protection.", url),
				Remediation: "Restrict the path by source IP or move it behind an authenticating proxy.",
				TargetIP:    targetIPField(target),
				TargetPort:  webPort,
				Evidence:    map[string]any{"url": url},
			})
		}
	}

	for _, svc := range bannerServices {
		if !spend("banner") {
			break
		}
		banner := grabBanner(ctx, target, svc.port, timeout)
		if banner == "" {
			continue
		}
		findings = append(findings, models.ShieldFinding{
			Module:      ModuleCreds,
			Severity:    models.SeverityMedium,
			Title:       fmt.Sprintf("Credential Attack Surface: %s", svc.name),
			Description: fmt.Sprintf("%s on %s:%d accepts connections from this network and can be brute-forced.", svc.name, target, svc.port),
			Remediation: fmt.Sprintf("Limit %s access by source IP and enforce lockout or key-based auth.", svc.name),
			TargetIP:    targetIPField(target),
			TargetPort:  svc.port,
			Evidence:    map[string]any{"banner": banner},
		})
	}

	return findings
}

func (m *CredsModule) fetchAdminPath(ctx context.Context, client *http.Client, target string, port int, path string) (string, bool) {
	scheme := "http"
	if port == 443 || port == 8443 {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(target, strconv.Itoa(port)), path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return url, len(body) > 0
}

// redisPing speaks just enough RESP to ask for a PING.
func redisPing(ctx context.Context, target string, port int, timeout time.Duration) string {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return ""
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte("PING\r\n")); err != nil {
		return ""
	}
	buf := make([]byte, 64)
	n, _ := conn.Read(buf)
	return string(buf[:n])
}

// readOnConnect dials and waits for unsolicited data. No handshake is
// spoken; a hardened server simply stays silent until the deadline.
func readOnConnect(ctx context.Context, target string, port int, timeout time.Duration) string {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return ""
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 256)
	n, _ := conn.Read(buf)
	return strings.TrimSpace(string(buf[:n]))
}

func (m *CredsModule) redisPort() int {
	if m.RedisPort > 0 {
		return m.RedisPort
	}
	return 6379
}

func (m *CredsModule) mongoPort() int {
	if m.MongoPort > 0 {
		return m.MongoPort
	}
	return 27017
}

func (m *CredsModule) webPorts() []int {
	if len(m.WebPorts) > 0 {
		return m.WebPorts
	}
	return []int{80, 443, 8080, 8443}
}
