package shield

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/intel"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

type fakeVulnSource struct {
	cves    map[string][]intel.CVE // "vendor:product:version" -> results
	err     error
	lookups []string
}

func (f *fakeVulnSource) Lookup(_ context.Context, vendor, product, version string) ([]intel.CVE, error) {
	key := vendor + ":" + product + ":" + version
	f.lookups = append(f.lookups, key)
	if f.err != nil {
		return nil, f.err
	}
	return f.cves[key], nil
}

// serveBanner writes one banner line to every connection, imitating an
// SSH or SMTP greeting.
func serveBanner(t *testing.T, banner string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				c.Write([]byte(banner + "\r\n"))
				time.Sleep(100 * time.Millisecond)
				c.Close()
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestIdentifyService(t *testing.T) {
	tests := []struct {
		banner  string
		vendor  string
		product string
		version string
		ok      bool
	}{
		{"SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1", "openbsd", "openssh", "8.9p1", true},
		{"Server: nginx/1.18.0", "nginx", "nginx", "1.18.0", true},
		{"Apache/2.4.52 (Ubuntu)", "apache", "http_server", "2.4.52", true},
		{"Apache Tomcat/9.0.65", "apache", "tomcat", "9.0.65", true},
		{"220 ProFTPD 1.3.5 Server ready", "proftpd", "proftpd", "1.3.5", true},
		{"mysqld 5.7.42-0ubuntu0.18.04.1", "oracle", "mysql", "5.7.42", true},
		{"220 (vsFTPd 3.0.3)", "vsftpd_project", "vsftpd", "3.0.3", true},
		{"Microsoft-IIS/10.0", "microsoft", "iis", "10.0", true},
		{"totally unknown banner", "", "", "", false},
		{"nginx without a version", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.banner, func(t *testing.T) {
			vendor, product, version, ok := identifyService(tt.banner)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.vendor, vendor)
			assert.Equal(t, tt.product, product)
			assert.Equal(t, tt.version, version)
		})
	}
}

func TestCVEPriority(t *testing.T) {
	tests := []struct {
		name string
		cve  intel.CVE
		want string
	}{
		{"no cvss stays info", intel.CVE{ID: "CVE-1", HasCVSS: false, EPSS: 0.9, IsKEV: true}, models.SeverityInfo},
		{"critical cvss with high epss", intel.CVE{HasCVSS: true, CVSS: 9.8, EPSS: 0.6}, models.SeverityCritical},
		{"critical cvss in kev", intel.CVE{HasCVSS: true, CVSS: 9.1, IsKEV: true}, models.SeverityCritical},
		{"critical cvss alone is only high", intel.CVE{HasCVSS: true, CVSS: 9.8, EPSS: 0.1}, models.SeverityHigh},
		{"high cvss", intel.CVE{HasCVSS: true, CVSS: 7.5}, models.SeverityHigh},
		{"kev escalates moderate cvss", intel.CVE{HasCVSS: true, CVSS: 5.0, IsKEV: true}, models.SeverityHigh},
		{"likely exploited moderate cvss", intel.CVE{HasCVSS: true, CVSS: 5.0, EPSS: 0.35}, models.SeverityHigh},
		{"medium cvss", intel.CVE{HasCVSS: true, CVSS: 5.0, EPSS: 0.05}, models.SeverityMedium},
		{"low cvss", intel.CVE{HasCVSS: true, CVSS: 2.1}, models.SeverityLow},
		{"boundary 4.0 is medium", intel.CVE{HasCVSS: true, CVSS: 4.0}, models.SeverityMedium},
		{"boundary 7.0 is high", intel.CVE{HasCVSS: true, CVSS: 7.0}, models.SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cvePriority(tt.cve))
		})
	}
}

func TestCVEModuleScan(t *testing.T) {
	port := serveBanner(t, "SSH-2.0-OpenSSH_8.9p1")
	source := &fakeVulnSource{cves: map[string][]intel.CVE{
		"openbsd:openssh:8.9p1": {
			{ID: "CVE-2023-38408", Description: "PKCS#11 feature allows remote code execution.", HasCVSS: true, CVSS: 9.8, EPSS: 0.7, IsKEV: false},
			{ID: "CVE-2023-51385", Description: "OS command injection via shell metacharacters.", HasCVSS: true, CVSS: 6.5},
		},
	}}

	m := &CVEModule{Source: source, Ports: []int{port}, Timeout: time.Second}
	findings := m.Scan(context.Background(), "127.0.0.1", 0)

	require.Len(t, findings, 2)
	require.Len(t, source.lookups, 1, "one lookup per identified service")

	first, ok := findByTitle(findings, "CVE-2023-38408: openssh 8.9p1")
	require.True(t, ok)
	assert.Equal(t, models.SeverityCritical, first.Severity)
	assert.Equal(t, "CVE-2023-38408", first.CVEID)
	assert.Equal(t, 9.8, first.CVSSScore)
	assert.Equal(t, 0.7, first.EPSSScore)
	assert.Equal(t, "T1133", first.MitreTechnique)
	assert.Equal(t, "Persistence", first.MitreTactic)
	assert.Contains(t, first.Evidence["banner"], "OpenSSH_8.9p1")

	second, ok := findByTitle(findings, "CVE-2023-51385: openssh 8.9p1")
	require.True(t, ok)
	assert.Equal(t, models.SeverityMedium, second.Severity)
}

func TestCVEModuleWebProductTechnique(t *testing.T) {
	source := &fakeVulnSource{cves: map[string][]intel.CVE{
		"nginx:nginx:1.18.0": {{ID: "CVE-2021-23017", HasCVSS: true, CVSS: 7.7}},
	}}
	m := NewCVEModule(source)

	f := m.findingForCVE("10.0.0.5", 80, "nginx", "1.18.0", "Server: nginx/1.18.0",
		intel.CVE{ID: "CVE-2021-23017", HasCVSS: true, CVSS: 7.7})
	assert.Equal(t, "T1190", f.MitreTechnique)
	assert.Equal(t, "Initial Access", f.MitreTactic)
}

func TestCVEModuleFeedFailure(t *testing.T) {
	port := serveBanner(t, "SSH-2.0-OpenSSH_8.9p1")
	m := &CVEModule{
		Source:  &fakeVulnSource{err: errors.New("nvd circuit open")},
		Ports:   []int{port},
		Timeout: time.Second,
	}

	findings := m.Scan(context.Background(), "127.0.0.1", 0)
	require.Len(t, findings, 1)
	assert.Equal(t, models.SeverityInfo, findings[0].Severity)
	assert.Equal(t, "Vulnerability Feed Unavailable", findings[0].Title)
}

func TestCVEModuleUnidentifiedBanner(t *testing.T) {
	port := serveBanner(t, "hello from a mystery service")
	source := &fakeVulnSource{}
	m := &CVEModule{Source: source, Ports: []int{port}, Timeout: time.Second}

	findings := m.Scan(context.Background(), "127.0.0.1", 0)
	assert.Empty(t, findings)
	assert.Empty(t, source.lookups, "no CPE, no feed query")
}

func TestCVEModuleAvailability(t *testing.T) {
	assert.False(t, (&CVEModule{}).IsAvailable())
	assert.True(t, NewCVEModule(&fakeVulnSource{}).IsAvailable())
}
