package shield

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// certExpiryWarnDays is the window for the "expiring soon" warning;
// exactly 30 days out still warns.
const certExpiryWarnDays = 30

var weakTLSVersions = map[uint16]string{
	0x0300:           "SSLv3",
	tls.VersionTLS10: "TLSv1.0",
	tls.VersionTLS11: "TLSv1.1",
}

var weakCipherMarkers = []string{"RC4", "3DES", "DES", "NULL", "EXPORT", "MD5", "ANON", "RC2", "IDEA", "SEED"}

// TLSModule inspects the certificate and negotiated parameters of a TLS
// service. Sink, when set, receives the observed certificate for
// persistence; the module itself never touches storage.
type TLSModule struct {
	Timeout time.Duration
	Sink    func(ctx context.Context, cert *models.Certificate)
}

func NewTLSModule() *TLSModule {
	return &TLSModule{Timeout: dialTimeout}
}

func (m *TLSModule) Name() string      { return ModuleTLS }
func (m *TLSModule) Weight() int       { return 20 }
func (m *TLSModule) IsAvailable() bool { return true }

func (m *TLSModule) Scan(ctx context.Context, target string, port int) []models.ShieldFinding {
	if port == 0 {
		port = 443
	}
	addr := net.JoinHostPort(target, strconv.Itoa(port))

	cfg := &tls.Config{InsecureSkipVerify: true}
	if net.ParseIP(target) == nil {
		cfg.ServerName = target
	}
	dialer := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: m.timeout()},
		Config:    cfg,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return []models.ShieldFinding{{
			Module:      ModuleTLS,
			Severity:    models.SeverityInfo,
			Title:       "TLS Service Unreachable",
			Description: fmt.Sprintf("No TLS handshake could be completed with %s: %v", addr, err),
			TargetIP:    targetIPField(target),
			TargetPort:  port,
		}}
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	cert := state.PeerCertificates[0]

	var findings []models.ShieldFinding
	add := func(severity, title, description, remediation string, evidence map[string]any) {
		findings = append(findings, models.ShieldFinding{
			Module:      ModuleTLS,
			Severity:    severity,
			Title:       title,
			Description: description,
			Remediation: remediation,
			TargetIP:    targetIPField(target),
			TargetPort:  port,
			Evidence:    evidence,
		})
	}

	if name, weak := weakTLSVersions[state.Version]; weak {
		add(models.SeverityCritical, "Weak TLS Protocol",
			fmt.Sprintf("The service negotiated %s, which has known cryptographic weaknesses.", name),
			"Disable protocol versions below TLS 1.2 in the server configuration.",
			map[string]any{"protocol": name})
	}

	cipher := tls.CipherSuiteName(state.CipherSuite)
	for _, marker := range weakCipherMarkers {
		if strings.Contains(strings.ToUpper(cipher), marker) {
			add(models.SeverityHigh, "Weak Cipher Suite",
				fmt.Sprintf("The service negotiated the weak cipher suite %s.", cipher),
				"Restrict the cipher suite list to modern AEAD suites.",
				map[string]any{"cipher": cipher})
			break
		}
	}

	now := time.Now()
	if cert.NotAfter.Before(now) {
		add(models.SeverityCritical, "Certificate Expired",
			fmt.Sprintf("The certificate expired on %s.", cert.NotAfter.Format("2006-01-02")),
			"Renew the certificate immediately.",
			map[string]any{"not_after": cert.NotAfter.Format(time.RFC3339)})
	} else if days := int(math.Ceil(cert.NotAfter.Sub(now).Hours() / 24)); days <= certExpiryWarnDays {
		add(models.SeverityMedium, "Certificate Expiring Soon",
			fmt.Sprintf("The certificate expires in %d days (%s).", days, cert.NotAfter.Format("2006-01-02")),
			"Renew the certificate before it expires.",
			map[string]any{"days_remaining": days, "not_after": cert.NotAfter.Format(time.RFC3339)})
	}

	if chainErr := verifyChain(cert, state.PeerCertificates[1:]); chainErr != nil {
		if isSelfSigned(cert, state.PeerCertificates) {
			add(models.SeverityHigh, "Self-Signed Certificate",
				"The service presents a self-signed certificate that clients cannot verify.",
				"Install a certificate issued by a trusted authority.",
				map[string]any{"issuer": cert.Issuer.String()})
		} else {
			add(models.SeverityHigh, "Untrusted Certificate Chain",
				fmt.Sprintf("The certificate chain does not verify against trusted roots: %v", chainErr),
				"Serve the full intermediate chain from a trusted authority.",
				map[string]any{"issuer": cert.Issuer.String()})
		}
	}

	if rsaKey, ok := cert.PublicKey.(*rsa.PublicKey); ok && rsaKey.N.BitLen() < 2048 {
		add(models.SeverityHigh, "Weak Certificate Key",
			fmt.Sprintf("The certificate uses a %d-bit RSA key; keys below 2048 bits are factorable.", rsaKey.N.BitLen()),
			"Reissue the certificate with at least a 2048-bit key.",
			map[string]any{"key_bits": rsaKey.N.BitLen()})
	}

	if !certMatchesHost(cert, target) {
		add(models.SeverityMedium, "Certificate Hostname Mismatch",
			fmt.Sprintf("The certificate is not valid for %s.", target),
			"Reissue the certificate with the correct subject alternative names.",
			map[string]any{"dns_names": cert.DNSNames, "subject_cn": cert.Subject.CommonName})
	}

	if missing := m.hstsMissing(ctx, target, port); missing {
		add(models.SeverityLow, "HSTS Not Enabled",
			"The HTTPS response carries no Strict-Transport-Security header.",
			"Add a Strict-Transport-Security header with a max-age of at least one year.",
			nil)
	}

	if m.Sink != nil {
		sum := sha256.Sum256(cert.Raw)
		m.Sink(ctx, &models.Certificate{
			Host:        target,
			Port:        port,
			SubjectCN:   cert.Subject.CommonName,
			Issuer:      cert.Issuer.String(),
			NotBefore:   cert.NotBefore,
			NotAfter:    cert.NotAfter,
			Fingerprint: hex.EncodeToString(sum[:]),
			SeenAt:      time.Now().UTC(),
		})
	}

	return findings
}

func (m *TLSModule) timeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	return dialTimeout
}

// hstsMissing fetches the HTTPS response once and reports a missing
// Strict-Transport-Security header. Unreachable web layers are not the
// TLS module's business, so errors mean "nothing to report".
func (m *TLSModule) hstsMissing(ctx context.Context, target string, port int) bool {
	url := "https://" + net.JoinHostPort(target, strconv.Itoa(port))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := probeClient(httpTimeout).Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.Header.Get("Strict-Transport-Security") == ""
}

// verifyChain checks chain trust only; hostname matching is a separate
// finding with its own severity.
func verifyChain(cert *x509.Certificate, intermediates []*x509.Certificate) error {
	pool := x509.NewCertPool()
	for _, ic := range intermediates {
		pool.AddCert(ic)
	}
	_, err := cert.Verify(x509.VerifyOptions{Intermediates: pool})
	return err
}

func isSelfSigned(cert *x509.Certificate, chain []*x509.Certificate) bool {
	return len(chain) == 1 && string(cert.RawIssuer) == string(cert.RawSubject)
}

// certMatchesHost checks the target against the certificate's SANs (or
// legacy CN), honoring a single-label wildcard.
func certMatchesHost(cert *x509.Certificate, target string) bool {
	if ip := net.ParseIP(target); ip != nil {
		for _, san := range cert.IPAddresses {
			if san.Equal(ip) {
				return true
			}
		}
		return false
	}

	names := cert.DNSNames
	if len(names) == 0 && cert.Subject.CommonName != "" {
		names = []string{cert.Subject.CommonName}
	}
	host := strings.ToLower(strings.TrimSuffix(target, "."))
	for _, name := range names {
		if wildcardMatch(strings.ToLower(name), host) {
			return true
		}
	}
	return false
}

// wildcardMatch matches one leading "*." against exactly one label.
func wildcardMatch(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	suffix := pattern[1:] // ".example.com"
	if !strings.HasSuffix(host, suffix) {
		return false
	}
	return !strings.Contains(strings.TrimSuffix(host, suffix), ".")
}
