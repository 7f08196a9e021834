package shield

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Probe timeouts shared by the modules. TLS handshakes get the short
// dial budget; full HTTP exchanges get the long one.
const (
	dialTimeout = 5 * time.Second
	httpTimeout = 15 * time.Second
)

var httpPorts = map[int]bool{80: true, 443: true, 8080: true, 8443: true}

// probeClient returns an HTTP client suited to security probing: bounded,
// redirect-stopping, and tolerant of broken certificates (the TLS module
// judges those separately).
func probeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		},
	}
}

// resolveBaseURL finds the web origin for a target: HTTPS first, HTTP as
// fallback. With port 0 the scheme defaults apply; an explicit port is
// tried with both schemes.
func resolveBaseURL(ctx context.Context, client *http.Client, target string, port int) (string, error) {
	var candidates []string
	if port > 0 {
		host := net.JoinHostPort(target, strconv.Itoa(port))
		candidates = []string{"https://" + host, "http://" + host}
	} else {
		candidates = []string{"https://" + target, "http://" + target}
	}

	var lastErr error
	for _, base := range candidates {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/", nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		return base, nil
	}
	return "", fmt.Errorf("no web service on %s: %w", target, lastErr)
}

// portOpen reports whether a TCP connect to target:port succeeds.
func portOpen(ctx context.Context, target string, port int, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// grabBanner reads whatever a service volunteers on connect. HTTP ports
// are asked politely with a HEAD and identified by their Server header;
// everything else gets a raw read with a short deadline (SSH, SMTP and
// FTP all banner unprompted).
func grabBanner(ctx context.Context, target string, port int, timeout time.Duration) string {
	if httpPorts[port] {
		scheme := "http"
		if port == 443 || port == 8443 {
			scheme = "https"
		}
		url := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(target, strconv.Itoa(port)))
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return ""
		}
		resp, err := probeClient(timeout).Do(req)
		if err != nil {
			return ""
		}
		resp.Body.Close()
		return resp.Header.Get("Server")
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return ""
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1024)
	n, _ := conn.Read(buf)
	return strings.TrimSpace(string(buf[:n]))
}

// targetIPField returns the target when it is a literal IP, for the
// finding's asset linkage; domain findings carry no target_ip.
func targetIPField(target string) string {
	if ip := net.ParseIP(target); ip != nil {
		return target
	}
	return ""
}
