package agent

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// Discoverer finds live assets on a target. The daemon uses TCPSweeper
// by default; tests and future probe backends plug in their own. Method
// names the technique for the scan_method field of pushed payloads.
type Discoverer interface {
	Discover(ctx context.Context, target string) ([]models.AssetObservation, error)
	Method() string
}

// maxSweepHosts caps how many hosts a single CIDR sweep will probe so a
// mistyped /8 cannot run for hours.
const maxSweepHosts = 256

// sweepPorts is the connect-probe set. Small on purpose: the sweep runs
// unprivileged on every cycle, so it trades coverage for speed.
var sweepPorts = []int{22, 23, 80, 135, 139, 443, 445, 3389, 8080, 9100}

// TCPSweeper discovers assets with plain TCP connect probes, the only
// method available without raw sockets.
type TCPSweeper struct {
	Ports       []int
	DialTimeout time.Duration
	Concurrency int
}

func NewTCPSweeper() *TCPSweeper {
	return &TCPSweeper{
		Ports:       sweepPorts,
		DialTimeout: 500 * time.Millisecond,
		Concurrency: 64,
	}
}

func (s *TCPSweeper) Method() string { return "tcp_connect" }

// Discover probes every host in target, a single IP or a CIDR. A host
// counts as alive when at least one probed port accepts a connection.
func (s *TCPSweeper) Discover(ctx context.Context, target string) ([]models.AssetObservation, error) {
	hosts, err := expandTarget(target)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		assets []models.AssetObservation
		wg     sync.WaitGroup
		sem    = make(chan struct{}, s.Concurrency)
	)
	for _, host := range hosts {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ip string) {
			defer wg.Done()
			defer func() { <-sem }()
			if asset, alive := s.probeHost(ctx, ip); alive {
				mu.Lock()
				assets = append(assets, asset)
				mu.Unlock()
			}
		}(host)
	}
	wg.Wait()

	sort.Slice(assets, func(i, j int) bool { return assets[i].IP < assets[j].IP })
	return assets, ctx.Err()
}

func (s *TCPSweeper) probeHost(ctx context.Context, ip string) (models.AssetObservation, bool) {
	dialer := net.Dialer{Timeout: s.DialTimeout}
	var open []int
	for _, port := range s.Ports {
		if ctx.Err() != nil {
			break
		}
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		conn.Close()
		open = append(open, port)
	}
	if len(open) == 0 {
		return models.AssetObservation{}, false
	}

	asset := models.AssetObservation{
		IP:              ip,
		Hostname:        reverseLookup(ctx, ip),
		OpenPorts:       open,
		ConfidenceScore: confidenceFor(open),
		BigrCategory:    categoryFor(open),
		OSHint:          osHintFor(open),
		RawEvidence:     map[string]any{"method": "tcp_connect"},
	}
	return asset, true
}

func reverseLookup(ctx context.Context, ip string) string {
	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(lookupCtx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

func confidenceFor(open []int) float64 {
	score := 0.5 + 0.1*float64(len(open))
	if score > 0.9 {
		score = 0.9
	}
	return score
}

// categoryFor and osHintFor give the server a starting classification
// from nothing but the open port set. Deliberately coarse.
func categoryFor(open []int) string {
	has := portSet(open)
	switch {
	case has[9100]:
		return "printer"
	case has[445] || has[3389] || has[135] || has[139]:
		return "computer"
	case has[22] || has[23]:
		return "network"
	case has[80] || has[443] || has[8080]:
		return "server"
	default:
		return ""
	}
}

func osHintFor(open []int) string {
	has := portSet(open)
	switch {
	case has[445] || has[3389] || has[135]:
		return "windows"
	case has[22]:
		return "linux"
	default:
		return ""
	}
}

func portSet(open []int) map[int]bool {
	m := make(map[int]bool, len(open))
	for _, p := range open {
		m[p] = true
	}
	return m
}

// expandTarget lists the host IPs a sweep of target covers: the address
// itself for a plain IP, or every usable host in a CIDR capped at
// maxSweepHosts. Network and broadcast addresses are skipped for masks
// shorter than /31.
func expandTarget(target string) ([]string, error) {
	if !strings.Contains(target, "/") {
		if net.ParseIP(target) == nil {
			return nil, fmt.Errorf("discovery target %q is not an IP or CIDR", target)
		}
		return []string{target}, nil
	}

	ip, ipNet, err := net.ParseCIDR(target)
	if err != nil {
		return nil, fmt.Errorf("discovery target %q: %w", target, err)
	}
	if ip.To4() == nil {
		return nil, fmt.Errorf("discovery target %q: only IPv4 ranges are swept", target)
	}

	ones, bits := ipNet.Mask.Size()
	skipEdges := bits-ones >= 2

	var hosts []string
	for cur := ip.Mask(ipNet.Mask).To4(); ipNet.Contains(cur); cur = nextIP(cur) {
		if skipEdges && (isNetworkAddr(cur, ipNet) || isBroadcastAddr(cur, ipNet)) {
			continue
		}
		hosts = append(hosts, cur.String())
		if len(hosts) >= maxSweepHosts {
			break
		}
	}
	return hosts, nil
}

func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

func isNetworkAddr(ip net.IP, ipNet *net.IPNet) bool {
	return ip.Equal(ip.Mask(ipNet.Mask))
}

func isBroadcastAddr(ip net.IP, ipNet *net.IPNet) bool {
	bcast := make(net.IP, len(ipNet.IP.To4()))
	copy(bcast, ipNet.IP.To4())
	for i := range bcast {
		bcast[i] |= ^ipNet.Mask[i]
	}
	return ip.Equal(bcast)
}
