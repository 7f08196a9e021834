package agent

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// Fingerprint inspects the local interfaces and routing table so each
// push can say which network it came from. Everything here is best
// effort: a box with no usable interface still yields an empty (non-nil)
// fingerprint.
func Fingerprint() *models.NetworkFingerprint {
	fp := &models.NetworkFingerprint{}

	ifaces, err := net.Interfaces()
	if err != nil {
		return fp
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if fp.LocalIP == "" {
				fp.Interface = iface.Name
				fp.LocalIP = ip4.String()
			}
			fp.CIDRs = append(fp.CIDRs, ipNet.String())
		}
	}

	fp.Gateway = defaultGateway()
	return fp
}

// defaultGateway reads the kernel routing table. The gateway column is
// a little-endian hex IPv4; a missing or unreadable table just means no
// gateway in the fingerprint.
func defaultGateway() string {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		if gw := parseRouteHex(fields[2]); gw != "" {
			return gw
		}
	}
	return ""
}

func parseRouteHex(hex string) string {
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || v == 0 {
		return ""
	}
	ip := net.IPv4(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	return ip.String()
}
