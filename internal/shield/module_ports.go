package shield

import (
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"sort"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// nmapTimeout bounds one port sweep; a slow or filtered target becomes a
// finding, not a hung scan.
const nmapTimeout = 120 * time.Second

// excessivePortLimit is the open-port count above which exposure itself
// is flagged. Exactly this many is still fine.
const excessivePortLimit = 10

var dangerousPorts = map[int]string{
	21:    "FTP",
	23:    "Telnet",
	445:   "SMB",
	3389:  "RDP",
	27017: "MongoDB",
	6379:  "Redis",
	5432:  "PostgreSQL",
	3306:  "MySQL",
	11211: "Memcached",
	9200:  "Elasticsearch",
}

var expectedPorts = map[int]string{
	22:  "SSH",
	80:  "HTTP",
	443: "HTTPS",
}

// PortsModule sweeps the top 1000 TCP ports with nmap and grades the
// exposure. Unavailable when nmap is not installed.
type PortsModule struct {
	NmapPath string
	Timeout  time.Duration
}

func NewPortsModule() *PortsModule {
	path, _ := exec.LookPath("nmap")
	return &PortsModule{NmapPath: path, Timeout: nmapTimeout}
}

func (m *PortsModule) Name() string      { return ModulePorts }
func (m *PortsModule) Weight() int       { return 20 }
func (m *PortsModule) IsAvailable() bool { return m.NmapPath != "" }

func (m *PortsModule) Scan(ctx context.Context, target string, port int) []models.ShieldFinding {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = nmapTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-sT", "--top-ports", "1000", "-sV", "-oX", "-"}
	if port > 0 {
		args = []string{"-sT", "-p", fmt.Sprint(port), "-sV", "-oX", "-"}
	}
	args = append(args, target)

	out, err := exec.CommandContext(ctx, m.NmapPath, args...).Output()
	if ctx.Err() == context.DeadlineExceeded {
		return []models.ShieldFinding{{
			Module:      ModulePorts,
			Severity:    models.SeverityMedium,
			Title:       "Port Scan Timeout",
			Description: fmt.Sprintf("The port sweep of %s did not finish within %s; the host may be rate limiting or dropping probes.", target, timeout),
			Remediation: "Re-run the scan during a quiet window or narrow the port range.",
			TargetIP:    targetIPField(target),
		}}
	}
	if err != nil {
		return []models.ShieldFinding{{
			Module:      ModulePorts,
			Severity:    models.SeverityInfo,
			Title:       "Port Scan Error",
			Description: fmt.Sprintf("nmap against %s failed: %v", target, err),
			TargetIP:    targetIPField(target),
		}}
	}

	ports, err := parseNmapXML(out)
	if err != nil {
		return []models.ShieldFinding{{
			Module:      ModulePorts,
			Severity:    models.SeverityInfo,
			Title:       "Port Scan Error",
			Description: fmt.Sprintf("nmap output for %s could not be parsed: %v", target, err),
			TargetIP:    targetIPField(target),
		}}
	}
	return findingsFromPorts(target, ports)
}

type openPort struct {
	Port    int
	Service string
	Product string
	Version string
}

type nmapRun struct {
	XMLName xml.Name   `xml:"nmaprun"`
	Hosts   []nmapHost `xml:"host"`
}

type nmapHost struct {
	Ports struct {
		Ports []nmapPort `xml:"port"`
	} `xml:"ports"`
}

type nmapPort struct {
	Protocol string `xml:"protocol,attr"`
	PortID   int    `xml:"portid,attr"`
	State    struct {
		State string `xml:"state,attr"`
	} `xml:"state"`
	Service struct {
		Name    string `xml:"name,attr"`
		Product string `xml:"product,attr"`
		Version string `xml:"version,attr"`
	} `xml:"service"`
}

func parseNmapXML(data []byte) ([]openPort, error) {
	var run nmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return nil, err
	}

	var out []openPort
	for _, host := range run.Hosts {
		for _, p := range host.Ports.Ports {
			if p.Protocol != "tcp" || p.State.State != "open" {
				continue
			}
			out = append(out, openPort{
				Port:    p.PortID,
				Service: p.Service.Name,
				Product: p.Service.Product,
				Version: p.Service.Version,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

// findingsFromPorts grades a port inventory: known-dangerous services are
// high, expected admin/web ports are informational, anything else is low.
// A wide-open host earns an extra medium on top.
func findingsFromPorts(target string, ports []openPort) []models.ShieldFinding {
	var findings []models.ShieldFinding
	for _, p := range ports {
		evidence := map[string]any{"port": p.Port}
		if p.Service != "" {
			evidence["service"] = p.Service
		}
		if p.Product != "" {
			evidence["product"] = p.Product
		}
		if p.Version != "" {
			evidence["version"] = p.Version
		}

		switch {
		case dangerousPorts[p.Port] != "":
			findings = append(findings, models.ShieldFinding{
				Module:      ModulePorts,
				Severity:    models.SeverityHigh,
				Title:       fmt.Sprintf("Dangerous Service Exposed: %s", dangerousPorts[p.Port]),
				Description: fmt.Sprintf("Port %d (%s) is reachable; this service should never face the network unprotected.", p.Port, dangerousPorts[p.Port]),
				Remediation: fmt.Sprintf("Block port %d at the firewall or bind the service to localhost.", p.Port),
				TargetIP:    targetIPField(target),
				TargetPort:  p.Port,
				Evidence:    evidence,
			})
		case expectedPorts[p.Port] != "":
			findings = append(findings, models.ShieldFinding{
				Module:      ModulePorts,
				Severity:    models.SeverityInfo,
				Title:       fmt.Sprintf("Open Common Port: %s", expectedPorts[p.Port]),
				Description: fmt.Sprintf("Port %d (%s) is open.", p.Port, expectedPorts[p.Port]),
				TargetIP:    targetIPField(target),
				TargetPort:  p.Port,
				Evidence:    evidence,
			})
		default:
			findings = append(findings, models.ShieldFinding{
				Module:      ModulePorts,
				Severity:    models.SeverityLow,
				Title:       fmt.Sprintf("Unexpected Open Port: %d", p.Port),
				Description: fmt.Sprintf("Port %d is open and not in the expected service set.", p.Port),
				Remediation: "Close the port if the service behind it is not required.",
				TargetIP:    targetIPField(target),
				TargetPort:  p.Port,
				Evidence:    evidence,
			})
		}
	}

	if len(ports) > excessivePortLimit {
		findings = append(findings, models.ShieldFinding{
			Module:      ModulePorts,
			Severity:    models.SeverityMedium,
			Title:       "Excessive Open Ports",
			Description: fmt.Sprintf("%d open ports were found; a large surface multiplies attack paths.", len(ports)),
			Remediation: "Review the service inventory and close everything not in active use.",
			TargetIP:    targetIPField(target),
			Evidence:    map[string]any{"open_ports": len(ports)},
		})
	}
	return findings
}
