// Package shield runs security assessment modules against a target and
// folds their findings into a weighted posture score. Modules are
// self-contained probes (TLS, ports, CVE, headers, DNS, credentials,
// OWASP); the orchestrator fans them out concurrently and the registry
// decides which of them a given depth and sensitivity allows.
package shield

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// Canonical module names. Weights live with the implementations; the
// composite score re-normalizes over whichever modules actually ran.
const (
	ModuleTLS     = "tls"
	ModulePorts   = "ports"
	ModuleCVE     = "cve"
	ModuleHeaders = "headers"
	ModuleDNS     = "dns"
	ModuleCreds   = "creds"
	ModuleOWASP   = "owasp"
)

// Module is one security probe. Implementations must be safe for
// concurrent use: the orchestrator runs every enabled module in its own
// goroutine against the same target.
//
// Scan never returns an error; a module that cannot reach its target
// reports that as findings (or none). Port is optional; 0 means the
// module picks its own defaults.
type Module interface {
	// Name returns the module's unique identifier
	Name() string

	// Weight is the module's share of the composite score
	Weight() int

	// IsAvailable reports whether the module can run on this host
	// (external tools present, etc.)
	IsAvailable() bool

	// Scan probes the target and returns findings
	Scan(ctx context.Context, target string, port int) []models.ShieldFinding
}

// ModuleInfo describes a registered module (for API responses)
type ModuleInfo struct {
	Name      string `json:"name"`
	Weight    int    `json:"weight"`
	Available bool   `json:"available"`
}

// Registry manages shield modules
type Registry struct {
	mu      sync.RWMutex
	modules []Module
	byName  map[string]Module
	logger  *log.Logger
}

// NewRegistry creates an empty module registry
func NewRegistry() *Registry {
	return &Registry{
		modules: make([]Module, 0),
		byName:  make(map[string]Module),
		logger:  log.New(log.Writer(), "[SHIELD] ", log.LstdFlags),
	}
}

// Register adds a module to the registry
func (r *Registry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[m.Name()]; exists {
		return fmt.Errorf("module %q already registered", m.Name())
	}

	r.modules = append(r.modules, m)
	r.byName[m.Name()] = m

	r.logger.Printf("🔌 Registered module: %s (weight=%d, available=%v)",
		m.Name(), m.Weight(), m.IsAvailable())
	return nil
}

// Get returns a specific module by name
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// List returns info about all registered modules, in registration order
func (r *Registry) List() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ModuleInfo, 0, len(r.modules))
	for _, m := range r.modules {
		infos = append(infos, ModuleInfo{
			Name:      m.Name(),
			Weight:    m.Weight(),
			Available: m.IsAvailable(),
		})
	}
	return infos
}

// Count returns the number of registered modules
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// DefaultRegistry assembles the full built-in module set, with CVE
// lookups served by source. Every binary that runs scans starts here.
func DefaultRegistry(source VulnSource) (*Registry, error) {
	r := NewRegistry()
	modules := []Module{
		NewTLSModule(),
		NewPortsModule(),
		NewCVEModule(source),
		NewHeadersModule(),
		NewDNSModule(),
		NewCredsModule(),
		NewOWASPModule(),
	}
	for _, m := range modules {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ModulesForDepth maps a scan depth to the module set it enables.
func ModulesForDepth(depth string) []string {
	switch depth {
	case models.DepthQuick:
		return []string{ModuleTLS}
	case models.DepthStandard:
		return []string{ModuleTLS, ModulePorts, ModuleHeaders, ModuleDNS}
	case models.DepthDeep:
		return []string{ModuleTLS, ModulePorts, ModuleCVE, ModuleHeaders, ModuleDNS, ModuleCreds, ModuleOWASP}
	default:
		return nil
	}
}

// fragileAllowed is the only module set permitted against fragile targets:
// read-only probes that cannot disturb a brittle service.
var fragileAllowed = map[string]bool{
	ModuleTLS:     true,
	ModuleDNS:     true,
	ModuleHeaders: true,
}

// cautiousExcluded drops the modules that actively poke the target.
var cautiousExcluded = map[string]bool{
	ModuleCreds: true,
	ModuleOWASP: true,
	ModuleCVE:   true,
}

// ApplySensitivity filters a module list down to what the target's
// sensitivity level permits. Safe (or unset) passes everything through.
func ApplySensitivity(names []string, sensitivity string) []string {
	switch sensitivity {
	case models.SensitivityFragile:
		out := make([]string, 0, len(names))
		for _, n := range names {
			if fragileAllowed[n] {
				out = append(out, n)
			}
		}
		return out
	case models.SensitivityCautious:
		out := make([]string, 0, len(names))
		for _, n := range names {
			if !cautiousExcluded[n] {
				out = append(out, n)
			}
		}
		return out
	default:
		return names
	}
}
