package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/metrics"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// ErrInvalidScan marks a rejected scan request (bad target, depth or
// sensitivity). API handlers map it to 400.
var ErrInvalidScan = errors.New("invalid scan request")

// ScanStore is the persistence the orchestrator needs; *store.Store
// satisfies it.
type ScanStore interface {
	CreateShieldScan(ctx context.Context, sc *models.ShieldScan) error
	MarkShieldScanRunning(ctx context.Context, id string) error
	SaveShieldResults(ctx context.Context, sc *models.ShieldScan) error
	FailShieldScan(ctx context.Context, id, errMsg string) error
	ShieldScanByID(ctx context.Context, id string) (*models.ShieldScan, error)
}

// CertificateStore is the optional capability for recording TLS material
// observed by server-side scans.
type CertificateStore interface {
	SaveCertificate(ctx context.Context, c *models.Certificate) error
}

// Orchestrator owns the shield scan lifecycle: it validates requests,
// queues scans, fans modules out and persists the scored result.
type Orchestrator struct {
	registry *Registry
	store    ScanStore
	bus      events.Emitter
	metrics  *metrics.Metrics
	logger   *log.Logger
}

func NewOrchestrator(reg *Registry, st ScanStore, bus events.Emitter, m *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		store:    st,
		bus:      bus,
		metrics:  m,
		logger:   log.New(log.Writer(), "[SHIELD] ", log.LstdFlags),
	}
	if cs, ok := st.(CertificateStore); ok {
		o.connectCertificateSink(cs)
	}
	return o
}

// connectCertificateSink points the registry's TLS module at the store, so
// handshake material from server-side scans lands in the certificates table.
// Agent-side registries never pass a CertificateStore and stay sinkless.
func (o *Orchestrator) connectCertificateSink(cs CertificateStore) {
	mod, ok := o.registry.Get(ModuleTLS)
	if !ok {
		return
	}
	tlsMod, ok := mod.(*TLSModule)
	if !ok || tlsMod.Sink != nil {
		return
	}
	tlsMod.Sink = func(ctx context.Context, cert *models.Certificate) {
		if err := cs.SaveCertificate(ctx, cert); err != nil {
			o.logger.Printf("⚠️ Certificate save failed for %s:%d: %v", cert.Host, cert.Port, err)
		}
	}
}

// CreateScanRequest is the body of POST /api/shield/scan.
type CreateScanRequest struct {
	Target      string   `json:"target"`
	Depth       string   `json:"depth,omitempty"`
	Sensitivity string   `json:"sensitivity,omitempty"`
	Modules     []string `json:"modules,omitempty"`
	AgentID     string   `json:"agent_id,omitempty"`
}

// CreateScan validates the request and persists a queued scan. The module
// set is the explicit list when given, otherwise the depth default, in
// both cases filtered by the target's sensitivity.
func (o *Orchestrator) CreateScan(ctx context.Context, req *CreateScanRequest) (*models.ShieldScan, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidScan)
	}
	if strings.ContainsAny(target, " \t") {
		return nil, fmt.Errorf("%w: target must not contain whitespace", ErrInvalidScan)
	}

	targetType, err := TargetTypeOf(target)
	if err != nil {
		return nil, err
	}

	depth := req.Depth
	if depth == "" {
		depth = models.DepthStandard
	}
	switch depth {
	case models.DepthQuick, models.DepthStandard, models.DepthDeep:
	default:
		return nil, fmt.Errorf("%w: unknown depth %q", ErrInvalidScan, depth)
	}

	switch req.Sensitivity {
	case "", "none", models.SensitivityFragile, models.SensitivityCautious, models.SensitivitySafe:
	default:
		return nil, fmt.Errorf("%w: unknown sensitivity %q", ErrInvalidScan, req.Sensitivity)
	}

	mods := req.Modules
	if len(mods) == 0 {
		mods = ModulesForDepth(depth)
	}
	mods = ApplySensitivity(mods, req.Sensitivity)

	sc := &models.ShieldScan{
		ID:             NewScanID(),
		Target:         target,
		TargetType:     targetType,
		Depth:          depth,
		Sensitivity:    req.Sensitivity,
		ModulesEnabled: mods,
		Status:         models.ShieldQueued,
		AgentID:        req.AgentID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.store.CreateShieldScan(ctx, sc); err != nil {
		return nil, err
	}

	o.metrics.RecordScan(models.ShieldQueued)
	o.logger.Printf("🚀 Queued scan %s: target=%s depth=%s modules=%v", sc.ID, target, depth, mods)
	return sc, nil
}

// RunScan executes a queued (or previously failed) scan to completion.
// Intended to run in its own goroutine; all outcomes are persisted.
func (o *Orchestrator) RunScan(ctx context.Context, id string) error {
	sc, err := o.store.ShieldScanByID(ctx, id)
	if err != nil {
		return err
	}
	if err := o.store.MarkShieldScanRunning(ctx, id); err != nil {
		return err
	}

	res := RunModules(ctx, o.registry, sc.Target, 0, sc.ModulesEnabled, o.logger)

	sc.Status = models.ShieldCompleted
	sc.StartedAt = &res.StartedAt
	sc.CompletedAt = &res.CompletedAt
	sc.Findings = res.Findings
	sc.ModuleScores = res.ModuleScores
	sc.ShieldScore = res.Score
	sc.Grade = res.Grade
	sc.TotalChecks, sc.PassedChecks, sc.FailedChecks, sc.WarningChecks = 0, 0, 0, 0
	for _, ms := range res.ModuleScores {
		sc.TotalChecks += ms.TotalChecks
		sc.PassedChecks += ms.PassedChecks
		sc.FailedChecks += ms.FailedChecks
		sc.WarningChecks += ms.WarningChecks
	}
	for i := range sc.Findings {
		sc.Findings[i].ScanID = sc.ID
	}

	if err := o.store.SaveShieldResults(ctx, sc); err != nil {
		o.metrics.RecordScan(models.ShieldFailed)
		if ferr := o.store.FailShieldScan(ctx, id, err.Error()); ferr != nil {
			o.logger.Printf("❌ Scan %s: recording failure also failed: %v", id, ferr)
		}
		return fmt.Errorf("save shield results: %w", err)
	}

	o.metrics.RecordScan(models.ShieldCompleted)
	o.metrics.ObserveScan(res.CompletedAt.Sub(res.StartedAt).Seconds())
	for name, d := range res.Durations {
		o.metrics.ObserveModule(name, d.Seconds())
	}
	for _, f := range sc.Findings {
		o.metrics.RecordFinding(f.Severity)
	}
	if o.bus != nil {
		o.bus.Emit(events.TypeShieldCompleted, sc.ID, map[string]any{
			"target":   sc.Target,
			"score":    sc.ShieldScore,
			"grade":    sc.Grade,
			"findings": len(sc.Findings),
		})
	}
	o.logger.Printf("✅ Scan %s completed: score=%.2f grade=%s findings=%d (%.1fs)",
		sc.ID, sc.ShieldScore, sc.Grade, len(sc.Findings), res.CompletedAt.Sub(res.StartedAt).Seconds())
	return nil
}

// RunResult is the outcome of one module fan-out, before (or without)
// persistence. The agent daemon and the probe CLI consume it directly.
type RunResult struct {
	Target       string                        `json:"target"`
	ModulesRun   []string                      `json:"modules_run"`
	Findings     []models.ShieldFinding        `json:"findings"`
	ModuleScores map[string]models.ModuleScore `json:"module_scores"`
	Score        float64                       `json:"score"`
	Grade        string                        `json:"grade"`
	StartedAt    time.Time                     `json:"started_at"`
	CompletedAt  time.Time                     `json:"completed_at"`
	Durations    map[string]time.Duration      `json:"-"`
}

// RunModules fans the named modules out concurrently against target and
// scores what comes back. Unknown names are skipped with a warning; a
// registered module whose tooling is missing contributes an info finding
// instead of running. A panic inside one module is recovered and yields
// an empty finding set for that module only.
func RunModules(ctx context.Context, reg *Registry, target string, port int, names []string, logger *log.Logger) *RunResult {
	if logger == nil {
		logger = log.New(log.Writer(), "[SHIELD] ", log.LstdFlags)
	}

	res := &RunResult{
		Target:       target,
		ModuleScores: make(map[string]models.ModuleScore),
		Durations:    make(map[string]time.Duration),
		StartedAt:    time.Now().UTC(),
	}

	type moduleOutcome struct {
		name     string
		findings []models.ShieldFinding
		duration time.Duration
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []moduleOutcome
	)

	for _, name := range names {
		mod, ok := reg.Get(name)
		if !ok {
			logger.Printf("⚠️ Unknown module %q, skipping", name)
			continue
		}
		if !mod.IsAvailable() {
			logger.Printf("⚠️ Module %s unavailable on this host, skipping", name)
			res.Findings = append(res.Findings, models.ShieldFinding{
				Module:      name,
				Severity:    models.SeverityInfo,
				Title:       "Module Unavailable",
				Description: fmt.Sprintf("Module %s was skipped: required tooling is not present on this host.", name),
				DetectedAt:  time.Now().UTC(),
			})
			continue
		}

		wg.Add(1)
		go func(m Module) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Printf("❌ Module %s panicked: %v", m.Name(), r)
					mu.Lock()
					outcomes = append(outcomes, moduleOutcome{name: m.Name()})
					mu.Unlock()
				}
			}()

			start := time.Now()
			findings := m.Scan(ctx, target, port)
			mu.Lock()
			outcomes = append(outcomes, moduleOutcome{
				name:     m.Name(),
				findings: findings,
				duration: time.Since(start),
			})
			mu.Unlock()
		}(mod)
	}
	wg.Wait()

	now := time.Now().UTC()
	for _, oc := range outcomes {
		mod, _ := reg.Get(oc.name)
		for i := range oc.findings {
			if oc.findings[i].Module == "" {
				oc.findings[i].Module = oc.name
			}
			if oc.findings[i].DetectedAt.IsZero() {
				oc.findings[i].DetectedAt = now
			}
		}
		res.Findings = append(res.Findings, oc.findings...)
		res.ModuleScores[oc.name] = ScoreModule(oc.name, mod.Weight(), oc.findings)
		res.ModulesRun = append(res.ModulesRun, oc.name)
		res.Durations[oc.name] = oc.duration
	}

	res.Score, res.Grade = Composite(res.ModuleScores)
	res.CompletedAt = time.Now().UTC()
	return res
}

// TargetTypeOf classifies a scan target: CIDR when it carries a prefix
// length, dotted-quad IPv4, otherwise a domain name.
func TargetTypeOf(target string) (string, error) {
	if strings.Contains(target, "/") {
		if _, _, err := net.ParseCIDR(target); err != nil {
			return "", fmt.Errorf("%w: bad CIDR %q", ErrInvalidScan, target)
		}
		return models.TargetCIDR, nil
	}
	if ip := net.ParseIP(target); ip != nil && ip.To4() != nil {
		return models.TargetIP, nil
	}
	return models.TargetDomain, nil
}

// NewScanID returns a fresh scan identifier: "sh_" plus 8 hex characters.
func NewScanID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sh_%08x", time.Now().UnixNano()&0xffffffff)
	}
	return "sh_" + hex.EncodeToString(b)
}
