package collective

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/metrics"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// ErrInvalidSignal marks a rejected submission; API handlers map it to 400.
var ErrInvalidSignal = errors.New("invalid collective signal")

// Submission outcomes.
const (
	StatusAccepted   = "accepted"
	StatusSuppressed = "suppressed"
)

// Config tunes the privacy/utility trade-off per deployment.
type Config struct {
	Epsilon      float64       // randomized response + Laplace scale
	MinReporters int           // k: distinct reporters before a group is exposed
	TTL          time.Duration // raw signal retention
}

func DefaultConfig() Config {
	return Config{
		Epsilon:      1.0,
		MinReporters: 3,
		TTL:          72 * time.Hour,
	}
}

// SignalStore is the persistence the engine needs; *store.Store satisfies it.
type SignalStore interface {
	InsertSignal(ctx context.Context, sig *models.CollectiveSignal) error
	SignalsSince(ctx context.Context, cutoff time.Time) ([]models.CollectiveSignal, error)
	DeleteExpiredSignals(ctx context.Context, cutoff time.Time) (int, error)
	DistinctSignalSubnets(ctx context.Context, cutoff time.Time) (int, error)
	CountActiveAgents(ctx context.Context) (int, error)
}

// Engine is the ingest-and-aggregate pipeline for community threat
// signals. Severities are noised before they reach the store; read paths
// only ever expose k-anonymous aggregates.
type Engine struct {
	cfg     Config
	store   SignalStore
	hasher  *Hasher
	priv    *Privatizer
	metrics *metrics.Metrics
	logger  *log.Logger
}

func NewEngine(cfg Config, st SignalStore, hasher *Hasher, priv *Privatizer, m *metrics.Metrics) *Engine {
	def := DefaultConfig()
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.MinReporters <= 0 {
		cfg.MinReporters = def.MinReporters
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if hasher == nil {
		hasher = NewHasher("")
	}
	if priv == nil {
		priv = NewPrivatizer(cfg.Epsilon, nil)
	}
	return &Engine{
		cfg:     cfg,
		store:   st,
		hasher:  hasher,
		priv:    priv,
		metrics: m,
		logger:  log.New(log.Writer(), "[COLLECTIVE] ", log.LstdFlags),
	}
}

// Submission is one inbound threat report before anonymization.
type Submission struct {
	IP         string  `json:"ip"`
	AgentID    string  `json:"agent_id"`
	SignalType string  `json:"signal_type"`
	Severity   float64 `json:"severity"`
	Port       int     `json:"port,omitempty"`
}

func validateSubmission(sub *Submission) error {
	if sub.IP == "" {
		return fmt.Errorf("%w: ip is required", ErrInvalidSignal)
	}
	if sub.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidSignal)
	}
	switch sub.SignalType {
	case models.SignalPortScan, models.SignalMalwareC2, models.SignalBruteForce, models.SignalSuspicious:
	default:
		return fmt.Errorf("%w: unknown signal type %q", ErrInvalidSignal, sub.SignalType)
	}
	if sub.Severity < 0 || sub.Severity > 1 {
		return fmt.Errorf("%w: severity %.2f outside [0,1]", ErrInvalidSignal, sub.Severity)
	}
	return nil
}

// Submit runs the anonymization pipeline for one report. A suppressed
// submission stores nothing; that outcome is deliberately indistinguishable
// from a successful store to the caller beyond the returned status.
func (e *Engine) Submit(ctx context.Context, sub *Submission) (string, error) {
	if err := validateSubmission(sub); err != nil {
		return "", err
	}

	if !e.priv.ShouldReport() {
		e.metrics.RecordCollective(StatusSuppressed)
		return StatusSuppressed, nil
	}

	sig := &models.CollectiveSignal{
		SubnetHash: e.hasher.SubnetHash(sub.IP),
		SignalType: sub.SignalType,
		Severity:   e.priv.NoiseSeverity(sub.Severity),
		Port:       sub.Port,
		AgentHash:  e.hasher.AgentHash(sub.AgentID),
		IsNoised:   true,
	}
	if err := e.store.InsertSignal(ctx, sig); err != nil {
		return "", err
	}
	e.metrics.RecordCollective(StatusAccepted)
	return StatusAccepted, nil
}

// Aggregate groups unexpired signals by (subnet, type) and computes each
// group's statistics. Results are ordered by confidence, highest first.
func (e *Engine) Aggregate(ctx context.Context) ([]models.CollectiveReport, error) {
	signals, err := e.store.SignalsSince(ctx, time.Now().UTC().Add(-e.cfg.TTL))
	if err != nil {
		return nil, fmt.Errorf("aggregate signals: %w", err)
	}

	type groupKey struct{ subnet, signalType string }
	groups := make(map[groupKey][]models.CollectiveSignal)
	for _, s := range signals {
		k := groupKey{s.SubnetHash, s.SignalType}
		groups[k] = append(groups[k], s)
	}

	reports := make([]models.CollectiveReport, 0, len(groups))
	for k, group := range groups {
		reporters := make(map[string]bool)
		sum := 0.0
		for _, s := range group {
			reporters[s.AgentHash] = true
			sum += s.Severity
		}
		avg := sum / float64(len(group))

		// Population standard deviation; a lone report carries no spread
		// information, so it is pinned to σ = 0.5.
		sigma := 0.5
		if len(group) > 1 {
			var ss float64
			for _, s := range group {
				d := s.Severity - avg
				ss += d * d
			}
			sigma = math.Sqrt(ss / float64(len(group)))
		}

		n := len(reporters)
		consistency := math.Max(0, 1-sigma)
		confidence := math.Min(1, float64(n)/10) * consistency

		reports = append(reports, models.CollectiveReport{
			SubnetHash:    k.subnet,
			SignalType:    k.signalType,
			ReporterCount: n,
			AvgSeverity:   round2(avg),
			Consistency:   round2(consistency),
			Confidence:    round2(confidence),
			IsVerified:    n >= e.cfg.MinReporters,
		})
	}

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Confidence != reports[j].Confidence {
			return reports[i].Confidence > reports[j].Confidence
		}
		if reports[i].SubnetHash != reports[j].SubnetHash {
			return reports[i].SubnetHash < reports[j].SubnetHash
		}
		return reports[i].SignalType < reports[j].SignalType
	})
	return reports, nil
}

// VerifiedReports returns only groups meeting the k-anonymity floor,
// the only view the read APIs expose.
func (e *Engine) VerifiedReports(ctx context.Context) ([]models.CollectiveReport, error) {
	all, err := e.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	verified := make([]models.CollectiveReport, 0, len(all))
	for _, r := range all {
		if r.IsVerified {
			verified = append(verified, r)
		}
	}
	return verified, nil
}

// Cleanup drops signals past the TTL and reports how many went.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	n, err := e.store.DeleteExpiredSignals(ctx, time.Now().UTC().Add(-e.cfg.TTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Printf("Expired signals removed: %d", n)
	}
	return n, nil
}

// Stats is the community-health gauge exposed at /api/collective/stats.
type Stats struct {
	ActiveAgents    int     `json:"active_agents"`
	VerifiedThreats int     `json:"verified_threats"`
	Subnets         int     `json:"subnets"`
	CommunityScore  int     `json:"community_score"`
	Epsilon         float64 `json:"epsilon"`
	MinReporters    int     `json:"min_reporters"`
}

// CommunityStats computes the health gauge: a 20-point floor plus capped
// credit for agents, verified threats and contributing subnets.
func (e *Engine) CommunityStats(ctx context.Context) (*Stats, error) {
	agents, err := e.store.CountActiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	subnets, err := e.store.DistinctSignalSubnets(ctx, time.Now().UTC().Add(-e.cfg.TTL))
	if err != nil {
		return nil, err
	}
	verified, err := e.VerifiedReports(ctx)
	if err != nil {
		return nil, err
	}

	score := 20 + min(30, agents*5) + min(30, len(verified)*3) + min(20, subnets*2)
	if score > 100 {
		score = 100
	}
	return &Stats{
		ActiveAgents:    agents,
		VerifiedThreats: len(verified),
		Subnets:         subnets,
		CommunityScore:  score,
		Epsilon:         e.cfg.Epsilon,
		MinReporters:    e.cfg.MinReporters,
	}, nil
}
