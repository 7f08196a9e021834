package collective

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Privatizer holds the two local differential-privacy mechanisms: the
// randomized-response coin deciding whether a report survives at all,
// and the Laplace noise applied to severities that do. One ε governs
// both; smaller ε means more privacy and less utility.
type Privatizer struct {
	epsilon float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPrivatizer builds a privatizer for the given ε. A nil rng gets a
// time-seeded source; tests inject a fixed seed for determinism.
func NewPrivatizer(epsilon float64, rng *rand.Rand) *Privatizer {
	if epsilon <= 0 {
		epsilon = 1.0
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Privatizer{epsilon: epsilon, rng: rng}
}

// ReportProbability is p = e^ε / (1 + e^ε): the chance the truthful
// "do report" answer survives randomized response. ε → 0 approaches a
// coin flip; large ε approaches always-report.
func (p *Privatizer) ReportProbability() float64 {
	e := math.Exp(p.epsilon)
	return e / (1 + e)
}

// ShouldReport runs one round of randomized response.
func (p *Privatizer) ShouldReport() bool {
	p.mu.Lock()
	u := p.rng.Float64()
	p.mu.Unlock()
	return u < p.ReportProbability()
}

// NoiseSeverity adds a Laplace(0, 1/ε) sample drawn by inverse CDF,
// clamps the result to [0,1] and rounds to two decimals.
func (p *Privatizer) NoiseSeverity(severity float64) float64 {
	p.mu.Lock()
	u := p.rng.Float64() - 0.5
	p.mu.Unlock()

	noise := -(1 / p.epsilon) * sign(u) * math.Log(1-2*math.Abs(u))
	return round2(clamp01(severity + noise))
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
