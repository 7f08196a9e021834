// Package deadman audits agent heartbeats. An active agent that stays
// silent past the timeout is marked stale and raises an alert; the
// alert fan-out (log line, event bus, metrics) is rate-limited so a
// flapping agent cannot flood the channels.
package deadman

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/metrics"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// Config tunes the audit. The zero value is replaced with defaults.
type Config struct {
	Timeout  time.Duration // silence past this counts as dead
	Interval time.Duration // cadence of the background audit
	Disabled bool          // audit still runs, alerts never fire
}

func DefaultConfig() Config {
	return Config{
		Timeout:  30 * time.Minute,
		Interval: 5 * time.Minute,
	}
}

// Window inside which repeat alerts for the same agent are swallowed.
const alertCooldown = 10 * time.Minute

// AgentStore is the slice of the store the switch needs; *store.Store
// satisfies it.
type AgentStore interface {
	ListActiveAgents(ctx context.Context) ([]models.Agent, error)
	SetAgentStatus(ctx context.Context, id, status string) error
}

// Switch runs the silent-agent audit.
type Switch struct {
	cfg     Config
	store   AgentStore
	bus     events.Emitter
	metrics *metrics.Metrics
	logger  *log.Logger

	mu        sync.Mutex
	lastAlert map[string]time.Time

	now func() time.Time
}

func NewSwitch(cfg Config, st AgentStore, bus events.Emitter, m *metrics.Metrics) *Switch {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Switch{
		cfg:       cfg,
		store:     st,
		bus:       bus,
		metrics:   m,
		logger:    log.New(log.Writer(), "[DEADMAN] ", log.LstdFlags),
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Check audits every active agent once and returns one health row per
// agent. Agents past the timeout are marked stale in the store; an
// agent that registered but never sent a heartbeat counts as dead from
// the start.
func (s *Switch) Check(ctx context.Context) ([]models.AgentHealth, error) {
	agents, err := s.store.ListActiveAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("deadman audit: %w", err)
	}

	now := s.now().UTC()
	out := make([]models.AgentHealth, 0, len(agents))
	for i := range agents {
		out = append(out, s.checkAgent(ctx, &agents[i], now))
	}
	return out, nil
}

func (s *Switch) checkAgent(ctx context.Context, a *models.Agent, now time.Time) models.AgentHealth {
	h := models.AgentHealth{
		AgentID:       a.ID,
		Name:          a.Name,
		SiteName:      a.SiteName,
		LastHeartbeat: a.LastSeen,
	}

	if a.LastSeen != nil {
		h.MinutesSince = now.Sub(*a.LastSeen).Minutes()
		h.Alive = h.MinutesSince <= s.cfg.Timeout.Minutes()
	}
	h.AlertTriggered = !s.cfg.Disabled && !h.Alive

	if h.Alive {
		return h
	}

	if a.Status != models.AgentStatusStale {
		if err := s.store.SetAgentStatus(ctx, a.ID, models.AgentStatusStale); err != nil {
			s.logger.Printf("⚠️ Could not mark %s stale: %v", a.Name, err)
		}
	}
	if h.AlertTriggered && s.takeAlertSlot(a.ID, now) {
		s.alert(a, &h)
	}
	return h
}

// takeAlertSlot reports whether an alert for the agent may fire now and,
// if so, claims the cooldown window.
func (s *Switch) takeAlertSlot(agentID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastAlert[agentID]; ok && now.Sub(last) < alertCooldown {
		return false
	}
	s.lastAlert[agentID] = now
	return true
}

func (s *Switch) alert(a *models.Agent, h *models.AgentHealth) {
	if h.LastHeartbeat == nil {
		s.logger.Printf("💀 Agent %s (%s) registered but never reported", a.Name, a.ID)
	} else {
		s.logger.Printf("💀 Agent %s (%s) silent for %.0f minutes", a.Name, a.ID, h.MinutesSince)
	}
	s.metrics.RecordDeadmanAlert()
	if s.bus != nil {
		s.bus.Emit(events.TypeDeadmanAlert, a.ID, map[string]any{
			"agent_name":     a.Name,
			"site_name":      a.SiteName,
			"minutes_since":  h.MinutesSince,
			"last_heartbeat": h.LastHeartbeat,
		})
	}
}

// Run performs the audit on the configured interval until the context
// ends. Intended to be launched as `go sw.Run(ctx)` from main.
func (s *Switch) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Printf("Dead-man switch armed (timeout=%s, interval=%s)", s.cfg.Timeout, s.cfg.Interval)
	for {
		select {
		case <-ticker.C:
			if _, err := s.Check(ctx); err != nil {
				s.logger.Printf("⚠️ Audit failed: %v", err)
			}
		case <-ctx.Done():
			s.logger.Println("🛑 Dead-man switch stopped")
			return
		}
	}
}
