// Package webhooks fans bus events out to external HTTP endpoints. The
// registry holds delivery targets (seeded from configuration at startup,
// e.g. DEADMAN_WEBHOOK_URL); the dispatcher pushes signed JSON payloads
// through a bounded worker pool.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriptions that fail this many deliveries in a row are switched off
// until the process restarts.
const disableAfterFailures = 10

// Subscription is one delivery target. An empty Events list receives
// every bus event.
type Subscription struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events,omitempty"`
	Secret    string    `json:"secret,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	FailCount int       `json:"fail_count"`
}

func (s *Subscription) wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, et := range s.Events {
		if et == eventType {
			return true
		}
	}
	return false
}

// Registry stores delivery targets in memory. There is no persistence:
// targets come from the environment on every start.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	logger *log.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		subs:   make(map[string]*Subscription),
		logger: log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags),
	}
}

// Register adds a delivery target and activates it.
func (r *Registry) Register(sub *Subscription) error {
	if sub.URL == "" {
		return fmt.Errorf("webhook url is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.ID == "" {
		sub.ID = "wh-" + uuid.NewString()
	}
	sub.Active = true
	sub.CreatedAt = time.Now().UTC()
	sub.FailCount = 0
	r.subs[sub.ID] = sub

	r.logger.Printf("📡 Registered webhook %s → %s (events: %v)", sub.ID, sub.URL, sub.Events)
	return nil
}

// Unregister removes a delivery target.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return fmt.Errorf("webhook %s not found", id)
	}
	delete(r.subs, id)
	return nil
}

// Matching returns the active targets interested in the event type.
func (r *Registry) Matching(eventType string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if sub.Active && sub.wants(eventType) {
			out = append(out, sub)
		}
	}
	return out
}

// All returns a snapshot of every target, active or not.
func (r *Registry) All() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, *sub)
	}
	return out
}

// MarkFailed counts one failed delivery and disables the target after
// too many in a row.
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return
	}
	sub.FailCount++
	if sub.FailCount >= disableAfterFailures && sub.Active {
		sub.Active = false
		r.logger.Printf("⚠️ Webhook %s disabled after %d consecutive failures", id, sub.FailCount)
	}
}

// MarkDelivered resets the consecutive-failure count.
func (r *Registry) MarkDelivered(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[id]; ok {
		sub.FailCount = 0
	}
}

// SignPayload computes the hex HMAC-SHA256 receivers use to verify that
// a delivery came from this server.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
