// Package events is the in-process pub/sub bus connecting the ingest
// pipeline, the firewall service, and the dead-man switch to live
// consumers (websocket stream, webhook dispatcher, metrics).
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published on the bus.
const (
	TypeAgentRegistered = "agent.registered"
	TypeAssetNew        = "asset.new"
	TypeAssetChanged    = "asset.changed"
	TypeScanIngested    = "scan.ingested"
	TypeShieldCompleted = "shield.completed"
	TypeRuleAdded       = "firewall.rule_added"
	TypeFirewallBlock   = "firewall.blocked"
	TypeDeadmanAlert    = "deadman.alert"
)

// Event is the envelope every publisher emits. Data is open-ended per type.
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Subject string         `json:"subject,omitempty"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data,omitempty"`
}

// JSON serializes the event for wire transports (websocket, webhooks).
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter is the publishing side of the bus; handlers depend on this
// interface so tests can substitute a recorder.
type Emitter interface {
	Emit(eventType, subject string, data map[string]any)
}

// Bus is an in-process pub/sub bus. Delivery is best-effort: a subscriber
// whose buffer is full misses the event rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event // event type -> channels
	allSubs     []chan *Event
	logger      *log.Logger
	bufferSize  int
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Event),
		allSubs:     make([]chan *Event, 0),
		logger:      log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize:  100,
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no type is named.
func (b *Bus) Subscribe(eventTypes ...string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)

	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}

	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		filtered := make([]chan *Event, 0, len(subs))
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		b.subscribers[et] = filtered
	}

	filtered := make([]chan *Event, 0, len(b.allSubs))
	for _, s := range b.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	b.allSubs = filtered

	close(ch)
}

// Publish delivers an event to every matching subscriber without blocking.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, skip.
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit builds the envelope and publishes it.
func (b *Bus) Emit(eventType, subject string, data map[string]any) {
	b.Publish(&Event{
		ID:      "ev-" + uuid.NewString(),
		Type:    eventType,
		Subject: subject,
		Time:    time.Now().UTC(),
		Data:    data,
	})
}

// SubscriberCount returns the number of active subscription channels.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
