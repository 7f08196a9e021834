package webhooks

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/metrics"
)

const (
	defaultWorkers = 4
	queueDepth     = 1000
	maxAttempts    = 3
)

// Dispatcher delivers events to registry targets through a bounded
// queue and worker pool. A full queue drops the event rather than
// blocking the publisher; transport errors and 5xx responses retry with
// quadratic backoff up to maxAttempts.
type Dispatcher struct {
	registry *Registry
	client   *http.Client
	queue    chan *deliveryJob
	logger   *log.Logger
	metrics  *metrics.Metrics
	wg       sync.WaitGroup

	sleep func(time.Duration)
}

type deliveryJob struct {
	sub     *Subscription
	event   *events.Event
	attempt int
}

func NewDispatcher(reg *Registry, workers int, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	d := &Dispatcher{
		registry: reg,
		client:   &http.Client{Timeout: 10 * time.Second},
		queue:    make(chan *deliveryJob, queueDepth),
		logger:   log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		metrics:  m,
		sleep:    time.Sleep,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch queues the event for every interested target.
func (d *Dispatcher) Dispatch(event *events.Event) {
	for _, sub := range d.registry.Matching(event.Type) {
		select {
		case d.queue <- &deliveryJob{sub: sub, event: event, attempt: 1}:
		default:
			d.logger.Printf("⚠️ Delivery queue full, dropping %s for %s", event.ID, sub.ID)
			d.metrics.RecordWebhookDelivery("dropped")
		}
	}
}

// Bridge pumps bus events into the dispatcher until the context ends.
// With no event types named the dispatcher sees the whole bus.
func (d *Dispatcher) Bridge(ctx context.Context, bus *events.Bus, eventTypes ...string) {
	ch := bus.Subscribe(eventTypes...)
	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				d.Dispatch(ev)
			case <-ctx.Done():
				bus.Unsubscribe(ch)
				return
			}
		}
	}()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job *deliveryJob) {
	payload, err := job.event.JSON()
	if err != nil {
		d.logger.Printf("❌ Could not marshal event %s: %v", job.event.ID, err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, job.sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.logger.Printf("❌ Bad webhook target %s: %v", job.sub.URL, err)
		d.registry.MarkFailed(job.sub.ID)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bigr-Event-Type", job.event.Type)
	req.Header.Set("X-Bigr-Event-ID", job.event.ID)
	req.Header.Set("X-Bigr-Delivery-Attempt", strconv.Itoa(job.attempt))
	if job.sub.Secret != "" {
		req.Header.Set("X-Bigr-Signature", "sha256="+SignPayload(payload, job.sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.retry(job, err.Error())
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		d.retry(job, "status "+resp.Status)
	case resp.StatusCode >= 400:
		// The receiver rejected the payload; retrying cannot help.
		d.logger.Printf("⚠️ Webhook %s rejected %s: %s", job.sub.URL, job.event.Type, resp.Status)
		d.registry.MarkFailed(job.sub.ID)
		d.metrics.RecordWebhookDelivery("rejected")
	default:
		d.registry.MarkDelivered(job.sub.ID)
		d.metrics.RecordWebhookDelivery("delivered")
		d.logger.Printf("✅ Delivered %s → %s (attempt %d)", job.event.Type, job.sub.URL, job.attempt)
	}
}

func (d *Dispatcher) retry(job *deliveryJob, reason string) {
	d.registry.MarkFailed(job.sub.ID)
	d.metrics.RecordWebhookDelivery("failed")

	if job.attempt >= maxAttempts {
		d.logger.Printf("❌ Giving up on %s → %s after %d attempts (%s)",
			job.event.ID, job.sub.URL, job.attempt, reason)
		return
	}

	d.logger.Printf("⚠️ Delivery of %s → %s failed (%s), retrying", job.event.ID, job.sub.URL, reason)
	d.sleep(time.Duration(job.attempt*job.attempt) * time.Second)
	job.attempt++
	select {
	case d.queue <- job:
	default:
		d.logger.Printf("⚠️ Delivery queue full, dropping retry of %s", job.event.ID)
		d.metrics.RecordWebhookDelivery("dropped")
	}
}

// Shutdown drains the queue and stops the workers. Dispatch must not be
// called afterwards.
func (d *Dispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
	d.logger.Println("🛑 Webhook dispatcher stopped")
}
