// Package metrics exports the Prometheus collectors for the control
// plane. All record helpers tolerate a nil receiver so components can be
// wired without metrics in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the discovery control plane
type Metrics struct {
	// Ingest metrics
	IngestBatches   prometheus.Counter
	IngestBatchSize prometheus.Histogram

	// Shield metrics
	ShieldScans    *prometheus.CounterVec
	ShieldFindings *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	ModuleDuration *prometheus.HistogramVec

	// API metrics
	RateLimited prometheus.Counter

	// Firewall metrics
	FirewallEvaluations *prometheus.CounterVec

	// Collective intelligence metrics
	CollectiveSignals *prometheus.CounterVec

	// Dead-man switch metrics
	DeadmanAlerts prometheus.Counter

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		IngestBatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bigr_ingest_batches_total",
			Help: "Total discovery batches ingested",
		}),

		IngestBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bigr_ingest_batch_assets",
			Help:    "Assets per ingested discovery batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		ShieldScans: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bigr_shield_scans_total",
			Help: "Shield scans by lifecycle status",
		}, []string{"status"}), // status: queued, completed, failed

		ShieldFindings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bigr_shield_findings_total",
			Help: "Shield findings by severity",
		}, []string{"severity"}),

		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bigr_shield_scan_duration_seconds",
			Help:    "Wall time of a full shield scan",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),

		ModuleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bigr_shield_module_duration_seconds",
			Help:    "Wall time of one shield module run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"module"}),

		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bigr_api_rate_limited_total",
			Help: "Requests rejected by the API rate limiter",
		}),

		FirewallEvaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bigr_firewall_evaluations_total",
			Help: "Firewall evaluations by verdict",
		}, []string{"verdict"}), // verdict: allow, block

		CollectiveSignals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bigr_collective_signals_total",
			Help: "Collective signals by privacy outcome",
		}, []string{"outcome"}), // outcome: accepted, suppressed

		DeadmanAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bigr_deadman_alerts_total",
			Help: "Dead-man switch alerts raised for silent agents",
		}),

		WebhookDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bigr_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		}, []string{"status"}), // status: delivered, failed
	}
}

// RecordIngest records one discovery batch and its size
func (m *Metrics) RecordIngest(assets int) {
	if m == nil {
		return
	}
	m.IngestBatches.Inc()
	m.IngestBatchSize.Observe(float64(assets))
}

// RecordScan records a shield scan lifecycle transition
func (m *Metrics) RecordScan(status string) {
	if m == nil {
		return
	}
	m.ShieldScans.WithLabelValues(status).Inc()
}

// RecordFinding records one shield finding
func (m *Metrics) RecordFinding(severity string) {
	if m == nil {
		return
	}
	m.ShieldFindings.WithLabelValues(severity).Inc()
}

// ObserveScan records the wall time of a completed scan
func (m *Metrics) ObserveScan(seconds float64) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(seconds)
}

// ObserveModule records the wall time of one module run
func (m *Metrics) ObserveModule(module string, seconds float64) {
	if m == nil {
		return
	}
	m.ModuleDuration.WithLabelValues(module).Observe(seconds)
}

// RecordRateLimited counts one 429 rejection
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// RecordFirewallVerdict counts one firewall evaluation
func (m *Metrics) RecordFirewallVerdict(verdict string) {
	if m == nil {
		return
	}
	m.FirewallEvaluations.WithLabelValues(verdict).Inc()
}

// RecordCollective counts one signal submission outcome
func (m *Metrics) RecordCollective(outcome string) {
	if m == nil {
		return
	}
	m.CollectiveSignals.WithLabelValues(outcome).Inc()
}

// RecordDeadmanAlert counts one silent-agent alert
func (m *Metrics) RecordDeadmanAlert() {
	if m == nil {
		return
	}
	m.DeadmanAlerts.Inc()
}

// RecordWebhookDelivery counts one webhook attempt
func (m *Metrics) RecordWebhookDelivery(status string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(status).Inc()
}
