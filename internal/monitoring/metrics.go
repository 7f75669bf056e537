// Package monitoring - metrics.go provides operational metrics.
//
// DESIGN: Prometheus collectors on a private registry (testable, no global
// registration conflicts) plus a few atomics mirrored into /healthz:
//   - records/parse_errors: ingestion volume and skipped lines
//   - reopens:              log rotations/truncations survived
//   - alerts sent/suppressed, deliveries, drops
//   - error_rate:           current sliding-window error rate
package monitoring

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects operational metrics for the watcher.
type Metrics struct {
	registry *prometheus.Registry

	recordsTotal     prometheus.Counter
	parseErrorsTotal prometheus.Counter
	reopensTotal     prometheus.Counter
	alertsSent       *prometheus.CounterVec
	alertsSuppressed *prometheus.CounterVec
	deliveriesTotal  *prometheus.CounterVec
	dropsTotal       prometheus.Counter
	errorRate        prometheus.Gauge

	records      atomic.Int64
	parseErrors  atomic.Int64
	lastRecordAt atomic.Int64 // unix nanos, 0 until the first record
}

// NewMetrics creates a Metrics with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		recordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "poolwatch_records_total",
			Help: "Parsed access log records processed.",
		}),
		parseErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "poolwatch_parse_errors_total",
			Help: "Access log lines skipped as unparseable.",
		}),
		reopensTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "poolwatch_log_reopens_total",
			Help: "Log file reopens after rotation or truncation.",
		}),
		alertsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_alerts_sent_total",
			Help: "Alerts handed to the notification dispatcher.",
		}, []string{"type"}),
		alertsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_alerts_suppressed_total",
			Help: "Alert candidates suppressed before dispatch.",
		}, []string{"type", "reason"}),
		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_deliveries_total",
			Help: "Webhook delivery outcomes.",
		}, []string{"outcome"}),
		dropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "poolwatch_alerts_dropped_total",
			Help: "Alerts dropped after exhausting delivery retries.",
		}),
		errorRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "poolwatch_error_rate",
			Help: "Current sliding-window 5xx rate in percent.",
		}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordProcessed counts one parsed record.
func (m *Metrics) RecordProcessed(at time.Time) {
	m.recordsTotal.Inc()
	m.records.Add(1)
	m.lastRecordAt.Store(at.UnixNano())
}

// RecordParseError counts one skipped line.
func (m *Metrics) RecordParseError() {
	m.parseErrorsTotal.Inc()
	m.parseErrors.Add(1)
}

// RecordReopen counts one log file reopen.
func (m *Metrics) RecordReopen() { m.reopensTotal.Inc() }

// RecordAlertSent counts an alert handed to the dispatcher.
func (m *Metrics) RecordAlertSent(alertType string) {
	m.alertsSent.WithLabelValues(alertType).Inc()
}

// RecordAlertSuppressed counts a suppressed candidate.
func (m *Metrics) RecordAlertSuppressed(alertType, reason string) {
	m.alertsSuppressed.WithLabelValues(alertType, reason).Inc()
}

// RecordDelivery counts a webhook delivery outcome ("ok", "retryable", "permanent").
func (m *Metrics) RecordDelivery(outcome string) {
	m.deliveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordDrop counts an alert dropped after retry exhaustion.
func (m *Metrics) RecordDrop() { m.dropsTotal.Inc() }

// SetErrorRate publishes the current window error rate.
func (m *Metrics) SetErrorRate(rate float64) { m.errorRate.Set(rate) }

// Snapshot returns counters for the health endpoint.
func (m *Metrics) Snapshot() (records, parseErrors int64, lastRecordAt time.Time) {
	records = m.records.Load()
	parseErrors = m.parseErrors.Load()
	if ns := m.lastRecordAt.Load(); ns > 0 {
		lastRecordAt = time.Unix(0, ns)
	}
	return records, parseErrors, lastRecordAt
}
