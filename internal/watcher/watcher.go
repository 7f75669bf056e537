// Package watcher runs the single-consumer alert pipeline.
//
// DESIGN: One goroutine owns every piece of mutable state - the sliding
// window, the routing belief, and the cooldown table - and processes records
// strictly in log order, so one record's tracker/detector/policy updates are
// atomic with respect to the next record's. The only concurrency leaving
// this loop is the dispatcher's fire-and-forget sends, which read nothing
// but the already-rendered alert.
package watcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xodeeq/poolwatch/internal/alert"
	"github.com/xodeeq/poolwatch/internal/config"
	"github.com/xodeeq/poolwatch/internal/failover"
	"github.com/xodeeq/poolwatch/internal/history"
	"github.com/xodeeq/poolwatch/internal/logsource"
	"github.com/xodeeq/poolwatch/internal/monitoring"
	"github.com/xodeeq/poolwatch/internal/window"
)

// progressEvery is how many records pass between error-rate debug lines.
const progressEvery = 50

// Dispatcher is the outbound side of the pipeline.
type Dispatcher interface {
	Dispatch(alert.Alert)
}

// Watcher consumes parsed records and turns them into alert decisions.
type Watcher struct {
	cfg        *config.Config
	tracker    *window.Tracker
	detector   *failover.Detector
	engine     *alert.Engine
	dispatcher Dispatcher
	metrics    *monitoring.Metrics
	history    *history.Store // nil = audit trail disabled

	processed   int64
	currentPool atomic.Value // string, for the health endpoint
}

// New wires a watcher from its collaborators. now is injectable so cooldown
// behavior is testable against a fixed clock; pass nil for wall time.
func New(cfg *config.Config, dispatcher Dispatcher, metrics *monitoring.Metrics, hist *history.Store, now func() time.Time) *Watcher {
	w := &Watcher{
		cfg:        cfg,
		tracker:    window.NewTracker(cfg.WindowSize),
		detector:   failover.NewDetector(),
		engine:     alert.NewEngine(cfg.AlertCooldown, cfg.MaintenanceMode, now),
		dispatcher: dispatcher,
		metrics:    metrics,
		history:    hist,
	}
	w.currentPool.Store(string(logsource.PoolUnknown))
	return w
}

// Run consumes records until ctx is cancelled or the channel closes.
func (w *Watcher) Run(ctx context.Context, records <-chan logsource.Record) error {
	log.Info().
		Float64("error_rate_threshold", w.cfg.ErrorRateThreshold).
		Int("window_size", w.cfg.WindowSize).
		Dur("alert_cooldown", w.cfg.AlertCooldown).
		Bool("maintenance_mode", w.cfg.MaintenanceMode()).
		Msg("watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			w.processRecord(rec)
		}
	}
}

// CurrentPool reports the last adopted pool for the health endpoint.
func (w *Watcher) CurrentPool() string {
	return w.currentPool.Load().(string)
}

// processRecord applies one record to all watcher state. A panic here loses
// at most this record: it is logged with context and the loop continues.
func (w *Watcher) processRecord(rec logsource.Record) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("pool", string(rec.Pool)).
				Int("status", rec.Status).
				Msg("record processing panicked, skipping record")
		}
	}()

	w.processed++
	w.metrics.RecordProcessed(rec.Time)

	w.tracker.Observe(rec.IsError())
	w.metrics.SetErrorRate(w.tracker.ErrorRate())

	if tr := w.detector.Observe(rec); tr != nil {
		w.currentPool.Store(string(tr.To))
		log.Info().
			Str("kind", string(tr.Kind)).
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Str("release", tr.Release).
			Msg("pool switch observed")
		w.evaluate(alert.TransitionEvent{Transition: *tr})
	} else if rec.Pool.Known() {
		w.currentPool.Store(string(rec.Pool))
	}

	// Level-triggered: re-checked on every record once the window has
	// warmed up, so it re-fires at cooldown boundaries while elevated.
	if w.tracker.Full() {
		rate := w.tracker.ErrorRate()
		if rate >= w.cfg.ErrorRateThreshold {
			w.evaluate(alert.ErrorRateEvent{
				Rate:       rate,
				Threshold:  w.cfg.ErrorRateThreshold,
				WindowSize: w.tracker.Capacity(),
				ErrorCount: w.tracker.ErrorCount(),
				Pool:       w.detector.State().CurrentPool,
			})
		}
	}

	if w.processed%progressEvery == 0 {
		log.Debug().
			Float64("error_rate", w.tracker.ErrorRate()).
			Int("errors", w.tracker.ErrorCount()).
			Int("window", w.tracker.Size()).
			Int64("records", w.processed).
			Msg("window status")
	}
}

func (w *Watcher) evaluate(ev alert.Event) {
	a, verdict := w.engine.Evaluate(ev)
	alertType := string(ev.AlertType())

	switch verdict {
	case alert.VerdictSend:
		w.metrics.RecordAlertSent(alertType)
		log.Info().
			Str("alert_id", a.ID).
			Str("type", alertType).
			Str("text", a.Text).
			Msg("alert dispatched")
		if w.history != nil {
			if err := w.history.Record(*a); err != nil {
				log.Warn().Err(err).Str("alert_id", a.ID).Msg("failed to record alert history")
			}
		}
		w.dispatcher.Dispatch(*a)
	case alert.VerdictMaintenance:
		w.metrics.RecordAlertSuppressed(alertType, "maintenance")
		log.Debug().Str("type", alertType).Msg("alert suppressed: maintenance mode")
	case alert.VerdictCooldown:
		w.metrics.RecordAlertSuppressed(alertType, "cooldown")
		log.Debug().Str("type", alertType).Msg("alert suppressed: cooldown active")
	}
}
