// Package notify delivers rendered alerts to the Slack webhook.
//
// DESIGN: Dispatch never blocks the ingestion path - each send runs in its
// own goroutine with bounded retries and doubling backoff. Non-2xx responses
// in the 4xx range are configuration problems and are not retried; anything
// else transient is. Exhausted retries are logged and dropped: delivery is
// best-effort and never fatal to the watcher. Close waits for in-flight
// sends within the caller's grace period, then cancels them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xodeeq/poolwatch/internal/alert"
	"github.com/xodeeq/poolwatch/internal/monitoring"
)

// ErrPermanent marks a delivery failure that retrying cannot fix (4xx).
var ErrPermanent = errors.New("permanent delivery failure")

const defaultTimeout = 5 * time.Second

// Options tunes delivery behavior.
type Options struct {
	MaxAttempts int           // total attempts per alert, min 1
	Backoff     time.Duration // first retry delay, doubles per attempt
}

// Dispatcher posts alerts to a Slack-compatible webhook.
type Dispatcher struct {
	webhookURL  string
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
	metrics     *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. An empty webhookURL puts it in dry-run
// mode: alerts are logged but nothing is posted.
func NewDispatcher(webhookURL string, opts Options, metrics *monitoring.Metrics) *Dispatcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: defaultTimeout},
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		metrics:     metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Dispatch hands an alert off for asynchronous delivery and returns
// immediately.
func (d *Dispatcher) Dispatch(a alert.Alert) {
	if d.webhookURL == "" {
		log.Info().
			Str("alert_id", a.ID).
			Str("type", string(a.Type)).
			Str("text", a.Text).
			Msg("webhook not configured, alert not sent")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(a)
	}()
}

// Close waits for in-flight deliveries until ctx expires, then cancels any
// that remain.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return fmt.Errorf("notification dispatch abandoned: %w", ctx.Err())
	}
}

func (d *Dispatcher) deliver(a alert.Alert) {
	body, err := json.Marshal(renderPayload(a))
	if err != nil {
		log.Error().Err(err).Str("alert_id", a.ID).Msg("failed to encode alert payload")
		return
	}

	backoff := d.backoff
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = d.post(body)
		if err == nil {
			d.metrics.RecordDelivery("ok")
			log.Info().
				Str("alert_id", a.ID).
				Str("type", string(a.Type)).
				Int("attempt", attempt).
				Msg("alert delivered")
			return
		}
		if errors.Is(err, ErrPermanent) {
			d.metrics.RecordDelivery("permanent")
			log.Error().Err(err).Str("alert_id", a.ID).Msg("alert rejected by webhook, not retrying")
			return
		}

		d.metrics.RecordDelivery("retryable")
		log.Warn().
			Err(err).
			Str("alert_id", a.ID).
			Int("attempt", attempt).
			Int("max_attempts", d.maxAttempts).
			Msg("alert delivery failed")

		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-d.ctx.Done():
			d.metrics.RecordDrop()
			log.Error().Str("alert_id", a.ID).Msg("alert dropped: dispatcher shutting down")
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	d.metrics.RecordDrop()
	log.Error().
		Str("alert_id", a.ID).
		Str("type", string(a.Type)).
		Msg("alert dropped after exhausting delivery retries")
}

func (d *Dispatcher) post(body []byte) error {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("webhook returned %d: %w", resp.StatusCode, ErrPermanent)
	default:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
}
