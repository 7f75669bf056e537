// Package health exposes the watcher's own liveness, independent of the
// health of the pools it monitors.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/xodeeq/poolwatch/internal/monitoring"
)

const shutdownTimeout = 5 * time.Second

// Status is the live state reported by /healthz.
type Status struct {
	Pool            string
	MaintenanceMode bool
}

// StatusFunc supplies the current watcher state.
type StatusFunc func() Status

// Server serves /healthz and /metrics.
type Server struct {
	srv     *http.Server
	metrics *monitoring.Metrics
	status  StatusFunc
	started time.Time
}

// NewServer creates the health server on addr.
func NewServer(addr string, metrics *monitoring.Metrics, status StatusFunc) *Server {
	s := &Server{metrics: metrics, status: status, started: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the route mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("health server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	records, parseErrors, lastRecordAt := s.metrics.Snapshot()
	st := s.status()

	body := map[string]interface{}{
		"status":           "ok",
		"uptime_sec":       int64(time.Since(s.started).Seconds()),
		"records":          records,
		"parse_errors":     parseErrors,
		"pool":             st.Pool,
		"maintenance_mode": st.MaintenanceMode,
	}
	if !lastRecordAt.IsZero() {
		body["last_record_at"] = lastRecordAt.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
