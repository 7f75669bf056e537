// Package main is the entry point for the poolwatch alert watcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/capatazlib/go-capataz/cap"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/xodeeq/poolwatch/internal/config"
	"github.com/xodeeq/poolwatch/internal/health"
	"github.com/xodeeq/poolwatch/internal/history"
	"github.com/xodeeq/poolwatch/internal/logsource"
	"github.com/xodeeq/poolwatch/internal/monitoring"
	"github.com/xodeeq/poolwatch/internal/notify"
	"github.com/xodeeq/poolwatch/internal/watcher"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const banner = `
 █▀█ █▀█ █▀█ █   █ █ █ ▄▀█ ▀█▀ █▀▀ █ █
 █▀▀ █▄█ █▄█ █▄▄ ▀▄▀▄▀ █▀█  █  █▄▄ █▀█
`

func main() {
	// Local .env first; containers usually inject the environment directly.
	_ = godotenv.Load()

	fs := flag.NewFlagSet("poolwatch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to optional YAML config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	noBanner := fs.Bool("no-banner", false, "suppress startup banner")
	version := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *version {
		fmt.Println("poolwatch", Version)
		return
	}
	if !*noBanner {
		fmt.Print(banner + "\n")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolwatch: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	monitoring.Global(cfg.Logging)

	log.Info().
		Str("version", Version).
		Str("access_log", cfg.AccessLogPath).
		Str("log_format", string(cfg.LogFormat)).
		Bool("webhook_configured", cfg.WebhookURL != "").
		Bool("maintenance_mode", cfg.MaintenanceMode()).
		Msg("poolwatch starting")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("poolwatch failed")
	}
	log.Info().Msg("poolwatch stopped")
}

func run(cfg *config.Config) error {
	metrics := monitoring.NewMetrics()

	var hist *history.Store
	if cfg.HistoryDBPath != "" {
		var err error
		hist, err = history.Open(cfg.HistoryDBPath)
		if err != nil {
			return err
		}
		defer hist.Close()
		log.Info().Str("path", cfg.HistoryDBPath).Msg("alert history enabled")
	}

	dispatcher := notify.NewDispatcher(cfg.WebhookURL, notify.Options{
		MaxAttempts: cfg.NotifyMaxAttempts,
		Backoff:     cfg.NotifyBackoff,
	}, metrics)

	w := watcher.New(cfg, dispatcher, metrics, hist, nil)

	healthSrv := health.NewServer(cfg.HealthAddr, metrics, func() health.Status {
		return health.Status{
			Pool:            w.CurrentPool(),
			MaintenanceMode: cfg.MaintenanceMode(),
		}
	})

	// Supervision tree: the tailer and the pipeline share an unbuffered
	// record channel (backpressure by construction), the health server runs
	// beside them. A crashed worker is restarted in place.
	spec := cap.NewSupervisorSpec(
		"poolwatch",
		func() ([]cap.Node, cap.CleanupResourcesFn, error) {
			records := make(chan logsource.Record)
			parser := logsource.NewParser(cfg.LogFormat, nil)
			tailer := logsource.NewTailer(cfg.AccessLogPath, parser, metrics, 0)

			nodes := []cap.Node{
				cap.NewWorker("tailer", func(ctx context.Context) error {
					return tailer.Run(ctx, records)
				}),
				cap.NewWorker("pipeline", func(ctx context.Context) error {
					return w.Run(ctx, records)
				}),
				cap.NewWorker("health", healthSrv.Run),
			}
			cleanup := func() error { return nil }
			return nodes, cleanup, nil
		},
		cap.WithNotifier(supervisionNotifier),
	)

	sup, err := spec.Start(context.Background())
	if err != nil {
		return fmt.Errorf("starting supervision tree: %w", err)
	}

	waitForShutdown(cfg)

	if err := sup.Terminate(); err != nil {
		log.Error().Err(err).Msg("supervision tree terminated with error")
	}

	// In-flight notifications get a bounded grace period.
	graceCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := dispatcher.Close(graceCtx); err != nil {
		log.Warn().Err(err).Msg("dispatcher close")
	}
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, applying maintenance-mode
// reloads on SIGHUP along the way.
func waitForShutdown(cfg *config.Config) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			on := cfg.ReloadMaintenance()
			log.Info().Bool("maintenance_mode", on).Msg("maintenance mode reloaded")
			continue
		}
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		return
	}
}

// supervisionNotifier bridges capataz supervision events into zerolog.
func supervisionNotifier(ev cap.Event) {
	e := log.Debug()
	if ev.Err() != nil {
		e = log.Error().Err(ev.Err())
	}
	e.Str("process", ev.GetProcessRuntimeName()).Msg(ev.GetTag().String())
}
