// Package config loads and validates the watcher configuration.
//
// DESIGN: Environment variables are the primary surface (the watcher runs as
// a sidecar container and is configured through its .env). An optional YAML
// file can set the same fields, with ${VAR:-default} expansion; the
// environment always wins. Everything is loaded once at startup and is
// immutable afterwards except MAINTENANCE_MODE, which is re-read on SIGHUP
// and swapped atomically so the next processed record sees it.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xodeeq/poolwatch/internal/logsource"
	"github.com/xodeeq/poolwatch/internal/monitoring"
)

// Defaults for the optional settings.
const (
	DefaultAccessLogPath = "/var/log/nginx/access.log"
	DefaultHealthAddr    = ":9180"
	DefaultMaxAttempts   = 3
	DefaultBackoff       = time.Second
	DefaultShutdownGrace = 10 * time.Second
)

// Config is the process-wide watcher configuration.
type Config struct {
	WebhookURL         string           // empty = dry run, alerts only logged
	ErrorRateThreshold float64          // percent, 0-100
	WindowSize         int              // requests in the sliding window
	AlertCooldown      time.Duration    // min interval between same-type alerts
	AccessLogPath      string           // file the tailer follows
	LogFormat          logsource.Format // kv or json
	HealthAddr         string           // listen address for /healthz and /metrics
	HistoryDBPath      string           // empty = alert history disabled
	NotifyMaxAttempts  int              // delivery attempts per alert
	NotifyBackoff      time.Duration    // first retry delay, doubles
	ShutdownGrace      time.Duration    // wait for in-flight sends on shutdown
	Logging            monitoring.LoggerConfig

	maintenance atomic.Bool
}

// fileConfig is the YAML shape of the optional config file.
type fileConfig struct {
	WebhookURL         string                  `yaml:"webhook_url"`
	ErrorRateThreshold *float64                `yaml:"error_rate_threshold"`
	WindowSize         *int                    `yaml:"window_size"`
	AlertCooldownSec   *int                    `yaml:"alert_cooldown_sec"`
	MaintenanceMode    *bool                   `yaml:"maintenance_mode"`
	AccessLogPath      string                  `yaml:"access_log_path"`
	LogFormat          string                  `yaml:"log_format"`
	HealthAddr         string                  `yaml:"health_addr"`
	HistoryDBPath      string                  `yaml:"history_db_path"`
	NotifyMaxAttempts  *int                    `yaml:"notify_max_attempts"`
	NotifyBackoff      *time.Duration          `yaml:"notify_backoff"`
	ShutdownGrace      *time.Duration          `yaml:"shutdown_grace"`
	Logging            monitoring.LoggerConfig `yaml:"logging"`
}

// Load builds the configuration from the optional YAML file at path (empty
// path skips the file) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ErrorRateThreshold: 2,
		WindowSize:         200,
		AlertCooldown:      300 * time.Second,
		AccessLogPath:      DefaultAccessLogPath,
		LogFormat:          logsource.FormatKV,
		HealthAddr:         DefaultHealthAddr,
		NotifyMaxAttempts:  DefaultMaxAttempts,
		NotifyBackoff:      DefaultBackoff,
		ShutdownGrace:      DefaultShutdownGrace,
		Logging:            monitoring.LoggerConfig{Level: "info", Format: "json", Output: "stdout"},
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MaintenanceMode reports the current maintenance flag.
func (c *Config) MaintenanceMode() bool { return c.maintenance.Load() }

// SetMaintenanceMode swaps the maintenance flag.
func (c *Config) SetMaintenanceMode(on bool) { c.maintenance.Store(on) }

// ReloadMaintenance re-reads MAINTENANCE_MODE from the environment and
// applies it atomically. Called on SIGHUP; no other field is reloadable.
func (c *Config) ReloadMaintenance() bool {
	if raw, ok := os.LookupEnv("MAINTENANCE_MODE"); ok {
		c.maintenance.Store(parseBool(raw))
	}
	return c.maintenance.Load()
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expandEnvWithDefaults(string(data))), &fc); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}

	if fc.WebhookURL != "" {
		c.WebhookURL = fc.WebhookURL
	}
	if fc.ErrorRateThreshold != nil {
		c.ErrorRateThreshold = *fc.ErrorRateThreshold
	}
	if fc.WindowSize != nil {
		c.WindowSize = *fc.WindowSize
	}
	if fc.AlertCooldownSec != nil {
		c.AlertCooldown = time.Duration(*fc.AlertCooldownSec) * time.Second
	}
	if fc.MaintenanceMode != nil {
		c.maintenance.Store(*fc.MaintenanceMode)
	}
	if fc.AccessLogPath != "" {
		c.AccessLogPath = fc.AccessLogPath
	}
	if fc.LogFormat != "" {
		format, err := logsource.ParseFormat(fc.LogFormat)
		if err != nil {
			return err
		}
		c.LogFormat = format
	}
	if fc.HealthAddr != "" {
		c.HealthAddr = fc.HealthAddr
	}
	if fc.HistoryDBPath != "" {
		c.HistoryDBPath = fc.HistoryDBPath
	}
	if fc.NotifyMaxAttempts != nil {
		c.NotifyMaxAttempts = *fc.NotifyMaxAttempts
	}
	if fc.NotifyBackoff != nil {
		c.NotifyBackoff = *fc.NotifyBackoff
	}
	if fc.ShutdownGrace != nil {
		c.ShutdownGrace = *fc.ShutdownGrace
	}
	if fc.Logging.Level != "" {
		c.Logging.Level = fc.Logging.Level
	}
	if fc.Logging.Format != "" {
		c.Logging.Format = fc.Logging.Format
	}
	if fc.Logging.Output != "" {
		c.Logging.Output = fc.Logging.Output
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("SLACK_WEBHOOK_URL"); ok {
		c.WebhookURL = v
	}
	if v, ok := os.LookupEnv("ERROR_RATE_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ERROR_RATE_THRESHOLD %q: %w", v, err)
		}
		c.ErrorRateThreshold = f
	}
	if v, ok := os.LookupEnv("WINDOW_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WINDOW_SIZE %q: %w", v, err)
		}
		c.WindowSize = n
	}
	if v, ok := os.LookupEnv("ALERT_COOLDOWN_SEC"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ALERT_COOLDOWN_SEC %q: %w", v, err)
		}
		c.AlertCooldown = time.Duration(n) * time.Second
	}
	if v, ok := os.LookupEnv("MAINTENANCE_MODE"); ok {
		c.maintenance.Store(parseBool(v))
	}
	if v, ok := os.LookupEnv("ACCESS_LOG_PATH"); ok {
		c.AccessLogPath = v
	}
	if v, ok := os.LookupEnv("LOG_FORMAT"); ok {
		format, err := logsource.ParseFormat(v)
		if err != nil {
			return err
		}
		c.LogFormat = format
	}
	if v, ok := os.LookupEnv("HEALTH_ADDR"); ok {
		c.HealthAddr = v
	}
	if v, ok := os.LookupEnv("HISTORY_DB_PATH"); ok {
		c.HistoryDBPath = v
	}
	if v, ok := os.LookupEnv("NOTIFY_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NOTIFY_MAX_ATTEMPTS %q: %w", v, err)
		}
		c.NotifyMaxAttempts = n
	}
	if v, ok := os.LookupEnv("NOTIFY_BACKOFF"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NOTIFY_BACKOFF %q: %w", v, err)
		}
		c.NotifyBackoff = d
	}
	if v, ok := os.LookupEnv("SHUTDOWN_GRACE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SHUTDOWN_GRACE %q: %w", v, err)
		}
		c.ShutdownGrace = d
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration. Errors here are fatal: the process
// refuses to start rather than watch with a broken policy.
func (c *Config) Validate() error {
	if c.ErrorRateThreshold < 0 || c.ErrorRateThreshold > 100 {
		return fmt.Errorf("error_rate_threshold must be 0-100, got %g", c.ErrorRateThreshold)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	}
	if c.AlertCooldown < 0 {
		return fmt.Errorf("alert_cooldown_sec must be non-negative, got %s", c.AlertCooldown)
	}
	if c.AccessLogPath == "" {
		return fmt.Errorf("access_log_path is required")
	}
	if c.NotifyMaxAttempts < 1 {
		return fmt.Errorf("notify_max_attempts must be at least 1, got %d", c.NotifyMaxAttempts)
	}
	if c.NotifyBackoff <= 0 {
		return fmt.Errorf("notify_backoff must be positive, got %s", c.NotifyBackoff)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must be non-negative, got %s", c.ShutdownGrace)
	}
	if c.WebhookURL != "" && !strings.HasPrefix(c.WebhookURL, "http://") && !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook_url must be an http(s) URL, got %q", c.WebhookURL)
	}
	return nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// expandEnvWithDefaults expands environment variables with support for
// default values. Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
