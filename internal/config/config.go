// Package config loads the engine's two configuration files. The
// engine file tunes scanning, delivery, and the monitor server; the
// feeds file picks data sources and detector thresholds. Durations are
// written as integer seconds or minutes so the files stay obvious.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgewatch/edgewatch/internal/cache"
	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/gates"
	"github.com/edgewatch/edgewatch/internal/httpapi"
	"github.com/edgewatch/edgewatch/internal/pipeline"
	"github.com/edgewatch/edgewatch/internal/scheduler"
	"github.com/edgewatch/edgewatch/internal/sinks"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// Config is the engine half of the configuration.
type Config struct {
	Scan   ScanConfig   `yaml:"scan"`
	Watch  WatchConfig  `yaml:"watch"`
	Gates  gates.Config `yaml:"gates"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Cache  CacheConfig  `yaml:"cache"`
	Mirror MirrorConfig `yaml:"mirror"`
	Ledger LedgerConfig `yaml:"ledger"`
	Sinks  SinksConfig  `yaml:"sinks"`
	Server ServerConfig `yaml:"server"`
}

// ScanConfig tunes one scan pass.
type ScanConfig struct {
	DeadlineSecs  int      `yaml:"deadline_secs"`  // Wall-clock bound for a full scan
	MarketSources []string `yaml:"market_sources"` // Exchange feeds fetched on every scan
	DetectorLimit int      `yaml:"detector_limit"` // Detectors running at once
}

// Pipeline materializes the scan engine configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		ScanDeadline:  time.Duration(c.Scan.DeadlineSecs) * time.Second,
		MarketSources: c.Scan.MarketSources,
		DetectorLimit: c.Scan.DetectorLimit,
	}
}

// WatchConfig tunes the continuous watch loop. Zero values take the
// scheduler defaults; a negative resend_after_mins or
// resolve_every_mins disables that maintenance job.
type WatchConfig struct {
	IntervalSecs     int `yaml:"interval_secs"`
	JitterSecs       int `yaml:"jitter_secs"`
	ResendAfterMins  int `yaml:"resend_after_mins"`
	ResolveEveryMins int `yaml:"resolve_every_mins"`
	MaxBackoffMins   int `yaml:"max_backoff_mins"`
}

// Scheduler materializes the watch loop configuration. Signs carry
// through, so negative file values still disable their jobs.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		Interval:     time.Duration(c.Watch.IntervalSecs) * time.Second,
		Jitter:       time.Duration(c.Watch.JitterSecs) * time.Second,
		ResendAfter:  time.Duration(c.Watch.ResendAfterMins) * time.Minute,
		ResolveEvery: time.Duration(c.Watch.ResolveEveryMins) * time.Minute,
		MaxBackoff:   time.Duration(c.Watch.MaxBackoffMins) * time.Minute,
	}
}

// FetchConfig tunes the shared HTTP client all sources go through.
type FetchConfig struct {
	UserAgent   string        `yaml:"user_agent"`
	TimeoutSecs int           `yaml:"timeout_secs"`
	HostRPS     float64       `yaml:"host_rps"`
	HostBurst   int           `yaml:"host_burst"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the per-source circuit breakers.
type BreakerConfig struct {
	MaxRequests         uint32  `yaml:"max_requests"`         // Probes allowed half-open
	IntervalSecs        int     `yaml:"interval_secs"`        // Closed-state counting window
	TimeoutSecs         int     `yaml:"timeout_secs"`         // Open-state cooldown
	ErrorRateThreshold  float64 `yaml:"error_rate_threshold"` // Percent of requests failing
	ConsecutiveFailures uint32  `yaml:"consecutive_failures"`
}

// FetchClient materializes the shared client configuration.
func (c *Config) FetchClient() fetch.Config {
	return fetch.Config{
		UserAgent: c.Fetch.UserAgent,
		Timeout:   time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		HostRPS:   c.Fetch.HostRPS,
		HostBurst: c.Fetch.HostBurst,
		Breaker: fetch.BreakerConfig{
			MaxRequests:         c.Fetch.Breaker.MaxRequests,
			Interval:            time.Duration(c.Fetch.Breaker.IntervalSecs) * time.Second,
			Timeout:             time.Duration(c.Fetch.Breaker.TimeoutSecs) * time.Second,
			ErrorRateThreshold:  c.Fetch.Breaker.ErrorRateThreshold,
			ConsecutiveFailures: c.Fetch.Breaker.ConsecutiveFailures,
		},
	}
}

// CacheConfig tunes the source cache.
type CacheConfig struct {
	MaxFetchSecs int `yaml:"max_fetch_secs"` // Fetch bound regardless of TTL
}

// SourceCache materializes the cache configuration.
func (c *Config) SourceCache() cache.Config {
	return cache.Config{MaxFetchTime: time.Duration(c.Cache.MaxFetchSecs) * time.Second}
}

// MirrorConfig points at the optional Redis snapshot mirror.
type MirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// LedgerConfig locates prediction history on disk and, optionally, the
// long-term Postgres archive.
type LedgerConfig struct {
	Dir        string `yaml:"dir"`
	ArchiveDSN string `yaml:"archive_dsn"`
}

// SinksConfig wires delivery destinations. An empty file_dir disables
// the file sink.
type SinksConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
	FileDir string        `yaml:"file_dir"`
}

// WebhookConfig maps channel names to endpoint URLs.
type WebhookConfig struct {
	URLs        map[string]string `yaml:"urls"`
	FallbackURL string            `yaml:"fallback_url"`
	TimeoutSecs int               `yaml:"timeout_secs"`
}

// WebhookSink materializes the webhook sink configuration.
func (c *Config) WebhookSink() sinks.WebhookConfig {
	urls := make(map[domain.Channel]string, len(c.Sinks.Webhook.URLs))
	for name, url := range c.Sinks.Webhook.URLs {
		urls[domain.Channel(name)] = url
	}
	return sinks.WebhookConfig{
		URLs:        urls,
		FallbackURL: c.Sinks.Webhook.FallbackURL,
		Timeout:     time.Duration(c.Sinks.Webhook.TimeoutSecs) * time.Second,
	}
}

// ServerConfig tunes the monitor HTTP server.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
	IdleTimeoutSecs  int    `yaml:"idle_timeout_secs"`
}

// MonitorServer materializes the monitor server configuration.
func (c *Config) MonitorServer() httpapi.ServerConfig {
	return httpapi.ServerConfig{
		Host:         c.Server.Host,
		Port:         c.Server.Port,
		ReadTimeout:  time.Duration(c.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(c.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(c.Server.IdleTimeoutSecs) * time.Second,
	}
}

// Default returns the stock engine configuration with environment
// overrides applied.
func Default() *Config {
	cfg := &Config{
		Scan: ScanConfig{
			DeadlineSecs:  120,
			MarketSources: sources.MarketSourceNames(),
			DetectorLimit: 4,
		},
		Watch: WatchConfig{
			IntervalSecs:     300,
			JitterSecs:       30,
			ResendAfterMins:  360,
			ResolveEveryMins: 30,
			MaxBackoffMins:   60,
		},
		Gates: *gates.DefaultConfig(),
		Fetch: FetchConfig{
			UserAgent:   "edgewatch/1.0",
			TimeoutSecs: 30,
			HostRPS:     4,
			HostBurst:   8,
			Breaker: BreakerConfig{
				MaxRequests:         3,
				IntervalSecs:        60,
				TimeoutSecs:         30,
				ErrorRateThreshold:  50.0,
				ConsecutiveFailures: 5,
			},
		},
		Cache:  CacheConfig{MaxFetchSecs: 30},
		Mirror: MirrorConfig{Addr: "localhost:6379"},
		Ledger: LedgerConfig{Dir: filepath.Join("data", "ledger")},
		Sinks: SinksConfig{
			Webhook: WebhookConfig{TimeoutSecs: 5},
			FileDir: filepath.Join("data", "alerts"),
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			ReadTimeoutSecs:  10,
			WriteTimeoutSecs: 10,
			IdleTimeoutSecs:  60,
		},
	}
	cfg.applyEnv()
	return cfg
}

// Load reads the engine configuration, layering the file over the
// defaults. Keys absent from the file keep their default values and
// environment overrides win over both.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return cfg, nil
}

// applyEnv layers environment overrides on top of whatever the file
// provided. Deployment secrets stay out of the YAML this way.
func (c *Config) applyEnv() {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if url := os.Getenv("EDGEWATCH_WEBHOOK_URL"); url != "" {
		c.Sinks.Webhook.FallbackURL = url
	}
	if dir := os.Getenv("EDGEWATCH_LEDGER_DIR"); dir != "" {
		c.Ledger.Dir = dir
	}
	if addr := os.Getenv("EDGEWATCH_REDIS_ADDR"); addr != "" {
		c.Mirror.Enabled = true
		c.Mirror.Addr = addr
	}
	if dsn := os.Getenv("EDGEWATCH_ARCHIVE_DSN"); dsn != "" {
		c.Ledger.ArchiveDSN = dsn
	}
}

// Validate ensures the configuration is consistent.
func (c *Config) Validate() error {
	if c.Scan.DeadlineSecs < 0 {
		return fmt.Errorf("scan deadline_secs cannot be negative, got %d", c.Scan.DeadlineSecs)
	}
	if c.Scan.DetectorLimit < 0 {
		return fmt.Errorf("scan detector_limit cannot be negative, got %d", c.Scan.DetectorLimit)
	}
	if err := validateGates(c.Gates); err != nil {
		return fmt.Errorf("gates: %w", err)
	}
	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if c.Cache.MaxFetchSecs < 0 {
		return fmt.Errorf("cache max_fetch_secs cannot be negative, got %d", c.Cache.MaxFetchSecs)
	}
	if err := c.Mirror.Validate(); err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	if c.Ledger.Dir == "" {
		return fmt.Errorf("ledger dir cannot be empty")
	}
	if err := c.Sinks.Webhook.Validate(); err != nil {
		return fmt.Errorf("sinks webhook: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func validateGates(g gates.Config) error {
	if g.MinPrice < 0 || g.MinPrice >= 1 {
		return fmt.Errorf("min_price must be in [0, 1), got %.2f", g.MinPrice)
	}
	if g.MaxPrice <= 0 || g.MaxPrice > 1 {
		return fmt.Errorf("max_price must be in (0, 1], got %.2f", g.MaxPrice)
	}
	if g.MinPrice >= g.MaxPrice {
		return fmt.Errorf("min_price (%.2f) must be below max_price (%.2f)", g.MinPrice, g.MaxPrice)
	}
	if g.BaseMaxEdge <= 0 || g.BaseMaxEdge > 1 {
		return fmt.Errorf("base_max_edge must be in (0, 1], got %.2f", g.BaseMaxEdge)
	}
	if g.TrustedMaxEdge < g.BaseMaxEdge || g.TrustedMaxEdge > 1 {
		return fmt.Errorf("trusted_max_edge (%.2f) must be between base_max_edge (%.2f) and 1", g.TrustedMaxEdge, g.BaseMaxEdge)
	}
	if g.MinConfidence < 0 || g.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %.2f", g.MinConfidence)
	}
	return nil
}

// Validate ensures the shared client configuration is sane.
func (f *FetchConfig) Validate() error {
	if f.TimeoutSecs < 0 {
		return fmt.Errorf("timeout_secs cannot be negative, got %d", f.TimeoutSecs)
	}
	if f.HostRPS < 0 {
		return fmt.Errorf("host_rps cannot be negative, got %.1f", f.HostRPS)
	}
	if f.HostBurst < 0 {
		return fmt.Errorf("host_burst cannot be negative, got %d", f.HostBurst)
	}
	if f.Breaker.ErrorRateThreshold < 0 || f.Breaker.ErrorRateThreshold > 100 {
		return fmt.Errorf("breaker error_rate_threshold must be between 0 and 100, got %.1f", f.Breaker.ErrorRateThreshold)
	}
	if f.Breaker.IntervalSecs < 0 {
		return fmt.Errorf("breaker interval_secs cannot be negative, got %d", f.Breaker.IntervalSecs)
	}
	if f.Breaker.TimeoutSecs < 0 {
		return fmt.Errorf("breaker timeout_secs cannot be negative, got %d", f.Breaker.TimeoutSecs)
	}
	return nil
}

// Validate ensures the mirror is reachable in principle when enabled.
func (m *MirrorConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Addr == "" {
		return fmt.Errorf("addr cannot be empty when the mirror is enabled")
	}
	if m.DB < 0 {
		return fmt.Errorf("db cannot be negative, got %d", m.DB)
	}
	return nil
}

// Validate rejects unknown channel names so typos fail at startup
// instead of silently routing to the fallback URL.
func (w *WebhookConfig) Validate() error {
	for name := range w.URLs {
		if !domain.Channel(name).Valid() {
			return fmt.Errorf("unknown channel %q", name)
		}
	}
	if w.TimeoutSecs < 0 {
		return fmt.Errorf("timeout_secs cannot be negative, got %d", w.TimeoutSecs)
	}
	return nil
}

// Validate ensures the monitor server can bind.
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.ReadTimeoutSecs < 0 {
		return fmt.Errorf("read_timeout_secs cannot be negative, got %d", s.ReadTimeoutSecs)
	}
	if s.WriteTimeoutSecs < 0 {
		return fmt.Errorf("write_timeout_secs cannot be negative, got %d", s.WriteTimeoutSecs)
	}
	if s.IdleTimeoutSecs < 0 {
		return fmt.Errorf("idle_timeout_secs cannot be negative, got %d", s.IdleTimeoutSecs)
	}
	return nil
}

// DefaultPath returns the conventional location of the engine file.
func DefaultPath() string {
	return filepath.Join("config", "edgewatch.yaml")
}
