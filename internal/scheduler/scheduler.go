// Package scheduler drives repeated scans: an interval loop with
// jitter, backoff after consecutive failures, and periodic maintenance
// jobs for settling predictions and re-arming the alert dedup window.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/ledger"
	"github.com/edgewatch/edgewatch/internal/pipeline"
	"github.com/edgewatch/edgewatch/internal/router"
)

// Defaults for an unset watch configuration.
const (
	DefaultInterval     = 5 * time.Minute
	DefaultJitter       = 30 * time.Second
	DefaultResendAfter  = 6 * time.Hour
	DefaultResolveEvery = 30 * time.Minute
	DefaultMaxBackoff   = time.Hour
)

// Config tunes the watch loop. Zero durations take the defaults above;
// a negative Jitter disables jitter and a negative ResendAfter or
// ResolveEvery disables that maintenance job.
type Config struct {
	Interval     time.Duration
	Jitter       time.Duration
	ResendAfter  time.Duration
	ResolveEvery time.Duration
	MaxBackoff   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Jitter == 0 {
		c.Jitter = DefaultJitter
	}
	if c.ResendAfter == 0 {
		c.ResendAfter = DefaultResendAfter
	}
	if c.ResolveEvery == 0 {
		c.ResolveEvery = DefaultResolveEvery
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// Scanner runs one scan. Satisfied by the pipeline engine.
type Scanner interface {
	Scan(ctx context.Context) (pipeline.Report, error)
}

// Watcher owns the watch loop around a scanner.
type Watcher struct {
	cfg     Config
	scanner Scanner
	rt      *router.Router

	led    *ledger.Ledger
	lookup ledger.OutcomeLookup

	// OnReport, when set before Run, receives every scan report
	// including aborted ones.
	OnReport func(pipeline.Report)

	failures    int
	lastResolve time.Time
	lastReset   time.Time
}

// New creates a watcher over a scanner and the router whose dedup
// cache it periodically clears.
func New(scanner Scanner, rt *router.Router, cfg Config) *Watcher {
	return &Watcher{
		cfg:     cfg.withDefaults(),
		scanner: scanner,
		rt:      rt,
	}
}

// SetLedger attaches the ledger and outcome lookup for the periodic
// settle sweep. Without both, the sweep is skipped.
func (w *Watcher) SetLedger(led *ledger.Ledger, lookup ledger.OutcomeLookup) {
	w.led = led
	w.lookup = lookup
}

// Run scans immediately, then on every interval until the context
// ends. Returns the context's error.
func (w *Watcher) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", w.cfg.Interval).
		Dur("jitter", w.cfg.Jitter).
		Msg("watch loop starting")

	now := time.Now()
	w.lastResolve = now
	w.lastReset = now

	w.scan(ctx)

	timer := time.NewTimer(w.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watch loop stopping")
			return ctx.Err()
		case <-timer.C:
			w.scan(ctx)
			w.maintain(ctx)
			timer.Reset(w.nextDelay())
		}
	}
}

// scan runs one pass and tracks the consecutive failure count that
// feeds the backoff.
func (w *Watcher) scan(ctx context.Context) {
	report, err := w.scanner.Scan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.failures++
		log.Error().
			Err(err).
			Int("consecutive_failures", w.failures).
			Msg("scan failed")
	} else {
		w.failures = 0
	}

	if w.OnReport != nil {
		w.OnReport(report)
	}
}

// maintain runs the periodic side jobs between scans.
func (w *Watcher) maintain(ctx context.Context) {
	if w.led != nil && w.lookup != nil && w.cfg.ResolveEvery > 0 && time.Since(w.lastResolve) >= w.cfg.ResolveEvery {
		w.lastResolve = time.Now()
		if resolved := w.led.CheckAndResolvePredictions(ctx, w.lookup); resolved > 0 {
			log.Info().Int("resolved", resolved).Msg("settle sweep resolved predictions")
		}
	}

	if w.cfg.ResendAfter > 0 && time.Since(w.lastReset) >= w.cfg.ResendAfter {
		w.lastReset = time.Now()
		w.rt.ClearSentMarketsCache()
		log.Info().Dur("window", w.cfg.ResendAfter).Msg("re-armed alert dedup cache")
	}
}

// nextDelay returns how long to wait before the next scan: the
// interval, doubled per consecutive failure up to the backoff cap,
// plus jitter so fleets of watchers spread out.
func (w *Watcher) nextDelay() time.Duration {
	delay := w.cfg.Interval
	for i := 0; i < w.failures && delay < w.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > w.cfg.MaxBackoff {
		delay = w.cfg.MaxBackoff
	}
	if w.cfg.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(w.cfg.Jitter)))
	}
	return delay
}
