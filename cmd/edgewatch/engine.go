package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/internal/cache"
	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/detectors"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/httpapi"
	"github.com/edgewatch/edgewatch/internal/ledger"
	"github.com/edgewatch/edgewatch/internal/ledger/archive"
	"github.com/edgewatch/edgewatch/internal/pipeline"
	"github.com/edgewatch/edgewatch/internal/processors"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/router"
	"github.com/edgewatch/edgewatch/internal/sinks"
	"github.com/edgewatch/edgewatch/internal/sources"
	"github.com/edgewatch/edgewatch/internal/status"
)

// app is the fully wired engine shared by the command handlers.
type app struct {
	cfg     *config.Config
	feeds   config.Feeds
	reg     *registry.Registry
	client  *fetch.Client
	cache   *cache.SourceCache
	mirror  *cache.Mirror
	ledger  *ledger.Ledger
	archive *archive.Postgres
	router  *router.Router
	webhook *sinks.WebhookSink
	feed    *sinks.FeedSink
	hub     *httpapi.Hub
	engine  *pipeline.Engine
	tracker *status.Tracker
}

// loadConfig reads the engine config named by --config, or layers the
// conventional file over the defaults when it exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultPath()); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(config.DefaultPath())
}

// loadFeeds does the same for the source catalog and detector tuning.
func loadFeeds(cmd *cobra.Command) (config.Feeds, error) {
	path, _ := cmd.Flags().GetString("feeds")
	if path != "" {
		return config.LoadFeeds(path)
	}
	if _, err := os.Stat(config.DefaultFeedsPath()); errors.Is(err, os.ErrNotExist) {
		return config.DefaultFeeds(), nil
	}
	return config.LoadFeeds(config.DefaultFeedsPath())
}

// buildApp wires the registry, cache, ledger, router and pipeline from
// the loaded configuration. The optional pieces, the redis mirror and
// the postgres archive, degrade to warnings when unreachable.
func buildApp(ctx context.Context, cfg *config.Config, feeds config.Feeds) (*app, error) {
	reg := registry.New()
	client := fetch.New(cfg.FetchClient())
	sources.Register(reg, client, feeds.Sources)
	detectors.Register(reg, feeds.Detectors)
	processors.Register(reg)

	primaries := 0
	for _, name := range cfg.Scan.MarketSources {
		if _, ok := reg.Source(name); ok {
			primaries++
		}
	}
	if primaries == 0 {
		return nil, fmt.Errorf("no primary market source registered, wanted one of %v", cfg.Scan.MarketSources)
	}

	sc := cache.New(reg, cfg.SourceCache())
	var mirror *cache.Mirror
	if cfg.Mirror.Enabled {
		m, err := cache.NewMirror(ctx, cfg.Mirror.Addr, cfg.Mirror.DB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Mirror.Addr).Msg("Redis mirror unreachable, running without it")
		} else {
			mirror = m
			sc.SetMirror(m)
			if primed := sc.PrimeFromMirror(ctx); primed > 0 {
				log.Info().Int("sources", primed).Msg("Cache primed from redis mirror")
			}
		}
	}

	led := ledger.New(cfg.Ledger.Dir)
	var pg *archive.Postgres
	if cfg.Ledger.ArchiveDSN != "" {
		p, err := archive.Open(ctx, cfg.Ledger.ArchiveDSN)
		if err != nil {
			log.Warn().Err(err).Msg("Prediction archive unreachable, running without it")
		} else {
			pg = p
			led.SetArchiver(pg)
		}
	}

	rt := router.New()
	hub := httpapi.NewHub()
	webhook := sinks.NewWebhookSink(cfg.WebhookSink())
	rt.AttachAll(webhook)
	feed := sinks.NewFeedSink(hub)
	rt.AttachAll(feed)
	if cfg.Sinks.FileDir != "" {
		rt.AttachAll(sinks.NewFileSink(cfg.Sinks.FileDir))
	}

	eng := pipeline.New(reg, sc, rt, cfg.Pipeline())
	eng.SetLedger(led)
	eng.SetGateConfig(&cfg.Gates)

	return &app{
		cfg:     cfg,
		feeds:   feeds,
		reg:     reg,
		client:  client,
		cache:   sc,
		mirror:  mirror,
		ledger:  led,
		archive: pg,
		router:  rt,
		webhook: webhook,
		feed:    feed,
		hub:     hub,
		engine:  eng,
		tracker: status.NewTracker(),
	}, nil
}

// Close disconnects feed clients and the optional external stores.
func (a *app) Close() {
	a.hub.Close()
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing redis mirror failed")
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing prediction archive failed")
		}
	}
}

// monitorServer builds the read-only HTTP API over the app.
func (a *app) monitorServer() (*httpapi.Server, error) {
	deps := httpapi.Deps{
		Tracker:  a.tracker,
		Engine:   a.engine,
		Registry: a.reg,
		Cache:    a.cache,
		Ledger:   a.ledger,
		Breakers: a.client,
		Hub:      a.hub,
	}
	// A nil *archive.Postgres must not end up as a non-nil interface.
	if a.archive != nil {
		deps.Archive = a.archive
	}
	return httpapi.NewServer(a.cfg.MonitorServer(), deps)
}
