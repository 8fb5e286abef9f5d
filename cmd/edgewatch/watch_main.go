package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/internal/pipeline"
	"github.com/edgewatch/edgewatch/internal/scheduler"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// runWatch runs the scan loop and the monitor API until interrupted.
func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	feeds, err := loadFeeds(cmd)
	if err != nil {
		return err
	}
	if interval, _ := cmd.Flags().GetInt("interval"); interval > 0 {
		cfg.Watch.IntervalSecs = interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, feeds)
	if err != nil {
		return err
	}
	defer app.Close()

	watcher := scheduler.New(app.engine, app.router, cfg.Scheduler())
	watcher.SetLedger(app.ledger, sources.SettlementLookup(app.client, feeds.Sources))
	watcher.OnReport = func(report pipeline.Report) {
		app.tracker.Record(report)
		update := app.tracker.Snapshot()
		app.feed.PostStatus(update)
		app.webhook.PostStatus(ctx, update)
	}

	serverErr := make(chan error, 1)
	if noServer, _ := cmd.Flags().GetBool("no-server"); !noServer {
		srv, err := app.monitorServer()
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(); err != nil {
				serverErr <- err
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Monitor shutdown error")
			}
		}()
	}

	log.Info().
		Dur("interval", cfg.Scheduler().Interval).
		Int("sources", len(app.reg.Sources())).
		Msg("Watch loop starting")

	runErr := make(chan error, 1)
	go func() { runErr <- watcher.Run(ctx) }()

	select {
	case err := <-serverErr:
		stop()
		<-runErr
		return fmt.Errorf("monitor server: %w", err)
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	log.Info().Msg("Watch loop stopped")
	return nil
}
