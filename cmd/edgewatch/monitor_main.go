package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runMonitor serves the monitor API over an idle engine. Useful for
// inspecting the ledger and configuration without scanning; scan
// sections of /health and /status fill in once a watch process shares
// the ledger directory.
func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	feeds, err := loadFeeds(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, feeds)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := app.monitorServer()
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	log.Info().
		Str("health", fmt.Sprintf("http://%s/health", srv.GetAddress())).
		Str("status", fmt.Sprintf("http://%s/status", srv.GetAddress())).
		Str("metrics", fmt.Sprintf("http://%s/metrics", srv.GetAddress())).
		Str("feed", fmt.Sprintf("ws://%s/ws/feed", srv.GetAddress())).
		Msg("Monitor endpoints available")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("monitor server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
