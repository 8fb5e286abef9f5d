package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/internal/pipeline"
)

// runScan performs a single scan cycle and prints the report.
func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	feeds, err := loadFeeds(cmd)
	if err != nil {
		return err
	}
	if deadline, _ := cmd.Flags().GetInt("deadline"); deadline > 0 {
		cfg.Scan.DeadlineSecs = deadline
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, feeds)
	if err != nil {
		return err
	}
	defer app.Close()

	report, scanErr := app.engine.Scan(ctx)
	app.tracker.Record(report)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if report.State == pipeline.StateAborted {
		if report.Emitted == 0 {
			return fmt.Errorf("%w: %s", errAbortedEmpty, report.AbortReason)
		}
		// Alerts already went out before the deadline fell.
		log.Warn().Str("reason", report.AbortReason).Msg("Scan aborted after emitting, delivery may be partial")
		return nil
	}
	return scanErr
}

func printReport(report pipeline.Report) {
	fmt.Printf("Scan %s in %s\n", strings.ToLower(string(report.State)), report.Duration.Round(time.Millisecond))
	fmt.Printf("  sources   %s\n", strings.Join(report.Sources, ", "))
	fmt.Printf("  markets   %d tracked\n", report.Markets)
	if len(report.Processed) > 0 {
		fmt.Printf("  derived   %s\n", strings.Join(report.Processed, ", "))
	}
	fmt.Printf("  detected  %d candidates, %d passed gates\n", report.Detected, report.Emitted)

	reasons := make([]string, 0, len(report.GateDrops))
	for reason := range report.GateDrops {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Printf("  dropped   %d by %s\n", report.GateDrops[reason], reason)
	}

	fmt.Printf("  delivered %d alerts (%d suppressed as repeats, %d failed)\n",
		report.Dispatch.Delivered, report.Dispatch.Suppressed, report.Dispatch.Dropped)
	if report.Recorded > 0 {
		fmt.Printf("  recorded  %d predictions for calibration\n", report.Recorded)
	}
	if report.AbortReason != "" {
		fmt.Printf("  aborted   %s\n", report.AbortReason)
	}
}
