package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/ledger"
	"github.com/edgewatch/edgewatch/internal/ledger/archive"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// runCalibration prints how well past predictions have held up.
func runCalibration(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	feeds, err := loadFeeds(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	led := ledger.New(cfg.Ledger.Dir)
	if cfg.Ledger.ArchiveDSN != "" {
		pg, err := archive.Open(ctx, cfg.Ledger.ArchiveDSN)
		if err != nil {
			log.Warn().Err(err).Msg("Prediction archive unreachable, resolving without it")
		} else {
			led.SetArchiver(pg)
			defer pg.Close()
		}
	}

	if resolve, _ := cmd.Flags().GetBool("resolve"); resolve {
		client := fetch.New(cfg.FetchClient())
		resolved := led.CheckAndResolvePredictions(ctx, sources.SettlementLookup(client, feeds.Sources))
		fmt.Printf("Resolved %d pending predictions\n", resolved)
	}

	report := led.Calibration()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printCalibration(report, len(led.Pending()))
	return nil
}

func printCalibration(report ledger.Report, pending int) {
	fmt.Printf("Calibration over %d resolved of %d predictions (%d pending)\n",
		report.ResolvedCount, report.TotalPredictions, pending)
	if report.ResolvedCount == 0 {
		fmt.Println("Nothing resolved yet. Run `edgewatch calibration --resolve` once markets settle.")
		return
	}

	fmt.Printf("  brier score      %.4f\n", report.BrierScore)
	fmt.Printf("  accuracy         %.1f%%\n", report.DirectionalAccuracy*100)
	fmt.Printf("  mean confidence  %.1f%%\n", report.MeanConfidence*100)
	fmt.Printf("  calibration err  %.4f", report.CalibrationError)
	if report.Overconfident {
		fmt.Printf("  (overconfident)")
	}
	fmt.Println()

	fmt.Println("  reliability curve:")
	for _, bucket := range report.Buckets {
		if bucket.Count == 0 {
			continue
		}
		fmt.Printf("    %.1f-%.1f  %4d predictions  %3.0f%% came true\n",
			bucket.Low, bucket.High, bucket.Count, bucket.EmpiricalYes*100)
	}

	printGroupMetrics("by category:", report.ByCategory)
	printGroupMetrics("by signal:", report.BySignal)

	if report.Rolling7d != nil {
		fmt.Printf("  last 7d   %d resolved  brier %.4f  accuracy %.0f%%\n",
			report.Rolling7d.Count, report.Rolling7d.Brier, report.Rolling7d.Accuracy*100)
	}
	if report.Rolling30d != nil {
		fmt.Printf("  last 30d  %d resolved  brier %.4f  accuracy %.0f%%\n",
			report.Rolling30d.Count, report.Rolling30d.Brier, report.Rolling30d.Accuracy*100)
	}
}

func printGroupMetrics(title string, groups map[string]ledger.GroupMetrics) {
	if len(groups) == 0 {
		return
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("  %s\n", title)
	for _, name := range names {
		m := groups[name]
		fmt.Printf("    %-16s %4d resolved  brier %.4f  accuracy %3.0f%%\n",
			name, m.Count, m.Brier, m.Accuracy*100)
	}
}
