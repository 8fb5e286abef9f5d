package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/internal/cache"
	"github.com/edgewatch/edgewatch/internal/detectors"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/processors"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// runSources lists what a scan would work with: registered sources,
// processors and detectors, plus any cache payloads a redis mirror
// would hand a restarted process.
func runSources(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	feeds, err := loadFeeds(cmd)
	if err != nil {
		return err
	}

	reg := registry.New()
	client := fetch.New(cfg.FetchClient())
	sources.Register(reg, client, feeds.Sources)
	detectors.Register(reg, feeds.Detectors)
	processors.Register(reg)

	sc := cache.New(reg, cfg.SourceCache())
	if cfg.Mirror.Enabled {
		ctx := context.Background()
		m, err := cache.NewMirror(ctx, cfg.Mirror.Addr, cfg.Mirror.DB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Mirror.Addr).Msg("Redis mirror unreachable")
		} else {
			defer m.Close()
			sc.SetMirror(m)
			sc.PrimeFromMirror(ctx)
		}
	}

	primary := make(map[string]bool, len(cfg.Scan.MarketSources))
	for _, name := range cfg.Scan.MarketSources {
		primary[name] = true
	}

	stats := reg.Stats()
	fmt.Printf("%d sources, %d processors, %d detectors (%d enabled)\n",
		stats.Sources, stats.Processors, stats.Detectors, stats.EnabledDetectors)

	fmt.Println("sources:")
	for _, src := range reg.Sources() {
		notes := make([]string, 0, 2)
		if primary[src.Name] {
			notes = append(notes, "market feed")
		}
		if src.Decode != nil {
			notes = append(notes, "mirrorable")
		}
		suffix := ""
		if len(notes) > 0 {
			suffix = "  (" + strings.Join(notes, ", ") + ")"
		}
		fmt.Printf("  %-20s %-14s ttl %s%s\n", src.Name, src.Category, src.TTL(), suffix)
	}

	fmt.Println("processors:")
	for _, proc := range reg.Processors() {
		fmt.Printf("  %-20s %s -> %s\n", proc.Name, strings.Join(proc.Inputs, "+"), proc.OutputName())
	}

	fmt.Println("detectors:")
	for _, det := range reg.Detectors() {
		state := "enabled"
		if !det.Enabled() {
			state = "disabled"
		}
		fmt.Printf("  %-20s %-9s needs %s\n", det.Name, state, strings.Join(det.Sources, ", "))
	}

	fmt.Println("cache:")
	for _, info := range sc.Snapshot() {
		if info.Populated {
			fmt.Printf("  %-20s populated, %s old\n", info.Source, info.Age.Round(time.Second))
		} else {
			fmt.Printf("  %-20s empty\n", info.Source)
		}
	}
	return nil
}
