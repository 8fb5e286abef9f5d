package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/edgewatch/edgewatch/internal/metrics"
)

const (
	appName = "edgewatch"
	version = "v0.4.0"
)

// Exit codes, stable for scripts wrapping the CLI.
const (
	exitOK      = 0
	exitFatal   = 1
	exitAborted = 2
	exitUsage   = 64
)

// errBadArgs marks flag and argument mistakes so main exits 64.
var errBadArgs = errors.New("invalid arguments")

// errAbortedEmpty marks a scan that hit its deadline before emitting
// anything so main exits 2.
var errAbortedEmpty = errors.New("scan aborted with nothing emitted")

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	metrics.Initialize()

	rootCmd := &cobra.Command{
		Use:     "edgewatch",
		Short:   "Prediction market edge detection engine",
		Version: version,
		Long: `edgewatch scans prediction markets for mispriced contracts.

Sources feed a cached fetch layer, detectors turn fresh payloads into
candidate opportunities, gates drop the weak ones, and the router fans
the survivors out to webhooks, alert files and the live feed.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unknown command %q", errBadArgs, args[0])
			}
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errBadArgs, err)
	})
	// Accept underscore spellings like --no_server.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().String("config", "", "engine config file (default config/edgewatch.yaml)")
	rootCmd.PersistentFlags().String("feeds", "", "source catalog and detector tuning (default config/feeds.yaml)")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle and exit",
		Long:  "Fetches the planned sources, runs detectors and gates, routes the survivors, then prints the scan report.",
		Args:  noArgs,
		RunE:  runScan,
	}
	scanCmd.Flags().Int("deadline", 0, "scan deadline in seconds (overrides config)")
	scanCmd.Flags().Bool("json", false, "print the scan report as JSON")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Scan on an interval until interrupted",
		Long:  "Runs the scan loop with jitter and failure backoff, settles pending predictions between scans, and serves the monitor API alongside.",
		Args:  noArgs,
		RunE:  runWatch,
	}
	watchCmd.Flags().Int("interval", 0, "seconds between scans (overrides config)")
	watchCmd.Flags().Bool("no-server", false, "run the loop without the monitor HTTP server")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve the monitor HTTP API without scanning",
		Args:  noArgs,
		RunE:  runMonitor,
	}
	monitorCmd.Flags().String("host", "", "bind host (overrides config)")
	monitorCmd.Flags().Int("port", 0, "bind port (overrides config)")

	calibrationCmd := &cobra.Command{
		Use:   "calibration",
		Short: "Print the prediction calibration report",
		Args:  noArgs,
		RunE:  runCalibration,
	}
	calibrationCmd.Flags().Bool("resolve", false, "probe the platforms for settled markets first")
	calibrationCmd.Flags().Bool("json", false, "print the report as JSON")

	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "List registered sources and cache state",
		Args:  noArgs,
		RunE:  runSources,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  noArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(scanCmd, watchCmd, monitorCmd, calibrationCmd, sourcesCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		exitOn(err)
	}
}

// exitOn maps a command error onto the documented exit codes.
func exitOn(err error) {
	switch {
	case errors.Is(err, errBadArgs):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	case errors.Is(err, errAbortedEmpty):
		log.Error().Err(err).Msg("Scan aborted")
		os.Exit(exitAborted)
	default:
		log.Error().Err(err).Msg("Command failed")
		os.Exit(exitFatal)
	}
}

// noArgs rejects stray positional arguments with a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: unexpected argument %q", errBadArgs, args[0])
	}
	return nil
}
