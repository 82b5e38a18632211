// cdnsim generates synthetic CDN monitoring logs calibrated for
// 95th-percentile billing, and validates, stores, or pushes them.
//
// Only point it at test environments.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
)

var version = "0.1.0"

// errCancelled is returned when the user declines the push confirmation
var errCancelled = errors.New("cancelled by user")

// gbpsToTBPerDay converts an average Gbps to TB per day
const gbpsToTBPerDay = 10.54 / 1024

// globalOptions holds the persistent flags
type globalOptions struct {
	configPath string
	dryRun     bool
	yes        bool
	logLevel   string

	in    io.Reader
	isTTY func() bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &globalOptions{
		in:    os.Stdin,
		isTTY: func() bool { return isatty.IsTerminal(os.Stdin.Fd()) },
	}
	err := newRootCmd(opts).ExecuteContext(ctx)
	switch {
	case errors.Is(err, errCancelled):
		fmt.Fprintln(os.Stderr, "Cancelled")
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted")
	case err != nil:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *globalOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cdnsim",
		Short: "Synthetic CDN log generator for 95th-percentile billing tests",
		Long: `cdnsim generates CDN monitoring logs whose billed bandwidth
(the mean of daily 95th percentiles) matches a configured target.

Modes:
  simulation   generate the whole window at once
  realtime     generate and push the current interval on a schedule
  catchup      backfill a historical date range
  validate     check a JSONL log file against the target
  billing      estimate 95th-percentile billing for a JSONL log file
  migrate      import a JSONL log file into SQLite

Never push synthetic logs to a production system.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "./config.yaml", "configuration file")
	pf.BoolVar(&opts.dryRun, "dry-run", false, "never push to the API")
	pf.BoolVarP(&opts.yes, "yes", "y", false, "skip the push confirmation prompt")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to log.level")

	rootCmd.AddCommand(
		newSimulationCmd(opts),
		newRealtimeCmd(opts),
		newCatchupCmd(opts),
		newValidateCmd(opts),
		newBillingCmd(opts),
		newMigrateCmd(opts),
	)
	return rootCmd
}

// loadConfig loads the config, applies --dry-run, installs the logger and
// prints the configuration summary
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dryRun {
		cfg.Mode.DryRun = true
	}
	setupLogger(opts, cfg.Log)

	daily := cfg.Target.BandwidthGbps * gbpsToTBPerDay
	fmt.Fprintf(cmd.OutOrStdout(), `Target bandwidth: %g Gbps
Expected volume:  %.2f TB/day, %.2f TB over %d days
Interval:         %d s
Dry run:          %t
`, cfg.Target.BandwidthGbps, daily, daily*float64(cfg.Time.DurationDays), cfg.Time.DurationDays,
		cfg.Time.IntervalSeconds, cfg.Mode.DryRun)
	return cfg, nil
}

// setupLogger installs the process logger on stderr; stdout carries reports
func setupLogger(opts *globalOptions, lc config.Log) {
	level := lc.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger.SetDefault(logger.NewFormat(lc.Format, level, os.Stderr))
}

// confirmPush checks that a real push is configured and confirmed.
// It is a no-op in dry-run mode.
func confirmPush(cmd *cobra.Command, opts *globalOptions, cfg *config.Config) error {
	if cfg.Mode.DryRun {
		return nil
	}
	if cfg.API.Endpoint == "" {
		return fmt.Errorf("api.endpoint is not set (export %s=<endpoint>)", config.EnvAPIEndpoint)
	}
	if cfg.API.Headers["vip"] == "" {
		return fmt.Errorf("api vip header is not set (export %s=<vip>)", config.EnvAPIVIP)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "WARNING: dry run is off, logs will be pushed to %s\n", cfg.API.Endpoint)
	switch {
	case opts.yes:
		return nil
	case opts.isTTY == nil || !opts.isTTY():
		return fmt.Errorf("non-interactive push requires -y/--yes")
	}

	fmt.Fprint(out, "Continue? (yes/no): ")
	answer, err := bufio.NewReader(opts.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.ToLower(strings.TrimSpace(answer)) != "yes" {
		return errCancelled
	}
	return nil
}
