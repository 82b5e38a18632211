package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/cdnsim/internal/engine"
	"github.com/GoSim-25-26J-441/cdnsim/internal/metrics"
	"github.com/GoSim-25-26J-441/cdnsim/internal/pusher"
	"github.com/GoSim-25-26J-441/cdnsim/internal/scheduler"
	"github.com/GoSim-25-26J-441/cdnsim/internal/storage"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
)

const (
	defaultUnitPrice     = 100
	defaultFluxUnitPrice = 0.8
)

// newPusher builds the configured pusher; the audit log goes to output_dir when saving locally
func newPusher(cfg *config.Config) (*pusher.Pusher, error) {
	outputDir := ""
	if cfg.Mode.SaveLocal {
		outputDir = cfg.Mode.OutputDir
	}
	return pusher.New(cfg.API, cfg.Mode.DryRun, outputDir)
}

// openStore opens the configured SQLite store, nil when storage is disabled
func openStore(cfg *config.Config) (*storage.Store, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	return storage.Open(cfg.Storage.Path)
}

func newSimulationCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "simulation",
		Short: "Generate the whole window, save, validate, and optionally push",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := confirmPush(cmd, opts, cfg); err != nil {
				return err
			}
			return runSimulation(cmd, cfg)
		},
	}
}

func runSimulation(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	orch, err := engine.NewOrchestrator(cfg, nil)
	if err != nil {
		return err
	}
	res, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	if err := metrics.WriteSummary(out, res.Stats); err != nil {
		return err
	}
	fmt.Fprintln(out, seedLine(res.Seed))

	if cfg.Mode.SaveLocal {
		saver := pusher.NewLocalSaver(cfg.Mode.OutputDir)
		if _, err := saver.SaveLogsJSONL(res.Logs); err != nil {
			return err
		}
		if _, err := saver.SaveStats(res); err != nil {
			return err
		}
		if _, err := saver.SaveCurve(res.Samples); err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		if db != nil {
			_, err = saver.SaveLogs(ctx, db, res.Logs)
			db.Close()
			if err != nil {
				return err
			}
		}
	}

	report, err := metrics.Validate(res.Logs, cfg.Target.BandwidthGbps)
	if err != nil {
		return err
	}
	if err := metrics.WriteReport(out, report); err != nil {
		return err
	}

	billing, err := metrics.NewBillingEstimator(cfg.Time.IntervalSeconds, cfg.Billing.FluxUnitPrice).
		Estimate(res.Curve, cfg.Billing.UnitPrice)
	if err != nil {
		return err
	}
	if err := metrics.WriteBillingReport(out, billing); err != nil {
		return err
	}

	if cfg.Mode.DryRun {
		fmt.Fprintln(out, "Dry run: skipping push")
		return nil
	}
	p, err := newPusher(cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	stats, err := p.PushAll(ctx, res.Logs)
	fmt.Fprintf(out, "Pushed %d of %d entries (%d failed, %d retries)\n", stats.Success, stats.Total, stats.Failed, stats.Retries)
	return err
}

func newRealtimeCmd(opts *globalOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Generate and push the current interval on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := confirmPush(cmd, opts, cfg); err != nil {
				return err
			}

			p, err := newPusher(cfg)
			if err != nil {
				return err
			}
			defer p.Close()
			rt, err := scheduler.NewRealtime(cfg, p)
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
				rt.SetStore(db)
			}

			if !once {
				fmt.Fprintf(cmd.OutOrStdout(), "Realtime scheduler running (%s), press Ctrl+C to stop\n", rt.Schedule())
				return rt.Run(cmd.Context())
			}
			res, err := rt.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "Interval %s already pushed\n", res.Timestamp.Format("2006-01-02 15:04:05"))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Interval %s #%d: %.2f Gbps, pushed %d, failed %d, stored %d\n",
				res.Timestamp.Format("2006-01-02 15:04:05"), res.Index, res.BandwidthGbps, res.Pushed, res.Failed, res.Stored)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "push a single interval and exit")
	return cmd
}

func newCatchupCmd(opts *globalOptions) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "catchup",
		Short: "Backfill a historical date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := confirmPush(cmd, opts, cfg); err != nil {
				return err
			}

			p, err := newPusher(cfg)
			if err != nil {
				return err
			}
			defer p.Close()
			c := scheduler.NewCatchup(cfg, p)
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
				c.SetStore(db)
			}

			report, err := c.Run(cmd.Context(), start, end)
			if report != nil {
				out := cmd.OutOrStdout()
				_ = metrics.WriteSummary(out, report.Stats)
				fmt.Fprintf(out, "Catchup %s..%s: pushed %d of %d, stored %d\n",
					report.Start, report.End, report.Push.Success, report.Push.Total, report.Stored)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&start, "start-date", "", "first day to backfill (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end-date", "", "day after the last backfilled day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start-date")
	_ = cmd.MarkFlagRequired("end-date")
	return cmd
}

func newValidateCmd(opts *globalOptions) *cobra.Command {
	var logFile string
	var target float64
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a JSONL log file against the billing target",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target <= 0 {
				cfg, err := loadConfig(cmd, opts)
				if err != nil {
					return err
				}
				target = cfg.Target.BandwidthGbps
			} else {
				setupLogger(opts, config.Default().Log)
			}

			logs, err := metrics.LoadJSONL(logFile)
			if err != nil {
				return err
			}
			report, err := metrics.Validate(logs, target)
			if err != nil {
				return err
			}
			if err := metrics.WriteReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Validation.Passed {
				return fmt.Errorf("billed bandwidth %.2f Gbps deviates %.2f%% from %.2f Gbps",
					report.Validation.BilledGbps, report.Validation.DeviationPercent, target)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "JSONL log file")
	cmd.Flags().Float64Var(&target, "target", 0, "target Gbps; defaults to target.bandwidth_gbps from the config")
	_ = cmd.MarkFlagRequired("log-file")
	return cmd
}

func newBillingCmd(opts *globalOptions) *cobra.Command {
	var logFile string
	var unitPrice, fluxUnitPrice float64
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Estimate 95th-percentile billing for a JSONL log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(opts, config.Default().Log)
			logs, err := metrics.LoadJSONL(logFile)
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				return fmt.Errorf("%s: %w", logFile, metrics.ErrEmptyInput)
			}
			estimate, err := metrics.NewBillingEstimator(logs[0].Interval, fluxUnitPrice).EstimateLogs(logs, unitPrice)
			if err != nil {
				return err
			}
			return metrics.WriteBillingReport(cmd.OutOrStdout(), estimate)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "JSONL log file")
	cmd.Flags().Float64Var(&unitPrice, "unit-price", defaultUnitPrice, "price per billed Gbps")
	cmd.Flags().Float64Var(&fluxUnitPrice, "flux-unit-price", defaultFluxUnitPrice, "price per GB for the volume comparison")
	_ = cmd.MarkFlagRequired("log-file")
	return cmd
}

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	var logFile, dbPath string
	var clearFirst, deleteSource bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import a JSONL log file into SQLite",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(opts, config.Default().Log)
			out := cmd.OutOrStdout()

			logs, err := metrics.LoadJSONL(logFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Read %d entries from %s\n", len(logs), logFile)

			db, err := storage.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if clearFirst {
				if err := db.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(out, "Cleared existing logs")
			}
			inserted, err := db.InsertLogs(cmd.Context(), logs)
			if err != nil {
				return err
			}
			count, err := db.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Inserted %d entries, %d skipped as duplicates; %s now holds %d\n",
				inserted, len(logs)-inserted, db.Path(), count)

			if deleteSource {
				if err := os.Remove(logFile); err != nil {
					return fmt.Errorf("delete source: %w", err)
				}
				logger.Info("Deleted source file", "path", logFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "./output/"+pusher.LogsFileName, "JSONL log file")
	cmd.Flags().StringVar(&dbPath, "db", config.Default().Storage.Path, "SQLite database")
	cmd.Flags().BoolVar(&clearFirst, "clear", false, "delete existing logs first")
	cmd.Flags().BoolVar(&deleteSource, "delete-source", false, "delete the JSONL file after a successful import")
	return cmd
}

// seedLine renders the seed used by a run so it can be reproduced
func seedLine(seed int64) string {
	return fmt.Sprintf("Seed: %d (set realism.seed to reproduce)", seed)
}
