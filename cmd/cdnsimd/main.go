// cdnsimd serves the cdnsim run API over HTTP and gRPC, optionally
// stores logs in SQLite and pushes realtime intervals on a schedule.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/internal/observability"
	"github.com/GoSim-25-26J-441/cdnsim/internal/pusher"
	"github.com/GoSim-25-26J-441/cdnsim/internal/scheduler"
	"github.com/GoSim-25-26J-441/cdnsim/internal/simd"
	"github.com/GoSim-25-26J-441/cdnsim/internal/storage"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
)

type options struct {
	grpcAddr       string
	httpAddr       string
	dbPath         string
	tokenEnv       string
	realtimeConfig string
}

func main() {
	var opts options
	var logLevel, logFormat string

	flag.StringVar(&opts.grpcAddr, "grpc-addr", ":50051", "gRPC listen address")
	flag.StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP listen address")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	flag.StringVar(&opts.dbPath, "db", "", "SQLite log database; empty disables log storage and queries")
	flag.StringVar(&opts.tokenEnv, "token-env", "CDNSIM_API_TOKEN", "environment variable holding the bearer token for /v1")
	flag.StringVar(&opts.realtimeConfig, "realtime-config", "", "config file enabling the realtime scheduler")
	flag.Parse()

	logger.SetDefault(logger.NewFormat(logFormat, logLevel, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, opts)
	stop()
	if err != nil {
		logger.Error("cdnsimd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	log := logger.Component("cdnsimd")

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(os.LookupEnv), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	store := simd.NewRunStore()
	executor := simd.NewRunExecutor(store)
	executor.SetMetrics(collector)
	executor.SetNotifier(simd.NewNotifier())

	var logsAPI *simd.LogsAPI
	if opts.dbPath != "" {
		db, err := storage.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if logsAPI, err = simd.NewLogsAPI(db); err != nil {
			return err
		}
		executor.SetLogStore(logsAPI, nil)
		log.Info("Log storage enabled", "path", db.Path())
	}

	if opts.realtimeConfig != "" {
		rt, p, err := newRealtime(opts.realtimeConfig, collector, logsAPI)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := rt.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := rt.Stop(); err != nil {
				log.Error("Failed to stop realtime scheduler", "error", err)
			}
		}()
	}

	httpServer := simd.NewHTTPServer(store, executor, logsAPI, collector)
	token := os.Getenv(opts.tokenEnv)
	httpServer.SetToken(token)
	if token == "" {
		log.Warn("API authentication disabled", "token_env", opts.tokenEnv)
	}

	grpcServer, health := simd.NewGRPCServer(store, executor, collector)
	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen for gRPC on %s: %w", opts.grpcAddr, err)
	}

	httpSrv := &http.Server{
		Addr:              opts.httpAddr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("gRPC server listening", "addr", opts.grpcAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		log.Info("HTTP server listening", "addr", opts.httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health.Shutdown()
	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown error", "error", err)
	}
	executor.Shutdown()
	return serveErr
}

// newRealtime builds the realtime scheduler; logs may be nil
func newRealtime(path string, collector *observability.Collector, logs *simd.LogsAPI) (*scheduler.Realtime, *pusher.Pusher, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Mode.DryRun && cfg.API.Endpoint == "" {
		return nil, nil, fmt.Errorf("realtime: api.endpoint is required unless mode.dry_run is set")
	}

	outputDir := ""
	if cfg.Mode.SaveLocal {
		outputDir = cfg.Mode.OutputDir
	}
	p, err := pusher.New(cfg.API, cfg.Mode.DryRun, outputDir)
	if err != nil {
		return nil, nil, err
	}
	p.SetMetrics(collector)

	rt, err := scheduler.NewRealtime(cfg, p)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	rt.SetMetrics(collector)
	if logs != nil {
		rt.SetStore(logs)
	}
	logger.Info("Realtime scheduler configured", "schedule", rt.Schedule(), "state_file", cfg.Scheduler.StateFile)
	return rt, p, nil
}
