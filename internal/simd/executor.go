package simd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/GoSim-25-26J-441/cdnsim/internal/engine"
	"github.com/GoSim-25-26J-441/cdnsim/internal/metrics"
	"github.com/GoSim-25-26J-441/cdnsim/internal/observability"
	"github.com/GoSim-25-26J-441/cdnsim/internal/pusher"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

var tracer = otel.Tracer("github.com/GoSim-25-26J-441/cdnsim/internal/simd")

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunTerminal  = errors.New("run is terminal")
	ErrRunIDMissing = errors.New("run_id is required")
	ErrNoLogStore   = errors.New("log storage is not enabled")
)

// RunExecutor executes runs asynchronously: generate, validate, estimate
// billing, then optionally store and push the logs.
type RunExecutor struct {
	store    *RunStore
	logs     pusher.LogWriter
	onStored func()
	metrics  *observability.Collector
	notifier *Notifier
	logger   *slog.Logger

	wg sync.WaitGroup
}

func NewRunExecutor(store *RunStore) *RunExecutor {
	return &RunExecutor{
		store:  store,
		logger: logger.Component("executor"),
	}
}

// SetLogStore enables storing run logs; onStored runs after every insert
func (e *RunExecutor) SetLogStore(w pusher.LogWriter, onStored func()) {
	e.logs = w
	e.onStored = onStored
}

// SetMetrics attaches a Prometheus collector
func (e *RunExecutor) SetMetrics(c *observability.Collector) {
	e.metrics = c
}

// SetNotifier enables completion callbacks
func (e *RunExecutor) SetNotifier(n *Notifier) {
	e.notifier = n
}

// Start begins executing a pending run. Starting a running run is a no-op.
func (e *RunExecutor) Start(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}
	rec, ok := e.store.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run().Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}
	if rec.Input.Store && e.logs == nil {
		return nil, fmt.Errorf("%w: run %s requests storage", ErrNoLogStore, runID)
	}
	if !rec.started.CompareAndSwap(false, true) {
		return rec, nil
	}

	rec.Manager.Start()
	e.metrics.RunStarted()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(rec)
	}()
	return rec, nil
}

// Stop cancels a run and marks it cancelled. Stopping a terminal run returns it unchanged.
func (e *RunExecutor) Stop(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}
	rec, ok := e.store.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Manager.Cancel()
	rec.Manager.Cancelled()
	return rec, nil
}

// Wait blocks until every started run finished
func (e *RunExecutor) Wait() {
	e.wg.Wait()
}

// Shutdown cancels every running run and waits for them to finish
func (e *RunExecutor) Shutdown() {
	for _, rec := range e.store.List(e.store.Size(), 0, models.RunStatusRunning) {
		rec.Manager.Cancel()
	}
	e.wg.Wait()
}

func (e *RunExecutor) execute(rec *RunRecord) {
	rm := rec.Manager
	ctx := rm.Context()
	runID := rm.GetRun().ID
	log := e.logger.With("run_id", runID)

	ctx, span := tracer.Start(ctx, "simd.execute")
	span.SetAttributes(attribute.String("run_id", runID))
	defer span.End()

	defer func() {
		run := rm.GetRun()
		e.metrics.RunFinished(string(run.Status))
		if e.notifier != nil {
			e.notifier.Notify(rec.Input.CallbackURL, rec.Input.CallbackSecret, rec)
		}
	}()

	report, err := e.generate(ctx, rec, log)
	switch {
	case err != nil && ctx.Err() != nil:
		rm.Cancelled()
		log.Info("Run cancelled")
		span.SetStatus(codes.Error, "cancelled")
	case err != nil:
		rm.Fail(err)
		log.Error("Run failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		rec.setReport(report)
		rm.Complete()
		log.Info("Run completed",
			"log_count", report.LogCount,
			"p95_gbps", utils.Round(report.Stats.P95Gbps, 3),
			"stored", report.Stored,
			"pushed", report.Pushed)
	}
}

func (e *RunExecutor) generate(ctx context.Context, rec *RunRecord, log *slog.Logger) (*models.RunReport, error) {
	cfg := rec.Config
	rm := rec.Manager

	orch, err := engine.NewOrchestrator(cfg, utils.NewRandSource(rm.GetRun().Seed))
	if err != nil {
		return nil, err
	}
	orch.SetLogger(log)
	orch.SetProgress(engine.MultiProgress{rm, engine.CollectorProgress(e.metrics)})

	res, err := orch.Run(ctx)
	if err != nil {
		return nil, err
	}
	report := &models.RunReport{Stats: res.Stats, LogCount: len(res.Logs)}

	validation, err := metrics.Validate(res.Logs, cfg.Target.BandwidthGbps)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	report.Validation = validation

	estimator := metrics.NewBillingEstimator(cfg.Time.IntervalSeconds, cfg.Billing.FluxUnitPrice)
	billing, err := estimator.Estimate(res.Curve, cfg.Billing.UnitPrice)
	if err != nil {
		return nil, fmt.Errorf("billing: %w", err)
	}
	report.Billing = billing

	if rec.Input.Store {
		n, err := e.logs.InsertLogs(ctx, res.Logs)
		if err != nil {
			return nil, fmt.Errorf("store logs: %w", err)
		}
		report.Stored = n
		e.metrics.RecordStored(n)
		if e.onStored != nil {
			e.onStored()
		}
	}

	if rec.Input.Push {
		outputDir := ""
		if cfg.Mode.SaveLocal {
			outputDir = cfg.Mode.OutputDir
		}
		p, err := pusher.New(cfg.API, cfg.Mode.DryRun, outputDir)
		if err != nil {
			return nil, err
		}
		defer p.Close()
		p.SetMetrics(e.metrics)

		stats, err := p.PushAll(ctx, res.Logs)
		report.Pushed = stats.Success
		if err != nil {
			return nil, fmt.Errorf("push: %w", err)
		}
	}
	return report, nil
}
