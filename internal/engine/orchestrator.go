package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/GoSim-25-26J-441/cdnsim/internal/traffic"
	"github.com/GoSim-25-26J-441/cdnsim/internal/workload"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

var tracer = otel.Tracer("github.com/GoSim-25-26J-441/cdnsim/internal/engine")

// ProgressRecorder observes interval processing
type ProgressRecorder interface {
	SetTotal(intervals int)
	RecordInterval(entries int, fired traffic.Anomaly)
}

// Result is the output of a full generation run
type Result struct {
	Seed        int64                `json:"seed"`
	Curve       []float64            `json:"-"`
	Samples     []models.Sample      `json:"-"`
	Logs        []models.LogEntry    `json:"-"`
	Stats       models.StatsSummary  `json:"stats"`
	Calibration workload.Calibration `json:"calibration"`
	Anomalies   map[string]int       `json:"anomalies"`
}

// Orchestrator drives the curve synthesizer and the interval pipeline over a window.
// It is not safe for concurrent use; callers serialize runs.
type Orchestrator struct {
	cfg      *config.Config
	start    time.Time
	loc      *time.Location
	rng      *utils.RandSource
	synth    *workload.CurveSynthesizer
	pipeline *Pipeline
	logger   *slog.Logger
	progress ProgressRecorder

	curve []float64
}

// NewOrchestrator creates an orchestrator for cfg. A nil rng is seeded from
// realism.seed (time-based when zero).
func NewOrchestrator(cfg *config.Config, rng *utils.RandSource) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	loc, err := cfg.Time.Location()
	if err != nil {
		return nil, err
	}
	start, err := cfg.Time.Start()
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = utils.NewRandSource(cfg.Realism.Seed)
	}

	o := &Orchestrator{
		cfg:    cfg,
		start:  start,
		loc:    loc,
		rng:    rng,
		synth:  workload.NewCurveSynthesizer(cfg.Target.BandwidthGbps, cfg.Realism, rng),
		logger: logger.Component("engine"),
	}
	o.SetAnomalyRates(traffic.DefaultAnomalyRates())
	return o, nil
}

// SetAnomalyRates replaces the fixed anomaly rates
func (o *Orchestrator) SetAnomalyRates(rates traffic.AnomalyRates) {
	o.pipeline = NewPipeline(
		traffic.NewDerivator(o.cfg.Realism, o.rng),
		traffic.NewInjector(o.cfg.Realism.AnomalyProbability, rates, o.loc, o.rng),
		traffic.NewDistributor(o.cfg.Dimensions, o.cfg.Time.IntervalSeconds, o.rng),
	)
}

// SetLogger sets the orchestrator's logger
func (o *Orchestrator) SetLogger(l *slog.Logger) {
	o.logger = l
}

// SetProgress attaches a progress recorder
func (o *Orchestrator) SetProgress(p ProgressRecorder) {
	o.progress = p
}

// Seed returns the seed of the random source
func (o *Orchestrator) Seed() int64 {
	return o.rng.Seed()
}

// Start returns the first interval's timestamp
func (o *Orchestrator) Start() time.Time {
	return o.start
}

// Timestamp returns the start of interval index
func (o *Orchestrator) Timestamp(index int) time.Time {
	return o.start.Add(time.Duration(index) * o.cfg.Time.Interval())
}

// GenerateCurve synthesizes the calibrated curve once and returns a copy of it
func (o *Orchestrator) GenerateCurve() ([]float64, error) {
	if o.curve == nil {
		curve, err := o.synth.Generate(o.cfg.Time.DurationDays, o.cfg.Time.IntervalSeconds)
		if err != nil {
			return nil, fmt.Errorf("failed to generate curve: %w", err)
		}
		o.curve = curve
	}
	return append([]float64(nil), o.curve...), nil
}

// Step runs the pipeline for a single interval of the window
func (o *Orchestrator) Step(ctx context.Context, index int, bandwidthGbps float64) ([]models.LogEntry, traffic.Anomaly, error) {
	return o.StepAt(ctx, o.Timestamp(index), bandwidthGbps)
}

// StepAt runs the pipeline for one interval starting at ts
func (o *Orchestrator) StepAt(ctx context.Context, ts time.Time, bandwidthGbps float64) ([]models.LogEntry, traffic.Anomaly, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	entries, fired := o.pipeline.Process(bandwidthGbps, o.cfg.Time.IntervalSeconds, ts)
	if fired != 0 {
		o.logger.Debug("Anomalies injected", "timestamp", ts.Format(time.RFC3339), "anomalies", fired.String())
	}
	if o.progress != nil {
		o.progress.RecordInterval(len(entries), fired)
	}
	return entries, fired, nil
}

// Stream processes every interval and hands each batch of entries to fn
// instead of accumulating them. The returned result carries no logs.
func (o *Orchestrator) Stream(ctx context.Context, fn func(ts time.Time, entries []models.LogEntry) error) (*Result, error) {
	ctx, span := tracer.Start(ctx, "engine.Stream")
	defer span.End()

	curve, err := o.GenerateCurve()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("intervals", len(curve)),
		attribute.Int("regions", len(o.cfg.Dimensions.Regions)),
		attribute.Int64("seed", o.Seed()),
	)

	o.logger.Info("Starting generation",
		"start", o.start.Format(time.RFC3339),
		"days", o.cfg.Time.DurationDays,
		"interval_seconds", o.cfg.Time.IntervalSeconds,
		"intervals", len(curve),
		"seed", o.Seed())

	if o.progress != nil {
		o.progress.SetTotal(len(curve))
	}

	counts := make(map[string]int)
	began := time.Now()

	for i, bw := range curve {
		entries, fired, err := o.Step(ctx, i, bw)
		if err != nil {
			o.logger.Info("Generation cancelled", "index", i)
			span.SetStatus(codes.Error, "cancelled")
			return nil, fmt.Errorf("generation cancelled at interval %d: %w", i, err)
		}
		for _, a := range traffic.AllAnomalies {
			if fired.Has(a) {
				counts[a.String()]++
			}
		}
		if err := fn(o.Timestamp(i), entries); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("interval %d: %w", i, err)
		}
	}

	res := &Result{
		Seed:        o.Seed(),
		Curve:       curve,
		Samples:     Samples(curve, o.start, o.cfg.Time.Interval()),
		Stats:       Summarize(curve, o.cfg.Time.IntervalSeconds),
		Calibration: o.synth.LastCalibration(),
		Anomalies:   counts,
	}

	o.logger.Info("Generation completed",
		"intervals", len(curve),
		"p95_gbps", utils.Round(res.Stats.P95Gbps, 3),
		"total_flux_tb", utils.Round(res.Stats.TotalFluxTB, 3),
		"anomalies", counts,
		"duration", utils.FormatDuration(time.Since(began)))

	return res, nil
}

// Run generates the full window and accumulates every log entry
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	capacity := o.cfg.Time.TotalPoints() * len(o.cfg.Dimensions.Regions)
	logs := make([]models.LogEntry, 0, capacity)

	res, err := o.Stream(ctx, func(_ time.Time, entries []models.LogEntry) error {
		logs = append(logs, entries...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Logs = logs
	return res, nil
}
