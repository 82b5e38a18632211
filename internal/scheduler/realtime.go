package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoSim-25-26J-441/cdnsim/internal/engine"
	"github.com/GoSim-25-26J-441/cdnsim/internal/observability"
	"github.com/GoSim-25-26J-441/cdnsim/internal/pusher"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

var (
	// ErrCurveExhausted is returned once every interval of the window was pushed
	ErrCurveExhausted = errors.New("all intervals of the window have been pushed")
	// ErrNothingPushed is returned when a tick delivered no entry at all
	ErrNothingPushed = errors.New("no entry of the interval was pushed")
	// ErrAlreadyStarted is returned by Start on a running scheduler
	ErrAlreadyStarted = errors.New("realtime scheduler already started")
)

const defaultRetryDelay = 60 * time.Second

// BatchPusher delivers the entries of one interval
type BatchPusher interface {
	PushBatch(ctx context.Context, entries []models.LogEntry) pusher.BatchResult
}

// TickResult describes one realtime tick
type TickResult struct {
	Timestamp     time.Time
	Index         int
	BandwidthGbps float64
	Skipped       bool
	Pushed        int
	Failed        int
	Stored        int
}

// Realtime generates and pushes the interval that contains the current
// wall-clock time, one interval per tick. Progress survives restarts
// through the state file.
type Realtime struct {
	cfg        *config.Config
	orch       *engine.Orchestrator
	push       BatchPusher
	store      pusher.LogWriter
	metrics    *observability.Collector
	logger     *slog.Logger
	statePath  string
	retryDelay time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state *State
	curve []float64

	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewRealtime loads the scheduler state and prepares the generator
func NewRealtime(cfg *config.Config, push BatchPusher) (*Realtime, error) {
	if push == nil {
		return nil, fmt.Errorf("pusher is required")
	}
	orch, err := engine.NewOrchestrator(cfg, nil)
	if err != nil {
		return nil, err
	}

	statePath := cfg.Scheduler.StateFile
	if statePath == "" {
		statePath = "./state.json"
	}
	state, err := LoadState(statePath, cfg.Time.StartDate)
	if err != nil {
		return nil, err
	}

	r := &Realtime{
		cfg:        cfg,
		orch:       orch,
		push:       push,
		logger:     logger.Component("realtime"),
		statePath:  statePath,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
		sleep:      sleepContext,
		state:      state,
	}
	if cfg.Scheduler.RetryDelaySeconds > 0 {
		r.retryDelay = time.Duration(cfg.Scheduler.RetryDelaySeconds) * time.Second
	}
	if state.StartDate != cfg.Time.StartDate {
		r.logger.Warn("State start date differs from config",
			"state_start_date", state.StartDate,
			"config_start_date", cfg.Time.StartDate)
	}
	r.logger.Info("Loaded state",
		"path", statePath,
		"pushed", len(state.PushedTimestamps),
		"current_index", state.CurrentIndex)
	return r, nil
}

// SetStore stores every pushed interval in w as well
func (r *Realtime) SetStore(w pusher.LogWriter) {
	r.store = w
}

// SetMetrics attaches a Prometheus collector
func (r *Realtime) SetMetrics(c *observability.Collector) {
	r.metrics = c
	r.orch.SetProgress(engine.CollectorProgress(c))
	c.SetRealtimeIndex(r.State().CurrentIndex)
}

// State returns a copy of the current state
func (r *Realtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *r.state
	s.PushedTimestamps = append([]int64(nil), r.state.PushedTimestamps...)
	return s
}

// align truncates t to the start of its interval, counted from the epoch
func (r *Realtime) align(t time.Time) time.Time {
	interval := int64(r.cfg.Time.IntervalSeconds)
	sec := t.Unix() / interval * interval
	return time.Unix(sec, 0).In(t.Location())
}

// RunOnce pushes the interval containing the current time. It is a no-op
// when that interval was already pushed.
func (r *Realtime) RunOnce(ctx context.Context) (TickResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.align(r.now())
	tsMs := ts.UnixMilli()
	res := TickResult{Timestamp: ts, Index: r.state.CurrentIndex}

	if r.state.Pushed(tsMs) {
		r.logger.Info("Interval already pushed", "timestamp", ts.Format(time.DateTime))
		res.Skipped = true
		return res, nil
	}

	if r.curve == nil {
		r.logger.Info("Generating bandwidth curve", "days", r.cfg.Time.DurationDays)
		curve, err := r.orch.GenerateCurve()
		if err != nil {
			return res, err
		}
		r.curve = curve
	}

	index := r.state.CurrentIndex
	if index >= len(r.curve) {
		return res, ErrCurveExhausted
	}
	res.BandwidthGbps = r.curve[index]

	entries, _, err := r.orch.StepAt(ctx, ts, r.curve[index])
	if err != nil {
		return res, err
	}

	batch := r.push.PushBatch(ctx, entries)
	res.Pushed, res.Failed = batch.Success, batch.Failed
	if batch.Success == 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		for _, e := range batch.Errors {
			r.logger.Warn("Push failed", "index", e.Index, "domain", e.Entry.Domain, "error", e.Error)
		}
		return res, fmt.Errorf("%w: %d failed at %s", ErrNothingPushed, batch.Failed, ts.Format(time.DateTime))
	}

	r.state.Advance(tsMs)
	if err := r.state.Save(r.statePath); err != nil {
		return res, err
	}
	r.metrics.SetRealtimeIndex(r.state.CurrentIndex)

	if r.store != nil {
		n, err := r.store.InsertLogs(ctx, entries)
		if err != nil {
			r.logger.Error("Failed to store logs", "error", err)
		} else {
			res.Stored = n
			r.metrics.RecordStored(n)
		}
	}

	r.logger.Info("Pushed interval",
		"timestamp", ts.Format(time.DateTime),
		"index", index,
		"success", batch.Success,
		"failed", batch.Failed,
		"bandwidth_gbps", utils.Round(res.BandwidthGbps, 2))
	return res, nil
}

// Schedule returns the cron spec the scheduler ticks on
func (r *Realtime) Schedule() string {
	if r.cfg.Scheduler.Schedule != "" {
		return r.cfg.Scheduler.Schedule
	}
	return DeriveSchedule(r.cfg.Time.IntervalSeconds)
}

// DeriveSchedule turns an interval into a cron spec firing on its boundaries
func DeriveSchedule(intervalSeconds int) string {
	switch {
	case intervalSeconds <= 0:
		return "@every 5m"
	case intervalSeconds%3600 == 0 && 24%(intervalSeconds/3600) == 0:
		hours := intervalSeconds / 3600
		if hours == 1 {
			return "0 * * * *"
		}
		return fmt.Sprintf("0 */%d * * *", hours)
	case intervalSeconds%60 == 0 && 60%(intervalSeconds/60) == 0:
		minutes := intervalSeconds / 60
		if minutes == 1 {
			return "* * * * *"
		}
		return fmt.Sprintf("*/%d * * * *", minutes)
	default:
		return fmt.Sprintf("@every %ds", intervalSeconds)
	}
}

// Start registers the tick job and starts the cron runner. Overlapping
// ticks are skipped.
func (r *Realtime) Start(ctx context.Context) error {
	if r.cron != nil {
		return ErrAlreadyStarted
	}
	spec := r.Schedule()
	cl := cronLogger{r.logger}
	c := cron.New(
		cron.WithLocation(r.orch.Start().Location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(spec, func() { r.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	r.cron = c
	r.cancel = cancel
	c.Start()
	r.logger.Info("Realtime scheduler started",
		"schedule", spec,
		"interval_seconds", r.cfg.Time.IntervalSeconds,
		"target_gbps", r.cfg.Target.BandwidthGbps)
	return nil
}

// tick runs one interval, retrying once after the retry delay on failure
func (r *Realtime) tick(ctx context.Context) {
	_, err := r.RunOnce(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}
	if errors.Is(err, ErrCurveExhausted) {
		r.logger.Info("All intervals pushed")
		return
	}

	r.logger.Warn("Tick failed, retrying", "error", err, "delay", r.retryDelay)
	if err := r.sleep(ctx, r.retryDelay); err != nil {
		return
	}
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("Retry failed", "error", err)
	}
}

// Stop cancels pending work, waits for a running tick, and saves the state
func (r *Realtime) Stop() error {
	if r.cron == nil {
		return nil
	}
	r.cancel()
	<-r.cron.Stop().Done()
	r.cron = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.Save(r.statePath); err != nil {
		return err
	}
	r.logger.Info("Realtime scheduler stopped", "current_index", r.state.CurrentIndex)
	return nil
}

// Run starts the scheduler and blocks until ctx is done
func (r *Realtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return r.Stop()
}

// cronLogger routes cron's logging through slog
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
