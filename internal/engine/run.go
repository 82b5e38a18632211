package engine

import (
	"context"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/internal/traffic"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

// RunManager manages the lifecycle of a generation run and records its progress
type RunManager struct {
	run    *models.Run
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunManager creates a new run manager
func NewRunManager(runID string, seed int64) *RunManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &RunManager{
		run: &models.Run{
			ID:              runID,
			Status:          models.RunStatusPending,
			Seed:            seed,
			CreatedAtUnixMs: time.Now().UnixMilli(),
			Anomalies:       make(map[string]int),
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start marks the run as started
func (rm *RunManager) Start() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.run.Status = models.RunStatusRunning
	rm.run.StartedAtUnixMs = time.Now().UnixMilli()
}

// Complete marks the run as completed
func (rm *RunManager) Complete() {
	rm.finish(models.RunStatusCompleted, "")
}

// Fail marks the run as failed
func (rm *RunManager) Fail(err error) {
	rm.finish(models.RunStatusFailed, err.Error())
}

// Cancelled marks the run as cancelled
func (rm *RunManager) Cancelled() {
	rm.finish(models.RunStatusCancelled, "")
}

func (rm *RunManager) finish(status models.RunStatus, errMsg string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.run.Status.Terminal() {
		return
	}
	rm.run.Status = status
	rm.run.EndedAtUnixMs = time.Now().UnixMilli()
	rm.run.Error = errMsg
}

// Cancel cancels the run
func (rm *RunManager) Cancel() {
	rm.cancel()
}

// Context returns the run's context
func (rm *RunManager) Context() context.Context {
	return rm.ctx
}

// GetRun returns the current run state (thread-safe)
func (rm *RunManager) GetRun() *models.Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	runCopy := *rm.run
	runCopy.Anomalies = make(map[string]int, len(rm.run.Anomalies))
	for k, v := range rm.run.Anomalies {
		runCopy.Anomalies[k] = v
	}
	return &runCopy
}

// SetTotal records how many intervals the run will process
func (rm *RunManager) SetTotal(intervals int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.run.IntervalsTotal = intervals
}

// RecordInterval records one processed interval
func (rm *RunManager) RecordInterval(entries int, fired traffic.Anomaly) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.run.IntervalsDone++
	rm.run.LogCount += entries
	for _, a := range traffic.AllAnomalies {
		if fired.Has(a) {
			rm.run.Anomalies[a.String()]++
		}
	}
}

// Progress returns the fraction of intervals processed
func (rm *RunManager) Progress() float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.run.IntervalsTotal == 0 {
		return 0
	}
	return float64(rm.run.IntervalsDone) / float64(rm.run.IntervalsTotal)
}
