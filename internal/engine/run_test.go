package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/internal/traffic"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

func TestNewRunManager(t *testing.T) {
	rm := NewRunManager("run-123", 42)
	if rm == nil {
		t.Fatal("NewRunManager returned nil")
	}

	run := rm.GetRun()
	if run.ID != "run-123" {
		t.Errorf("Expected run ID 'run-123', got '%s'", run.ID)
	}
	if run.Status != models.RunStatusPending {
		t.Errorf("Expected status pending, got %s", run.Status)
	}
	if run.Seed != 42 {
		t.Errorf("Seed = %d, expected 42", run.Seed)
	}
}

func TestRunManagerLifecycle(t *testing.T) {
	rm := NewRunManager("run-test", 1)

	rm.Start()
	run := rm.GetRun()
	if run.Status != models.RunStatusRunning {
		t.Errorf("Expected status running after Start(), got %s", run.Status)
	}
	if run.StartedAtUnixMs == 0 {
		t.Error("Expected start time after Start()")
	}

	time.Sleep(5 * time.Millisecond)

	rm.Complete()
	run = rm.GetRun()
	if run.Status != models.RunStatusCompleted {
		t.Errorf("Expected status completed after Complete(), got %s", run.Status)
	}
	if run.EndedAtUnixMs < run.StartedAtUnixMs {
		t.Errorf("EndedAtUnixMs %d before StartedAtUnixMs %d", run.EndedAtUnixMs, run.StartedAtUnixMs)
	}

	// terminal states stick
	rm.Fail(&testError{msg: "late failure"})
	if got := rm.GetRun().Status; got != models.RunStatusCompleted {
		t.Errorf("Status after late Fail = %s, expected completed", got)
	}
}

func TestRunManagerFail(t *testing.T) {
	rm := NewRunManager("run-fail", 1)
	rm.Start()

	rm.Fail(&testError{msg: "test error"})

	run := rm.GetRun()
	if run.Status != models.RunStatusFailed {
		t.Errorf("Expected status failed, got %s", run.Status)
	}
	if run.Error != "test error" {
		t.Errorf("Expected error 'test error', got '%s'", run.Error)
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}

func TestRunManagerCancel(t *testing.T) {
	rm := NewRunManager("run-cancel", 1)
	rm.Start()
	rm.Cancel()

	select {
	case <-rm.Context().Done():
	default:
		t.Fatal("context should be done after Cancel()")
	}

	rm.Cancelled()
	if got := rm.GetRun().Status; got != models.RunStatusCancelled {
		t.Errorf("Status = %s, expected cancelled", got)
	}
}

func TestRunManagerProgress(t *testing.T) {
	rm := NewRunManager("run-progress", 1)
	if rm.Progress() != 0 {
		t.Errorf("Progress before SetTotal = %v, expected 0", rm.Progress())
	}

	rm.SetTotal(4)
	rm.RecordInterval(3, 0)
	rm.RecordInterval(3, traffic.AnomalyDDoS|traffic.AnomalyCachePurge)

	run := rm.GetRun()
	if run.IntervalsDone != 2 || run.LogCount != 6 {
		t.Errorf("IntervalsDone = %d, LogCount = %d, expected 2 and 6", run.IntervalsDone, run.LogCount)
	}
	if run.Anomalies["ddos"] != 1 || run.Anomalies["cache_purge"] != 1 {
		t.Errorf("Anomalies = %v, expected ddos and cache_purge once", run.Anomalies)
	}
	if rm.Progress() != 0.5 {
		t.Errorf("Progress = %v, expected 0.5", rm.Progress())
	}

	// the returned copy must not alias internal state
	run.Anomalies["ddos"] = 99
	if rm.GetRun().Anomalies["ddos"] != 1 {
		t.Error("GetRun returned an aliased anomaly map")
	}
}

func TestRunManagerConcurrentAccess(t *testing.T) {
	rm := NewRunManager("run-concurrent", 1)
	rm.SetTotal(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rm.RecordInterval(3, 0)
				_ = rm.GetRun()
			}
		}()
	}
	wg.Wait()

	if got := rm.GetRun().IntervalsDone; got != 1000 {
		t.Errorf("IntervalsDone = %d, expected 1000", got)
	}
}
