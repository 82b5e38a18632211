package simd

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

const testConfigYAML = `
target:
  bandwidth_gbps: 10
time:
  start_date: "2025-01-01"
  duration_days: 1
  interval_seconds: 3600
dimensions:
  tenant_id: tenant-1
  domains: [a.example.com, b.example.com]
  regions:
    - {country: CN, region: east, weight: 0.6}
    - {country: CN, region: west, weight: 0.4}
mode:
  dry_run: true
  save_local: false
realism:
  seed: 42
`

func TestRunStoreCreateAndGet(t *testing.T) {
	store := NewRunStore()

	rec, err := store.Create("", &RunInput{ConfigYAML: testConfigYAML})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	run := rec.Run()
	if run.ID == "" {
		t.Fatalf("expected generated run id")
	}
	if run.Status != models.RunStatusPending {
		t.Errorf("status = %v, expected %v", run.Status, models.RunStatusPending)
	}
	if run.CreatedAtUnixMs == 0 {
		t.Errorf("expected created_at_unix_ms to be set")
	}
	if run.Seed != 42 {
		t.Errorf("seed = %d, expected 42 from config", run.Seed)
	}
	if rec.Config.Target.BandwidthGbps != 10 {
		t.Errorf("target = %v, expected 10", rec.Config.Target.BandwidthGbps)
	}

	got, ok := store.Get(run.ID)
	if !ok || got != rec {
		t.Fatalf("Get(%q) did not return the created record", run.ID)
	}
	if store.Size() != 1 {
		t.Errorf("Size() = %d, expected 1", store.Size())
	}
}

func TestRunStoreSeedPrecedence(t *testing.T) {
	store := NewRunStore()

	rec, err := store.Create("explicit", &RunInput{ConfigYAML: testConfigYAML, Seed: 7})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.Run().Seed != 7 {
		t.Errorf("seed = %d, expected input seed 7", rec.Run().Seed)
	}

	noSeed := strings.Replace(testConfigYAML, "seed: 42", "seed: 0", 1)
	rec, err = store.Create("random", &RunInput{ConfigYAML: noSeed})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if rec.Run().Seed == 0 {
		t.Errorf("expected a drawn seed, got 0")
	}
}

func TestRunStoreCreateErrors(t *testing.T) {
	pushNoEndpoint := strings.Replace(testConfigYAML, "dry_run: true", "dry_run: false", 1)

	tests := []struct {
		name    string
		runID   string
		input   *RunInput
		wantErr error
	}{
		{"nil input", "r1", nil, ErrInvalidInput},
		{"bad run id", "bad id!", &RunInput{ConfigYAML: testConfigYAML}, ErrInvalidInput},
		{"long run id", strings.Repeat("x", 65), &RunInput{ConfigYAML: testConfigYAML}, ErrInvalidInput},
		{"invalid yaml", "r2", &RunInput{ConfigYAML: "target: ["}, ErrInvalidInput},
		{"invalid config", "r3", &RunInput{ConfigYAML: "target: {bandwidth_gbps: 0}"}, ErrInvalidInput},
		{"push without endpoint", "r4", &RunInput{ConfigYAML: pushNoEndpoint, Push: true}, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewRunStore()
			_, err := store.Create(tt.runID, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create error = %v, expected %v", err, tt.wantErr)
			}
			if store.Size() != 0 {
				t.Errorf("Size() = %d, expected 0", store.Size())
			}
		})
	}
}

func TestRunStoreCreateDuplicate(t *testing.T) {
	store := NewRunStore()
	if _, err := store.Create("run-1", &RunInput{ConfigYAML: testConfigYAML}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := store.Create("run-1", &RunInput{ConfigYAML: testConfigYAML})
	if !errors.Is(err, ErrRunExists) {
		t.Fatalf("duplicate Create error = %v, expected %v", err, ErrRunExists)
	}
}

func TestRunStoreList(t *testing.T) {
	store := NewRunStore()
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if _, err := store.Create(id, &RunInput{ConfigYAML: testConfigYAML}); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	rec, _ := store.Get("run-b")
	rec.Manager.Start()

	all := store.List(10, 0, "")
	if len(all) != 3 {
		t.Fatalf("List returned %d runs, expected 3", len(all))
	}
	if all[0].Run().ID != "run-c" || all[2].Run().ID != "run-a" {
		t.Errorf("List order = %s..%s, expected newest first", all[0].Run().ID, all[2].Run().ID)
	}

	page := store.List(1, 1, "")
	if len(page) != 1 || page[0].Run().ID != "run-b" {
		t.Errorf("List(1, 1) = %v, expected [run-b]", page)
	}

	running := store.List(10, 0, models.RunStatusRunning)
	if len(running) != 1 || running[0].Run().ID != "run-b" {
		t.Errorf("List(running) returned %d runs, expected run-b only", len(running))
	}

	if got := store.List(10, 5, ""); len(got) != 0 {
		t.Errorf("List past the end returned %d runs, expected 0", len(got))
	}
}
