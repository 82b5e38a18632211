package simd

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/GoSim-25-26J-441/cdnsim/internal/engine"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

var (
	ErrRunExists    = errors.New("run already exists")
	ErrInvalidInput = errors.New("invalid run input")
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RunInput is the request body of a run
type RunInput struct {
	ConfigYAML     string `json:"config_yaml"`
	Seed           int64  `json:"seed,omitempty"`
	Push           bool   `json:"push,omitempty"`
	Store          bool   `json:"store,omitempty"`
	CallbackURL    string `json:"callback_url,omitempty"`
	CallbackSecret string `json:"callback_secret,omitempty"`
}

// RunRecord is one run with its parsed config and, once done, its report
type RunRecord struct {
	Manager *engine.RunManager
	Input   *RunInput
	Config  *config.Config

	started atomic.Bool
	mu      sync.RWMutex
	report  *models.RunReport
}

// Run returns a snapshot of the run state
func (r *RunRecord) Run() *models.Run {
	return r.Manager.GetRun()
}

// Report returns the run report, nil until the run completed
func (r *RunRecord) Report() *models.RunReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report
}

func (r *RunRecord) setReport(rep *models.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = rep
}

// RunStore keeps runs in memory
type RunStore struct {
	runs *xsync.Map[string, *RunRecord]
}

func NewRunStore() *RunStore {
	return &RunStore{runs: xsync.NewMap[string, *RunRecord]()}
}

// Create parses and validates the input and registers a pending run.
// An empty runID is generated.
func (s *RunStore) Create(runID string, input *RunInput) (*RunRecord, error) {
	if input == nil || strings.TrimSpace(input.ConfigYAML) == "" {
		return nil, fmt.Errorf("%w: config_yaml is required", ErrInvalidInput)
	}
	if runID == "" {
		runID = utils.GenerateRunID()
	}
	if !runIDPattern.MatchString(runID) {
		return nil, fmt.Errorf("%w: run_id %q may only contain letters, digits, '-' and '_'", ErrInvalidInput, runID)
	}

	cfg, err := config.ParseConfigYAMLString(input.ConfigYAML)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.Push && !cfg.Mode.DryRun && cfg.API.Endpoint == "" {
		return nil, fmt.Errorf("%w: api.endpoint is required to push", ErrInvalidInput)
	}

	seed := input.Seed
	if seed == 0 {
		seed = cfg.Realism.Seed
	}
	if seed == 0 {
		seed = utils.NewRandSource(0).Seed()
	}

	rec := &RunRecord{
		Manager: engine.NewRunManager(runID, seed),
		Input:   input,
		Config:  cfg,
	}
	if _, loaded := s.runs.LoadOrStore(runID, rec); loaded {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}
	return rec, nil
}

func (s *RunStore) Get(runID string) (*RunRecord, bool) {
	return s.runs.Load(runID)
}

// List returns runs newest first, optionally filtered by status
func (s *RunStore) List(limit, offset int, status models.RunStatus) []*RunRecord {
	if limit <= 0 {
		limit = 50
	}

	type entry struct {
		rec *RunRecord
		run *models.Run
	}
	var all []entry
	s.runs.Range(func(_ string, rec *RunRecord) bool {
		run := rec.Run()
		if status == "" || run.Status == status {
			all = append(all, entry{rec, run})
		}
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].run.CreatedAtUnixMs != all[j].run.CreatedAtUnixMs {
			return all[i].run.CreatedAtUnixMs > all[j].run.CreatedAtUnixMs
		}
		return all[i].run.ID < all[j].run.ID
	})

	if offset >= len(all) {
		return []*RunRecord{}
	}
	all = all[offset:]
	out := make([]*RunRecord, 0, min(limit, len(all)))
	for _, e := range all[:min(limit, len(all))] {
		out = append(out, e.rec)
	}
	return out
}

// Size returns the number of runs
func (s *RunStore) Size() int {
	return s.runs.Size()
}
