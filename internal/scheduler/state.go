// Package scheduler pushes generated logs on a wall-clock schedule
// (realtime) or for a historical date range (catchup).
package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// State is the resumable position of the realtime scheduler
type State struct {
	PushedTimestamps []int64 `json:"pushed_timestamps"`
	StartDate        string  `json:"start_date"`
	CurrentIndex     int     `json:"current_index"`
}

// LoadState reads the state file, returning a fresh state at startDate when
// the file does not exist yet.
func LoadState(path, startDate string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{PushedTimestamps: []int64{}, StartDate: startDate}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if s.PushedTimestamps == nil {
		s.PushedTimestamps = []int64{}
	}
	if s.CurrentIndex < 0 {
		return nil, fmt.Errorf("state %s: negative current_index %d", path, s.CurrentIndex)
	}
	return &s, nil
}

// Pushed reports whether the interval starting at tsMs was already pushed
func (s *State) Pushed(tsMs int64) bool {
	return slices.Contains(s.PushedTimestamps, tsMs)
}

// Advance records tsMs as pushed and moves to the next curve index
func (s *State) Advance(tsMs int64) {
	s.PushedTimestamps = append(s.PushedTimestamps, tsMs)
	s.CurrentIndex++
}

// Save writes the state through a temp file and rename
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpPath := tmp.Name()
	// no-op once renamed
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace state %s: %w", path, err)
	}
	return nil
}
