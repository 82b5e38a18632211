package pusher

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/internal/metrics"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

// Local artifact names
const (
	StatsFileName = "stats.json"
	CurveFileName = "bandwidth_curve.csv"
	LogsFileName  = "logs.jsonl"
)

// LogWriter stores log entries, returning how many were new
type LogWriter interface {
	InsertLogs(ctx context.Context, entries []models.LogEntry) (int, error)
}

// LocalSaver writes run artifacts under one output directory
type LocalSaver struct {
	dir    string
	logger *slog.Logger
}

// NewLocalSaver creates a saver for dir
func NewLocalSaver(dir string) *LocalSaver {
	return &LocalSaver{dir: dir, logger: logger.Component("saver")}
}

// Dir returns the output directory
func (s *LocalSaver) Dir() string {
	return s.dir
}

func (s *LocalSaver) create(name string) (*os.File, string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, "", fmt.Errorf("create output dir %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create %s: %w", path, err)
	}
	return f, path, nil
}

// SaveStats writes v as indented JSON to stats.json
func (s *LocalSaver) SaveStats(v any) (string, error) {
	f, path, err := s.create(StatsFileName)
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Info("Saved stats", "path", path)
	return path, f.Close()
}

// SaveCurve writes the timestamped curve to bandwidth_curve.csv
func (s *LocalSaver) SaveCurve(samples []models.Sample) (string, error) {
	f, path, err := s.create(CurveFileName)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "bandwidth_gbps"}); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	for _, sample := range samples {
		row := []string{
			sample.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(sample.BandwidthGbps, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Info("Saved bandwidth curve", "path", path, "points", len(samples))
	return path, f.Close()
}

// SaveLogsJSONL writes one entry per line to logs.jsonl
func (s *LocalSaver) SaveLogsJSONL(logs []models.LogEntry) (string, error) {
	f, path, err := s.create(LogsFileName)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := metrics.WriteJSONL(f, logs); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Info("Saved logs", "path", path, "entries", len(logs))
	return path, f.Close()
}

// SaveLogs inserts logs into the store
func (s *LocalSaver) SaveLogs(ctx context.Context, store LogWriter, logs []models.LogEntry) (int, error) {
	n, err := store.InsertLogs(ctx, logs)
	if err != nil {
		return 0, fmt.Errorf("store logs: %w", err)
	}
	s.logger.Info("Stored logs", "inserted", n, "skipped", len(logs)-n)
	return n, nil
}
