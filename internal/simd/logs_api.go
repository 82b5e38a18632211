package simd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/maypok86/otter"

	"github.com/GoSim-25-26J-441/cdnsim/internal/metrics"
	"github.com/GoSim-25-26J-441/cdnsim/internal/storage"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

const (
	logsCacheTTL      = 30 * time.Second
	logsCacheCapacity = 1024
	defaultLogsLimit  = 100
	maxLogsLimit      = 10000
)

// LogStore is the query surface of the SQLite log store
type LogStore interface {
	InsertLogs(ctx context.Context, entries []models.LogEntry) (int, error)
	QueryLogs(ctx context.Context, f storage.Filter) ([]models.LogEntry, error)
	Summary(ctx context.Context, startMs, endMs int64) (storage.Summary, error)
	AggregateByTime(ctx context.Context, f storage.Filter, bucketMs int64) ([]storage.TimeBucket, error)
	AggregateByDomain(ctx context.Context, startMs, endMs int64, limit int) ([]storage.DomainAggregate, error)
	Domains(ctx context.Context) ([]string, error)
	TimeRange(ctx context.Context) (minMs, maxMs int64, ok bool, err error)
}

// LogsAPI serves read-only queries over stored logs. Aggregate responses
// are cached until the TTL expires or new logs are inserted.
type LogsAPI struct {
	store  LogStore
	cache  otter.Cache[string, []byte]
	logger *slog.Logger
}

// NewLogsAPI creates the log query handlers
func NewLogsAPI(store LogStore) (*LogsAPI, error) {
	cache, err := otter.MustBuilder[string, []byte](logsCacheCapacity).
		WithTTL(logsCacheTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("create logs cache: %w", err)
	}
	return &LogsAPI{store: store, cache: cache, logger: logger.Component("logs-api")}, nil
}

// Invalidate drops every cached response
func (a *LogsAPI) Invalidate() {
	a.cache.Clear()
}

// InsertLogs stores entries and invalidates the cache when any were new
func (a *LogsAPI) InsertLogs(ctx context.Context, entries []models.LogEntry) (int, error) {
	n, err := a.store.InsertLogs(ctx, entries)
	if n > 0 {
		a.Invalidate()
	}
	return n, err
}

func (a *LogsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/logs", a.get(a.handleQuery))
	mux.HandleFunc("/v1/logs/summary", a.get(a.cached(a.handleSummary)))
	mux.HandleFunc("/v1/logs/timeseries", a.get(a.cached(a.handleTimeSeries)))
	mux.HandleFunc("/v1/logs/domains", a.get(a.cached(a.handleDomains)))
	mux.HandleFunc("/v1/logs/top-domains", a.get(a.cached(a.handleTopDomains)))
	mux.HandleFunc("/v1/logs/range", a.get(a.cached(a.handleRange)))
	mux.HandleFunc("/v1/logs:validate", a.handleValidate)
}

// queryFunc computes the response body for one request
type queryFunc func(ctx context.Context, q url.Values) (any, error)

// badRequest marks errors caused by the query string
type badRequest struct{ error }

func (a *LogsAPI) get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func (a *LogsAPI) cached(fn queryFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + "?" + r.URL.Query().Encode()
		if body, ok := a.cache.Get(key); ok {
			w.Header().Set("X-Cache", "HIT")
			writeRawJSON(w, http.StatusOK, body)
			return
		}

		res, err := fn(r.Context(), r.URL.Query())
		if err != nil {
			a.writeQueryError(w, err)
			return
		}
		body, err := json.Marshal(res)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.cache.Set(key, body)
		w.Header().Set("X-Cache", "MISS")
		writeRawJSON(w, http.StatusOK, body)
	}
}

func (a *LogsAPI) writeQueryError(w http.ResponseWriter, err error) {
	var bad badRequest
	switch {
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.logger.Error("Log query failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleQuery handles GET /v1/logs?start=&end=&domain=&limit=&offset=
func (a *LogsAPI) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := parseFilter(q)
	if err != nil {
		a.writeQueryError(w, err)
		return
	}
	f.Limit = min(queryInt(q.Get("limit"), defaultLogsLimit), maxLogsLimit)
	f.Offset = queryInt(q.Get("offset"), 0)

	logs, err := a.store.QueryLogs(r.Context(), f)
	if err != nil {
		a.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"count":  len(logs),
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

func (a *LogsAPI) handleSummary(ctx context.Context, q url.Values) (any, error) {
	f, err := parseFilter(q)
	if err != nil {
		return nil, err
	}
	s, err := a.store.Summary(ctx, f.Start, f.End)
	if err != nil {
		return nil, err
	}
	return map[string]any{"summary": s, "hit_rate": s.HitRate()}, nil
}

func (a *LogsAPI) handleTimeSeries(ctx context.Context, q url.Values) (any, error) {
	f, err := parseFilter(q)
	if err != nil {
		return nil, err
	}
	bucketMs := int64(queryInt(q.Get("bucket_ms"), storage.DefaultBucketMs))
	if bucketMs <= 0 {
		return nil, badRequest{fmt.Errorf("bucket_ms must be positive")}
	}
	buckets, err := a.store.AggregateByTime(ctx, f, bucketMs)
	if err != nil {
		return nil, err
	}

	points := make([]map[string]any, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, map[string]any{
			"time_bucket":    b.TimeBucket,
			"bandwidth_gbps": b.BandwidthGbps(),
			"record":         b.MetricRecord,
		})
	}
	return map[string]any{"bucket_ms": bucketMs, "points": points}, nil
}

func (a *LogsAPI) handleDomains(ctx context.Context, _ url.Values) (any, error) {
	domains, err := a.store.Domains(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"domains": domains}, nil
}

func (a *LogsAPI) handleTopDomains(ctx context.Context, q url.Values) (any, error) {
	f, err := parseFilter(q)
	if err != nil {
		return nil, err
	}
	top, err := a.store.AggregateByDomain(ctx, f.Start, f.End, queryInt(q.Get("limit"), 10))
	if err != nil {
		return nil, err
	}
	return map[string]any{"domains": top}, nil
}

func (a *LogsAPI) handleRange(ctx context.Context, _ url.Values) (any, error) {
	minMs, maxMs, ok, err := a.store.TimeRange(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"empty": true}, nil
	}
	return map[string]any{
		"empty":    false,
		"start_ms": minMs,
		"end_ms":   maxMs,
		"start":    time.UnixMilli(minMs).UTC().Format(time.RFC3339),
		"end":      time.UnixMilli(maxMs).UTC().Format(time.RFC3339),
	}, nil
}

// handleValidate handles POST /v1/logs:validate?target_gbps=&start=&end=&domain=
func (a *LogsAPI) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	target, err := strconv.ParseFloat(q.Get("target_gbps"), 64)
	if err != nil || target <= 0 {
		writeError(w, http.StatusBadRequest, "target_gbps must be a positive number")
		return
	}
	f, err := parseFilter(q)
	if err != nil {
		a.writeQueryError(w, err)
		return
	}

	logs, err := a.store.QueryLogs(r.Context(), f)
	if err != nil {
		a.writeQueryError(w, err)
		return
	}
	report, err := metrics.Validate(logs, target)
	if errors.Is(err, metrics.ErrEmptyInput) {
		writeError(w, http.StatusNotFound, "no logs in range")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// parseFilter reads start, end, and domain from the query string
func parseFilter(q url.Values) (storage.Filter, error) {
	var f storage.Filter
	var err error
	if f.Start, err = parseTimeParam(q.Get("start")); err != nil {
		return f, badRequest{fmt.Errorf("start: %w", err)}
	}
	if f.End, err = parseTimeParam(q.Get("end")); err != nil {
		return f, badRequest{fmt.Errorf("end: %w", err)}
	}
	if f.Start > 0 && f.End > 0 && f.End < f.Start {
		return f, badRequest{fmt.Errorf("end is before start")}
	}
	f.Domain = q.Get("domain")
	return f, nil
}

// parseTimeParam accepts epoch milliseconds, RFC3339, or YYYY-MM-DD (UTC)
func parseTimeParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid time %q", raw)
}
