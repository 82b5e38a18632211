// Package pusher delivers generated log entries to the ingestion API and
// saves run artifacts locally.
package pusher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/GoSim-25-26J-441/cdnsim/internal/observability"
	"github.com/GoSim-25-26J-441/cdnsim/internal/policy"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

var tracer = otel.Tracer("github.com/GoSim-25-26J-441/cdnsim/internal/pusher")

// ErrTooManyFailures is returned by PushAll when the failure rate trips the breaker
var ErrTooManyFailures = errors.New("too many push failures")

// retryStatusCodes are the HTTP responses worth retrying
var retryStatusCodes = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// HTTPStatusError is a final non-200 response from the API
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, truncate(e.Body, auditBodyLimit))
}

// Stats is a snapshot of the pusher counters
type Stats struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
	Retries int64 `json:"retries"`
}

// SuccessRate returns success/total, 0 before any push
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Total)
}

// EntryError describes one entry that could not be delivered
type EntryError struct {
	Index int             `json:"index"`
	Entry models.LogEntry `json:"log"`
	Error string          `json:"error"`
}

// BatchResult is the outcome of one PushBatch call
type BatchResult struct {
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Errors  []EntryError `json:"errors,omitempty"`
}

// Pusher posts log entries one by one with retries, pacing, and a
// failure-rate abort. It is safe for concurrent use.
type Pusher struct {
	api      config.API
	dryRun   bool
	client   *http.Client
	policies *policy.Manager
	audit    *auditLog
	metrics  *observability.Collector
	logger   *slog.Logger

	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	retries atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pusher for the api section. Requests are audited under
// outputDir unless it is empty; dry-run pushers never touch the network.
func New(api config.API, dryRun bool, outputDir string) (*Pusher, error) {
	p := &Pusher{
		api:      api,
		dryRun:   dryRun,
		client:   &http.Client{Timeout: api.Timeout()},
		policies: policy.NewPolicyManager(api, isRetryable),
		logger:   logger.Component("pusher"),
		sleep:    sleepContext,
	}
	if outputDir != "" && !dryRun {
		audit, err := openAuditLog(outputDir)
		if err != nil {
			return nil, err
		}
		p.audit = audit
	}
	return p, nil
}

// SetHTTPClient replaces the HTTP client
func (p *Pusher) SetHTTPClient(c *http.Client) {
	p.client = c
}

// SetMetrics attaches a Prometheus collector
func (p *Pusher) SetMetrics(c *observability.Collector) {
	p.metrics = c
}

// DryRun reports whether the pusher skips network I/O
func (p *Pusher) DryRun() bool {
	return p.dryRun
}

// Stats returns a snapshot of the counters
func (p *Pusher) Stats() Stats {
	return Stats{
		Total:   p.total.Load(),
		Success: p.success.Load(),
		Failed:  p.failed.Load(),
		Retries: p.retries.Load(),
	}
}

// Reset clears the counters and closes the failure breaker
func (p *Pusher) Reset() {
	p.total.Store(0)
	p.success.Store(0)
	p.failed.Store(0)
	p.retries.Store(0)
	p.policies.GetCircuitBreaker().Reset()
}

// Close releases the audit log
func (p *Pusher) Close() error {
	return p.audit.close()
}

// PushSingle delivers one entry, retrying connection errors and 5xx gateway responses
func (p *Pusher) PushSingle(ctx context.Context, entry models.LogEntry) error {
	p.total.Add(1)
	if p.dryRun {
		p.record(nil, 0)
		return nil
	}

	body, err := json.Marshal(entry)
	if err != nil {
		p.record(err, 0)
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	retry := p.policies.GetRetry()
	var lastErr error
	var elapsed time.Duration
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := retry.GetBackoffDuration(attempt)
			p.logger.Debug("Retrying push", "attempt", attempt, "delay", delay, "error", lastErr)
			if err := p.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
			p.retries.Add(1)
			p.metrics.RecordRetry()
		}

		began := time.Now()
		lastErr = p.post(ctx, body)
		elapsed = time.Since(began)
		if lastErr == nil || ctx.Err() != nil || !retry.ShouldRetry(attempt, lastErr) {
			break
		}
	}

	p.record(lastErr, elapsed)
	return lastErr
}

func (p *Pusher) record(err error, elapsed time.Duration) {
	cb := p.policies.GetCircuitBreaker()
	if err != nil {
		p.failed.Add(1)
		cb.RecordFailure()
	} else {
		p.success.Add(1)
		cb.RecordSuccess()
	}
	p.metrics.RecordPush(err == nil, elapsed)
}

// post sends one request and audits it
func (p *Pusher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.api.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.api.Headers {
		req.Header.Set(k, v)
	}

	now := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.audit.record(now, p.api.Endpoint, body, 0, "", err)
		return fmt.Errorf("request failed: %w", err)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	p.audit.record(now, p.api.Endpoint, body, resp.StatusCode, string(respBody), nil)

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// PushBatch pushes entries in order, pacing requests batch_gap_ms apart.
// It stops early only when ctx is cancelled.
func (p *Pusher) PushBatch(ctx context.Context, entries []models.LogEntry) BatchResult {
	var res BatchResult
	pacer := p.policies.GetRateLimiting()

	for i := range entries {
		if !p.dryRun {
			if err := pacer.Wait(ctx, p.api.Endpoint); err != nil {
				return res
			}
		} else if ctx.Err() != nil {
			return res
		}

		if err := p.PushSingle(ctx, entries[i]); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, EntryError{Index: i, Entry: entries[i], Error: err.Error()})
			continue
		}
		res.Success++
	}
	return res
}

// PushAll pushes entries in batch_size batches. It returns ErrTooManyFailures
// once more than abort_min_total entries were pushed and the failure rate
// exceeds abort_fail_rate.
func (p *Pusher) PushAll(ctx context.Context, entries []models.LogEntry) (Stats, error) {
	ctx, span := tracer.Start(ctx, "pusher.PushAll")
	defer span.End()

	batchSize := max(p.api.BatchSize, 1)
	batches := (len(entries) + batchSize - 1) / batchSize
	span.SetAttributes(
		attribute.Int("entries", len(entries)),
		attribute.Int("batches", batches),
		attribute.Bool("dry_run", p.dryRun),
	)

	p.logger.Info("Starting push",
		"entries", len(entries),
		"batches", batches,
		"endpoint", p.api.Endpoint,
		"dry_run", p.dryRun)

	began := time.Now()
	cb := p.policies.GetCircuitBreaker()
	n := 0
	for batch := range slices.Chunk(entries, batchSize) {
		n++
		p.PushBatch(ctx, batch)

		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return p.Stats(), err
		}

		stats := p.Stats()
		if n%10 == 0 {
			p.logger.Info("Push progress",
				"batch", n,
				"batches", batches,
				"pushed", stats.Total,
				"rate_per_second", utils.Round(float64(stats.Total)/max(time.Since(began).Seconds(), 1e-9), 1),
				"success_rate", utils.Round(stats.SuccessRate(), 3))
		}

		if cb.GetState() == policy.CircuitStateOpen {
			total, failed := cb.Counts()
			err := fmt.Errorf("%w: %d of %d failed", ErrTooManyFailures, failed, total)
			p.logger.Error("Stopping push", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return stats, err
		}
	}

	stats := p.Stats()
	p.logger.Info("Push completed",
		"total", stats.Total,
		"success", stats.Success,
		"failed", stats.Failed,
		"retries", stats.Retries,
		"duration", utils.FormatDuration(time.Since(began)))
	return stats, nil
}

// isRetryable reports whether a failed request may succeed on retry
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return slices.Contains(retryStatusCodes, statusErr.StatusCode)
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
