package simd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/internal/policy"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

// CallbackSecretHeader carries the run's callback secret
const CallbackSecretHeader = "X-Cdnsim-Callback-Secret"

// NotificationPayload represents the JSON payload sent to the callback URL
type NotificationPayload struct {
	RunID           string            `json:"run_id"`
	Status          models.RunStatus  `json:"status"`
	Seed            int64             `json:"seed"`
	CreatedAtUnixMs int64             `json:"created_at_unix_ms"`
	StartedAtUnixMs int64             `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64             `json:"ended_at_unix_ms,omitempty"`
	Error           string            `json:"error,omitempty"`
	LogCount        int               `json:"log_count"`
	Report          *models.RunReport `json:"report,omitempty"`
	Timestamp       int64             `json:"timestamp"` // When notification was sent
}

// Notifier posts run summaries to callback URLs
type Notifier struct {
	httpClient *http.Client
	retry      policy.RetryPolicy
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewNotifier creates a notifier retrying 3 times, 1s * 2^(attempt-1) apart
func NewNotifier() *Notifier {
	return NewNotifierWithBackoff(3, time.Second)
}

// NewNotifierWithBackoff creates a notifier with explicit retry parameters
func NewNotifierWithBackoff(maxRetries int, baseDelay time.Duration) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      policy.NewRetryPolicy(maxRetries, utils.NewExponentialBackoff(baseDelay, time.Minute, 2, false), nil),
		logger:     logger.Component("notifier"),
	}
}

// Notify sends the run summary asynchronously. Empty callback URLs are ignored.
func (n *Notifier) Notify(callbackURL, callbackSecret string, rec *RunRecord) {
	if callbackURL == "" || rec == nil {
		return
	}
	run := rec.Run()
	finalURL := strings.ReplaceAll(callbackURL, "{run_id}", run.ID)

	payload := NotificationPayload{
		RunID:           run.ID,
		Status:          run.Status,
		Seed:            run.Seed,
		CreatedAtUnixMs: run.CreatedAtUnixMs,
		StartedAtUnixMs: run.StartedAtUnixMs,
		EndedAtUnixMs:   run.EndedAtUnixMs,
		Error:           run.Error,
		LogCount:        run.LogCount,
		Report:          rec.Report(),
		Timestamp:       time.Now().UTC().UnixMilli(),
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.send(finalURL, callbackSecret, payload)
	}()
}

// Wait blocks until pending notifications finished
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// send performs the HTTP POST, retrying failures with exponential backoff
func (n *Notifier) send(callbackURL, callbackSecret string, payload NotificationPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("Failed to marshal notification payload", "run_id", payload.RunID, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := n.retry.GetBackoffDuration(attempt)
			n.logger.Debug("Retrying notification", "run_id", payload.RunID, "attempt", attempt, "delay", delay)
			time.Sleep(delay)
		}

		lastErr = n.post(callbackURL, callbackSecret, body)
		if lastErr == nil {
			n.logger.Info("Notification sent", "run_id", payload.RunID, "status", payload.Status)
			return
		}
		n.logger.Warn("Notification attempt failed",
			"callback_url", callbackURL,
			"run_id", payload.RunID,
			"attempt", attempt+1,
			"error", lastErr)
		if !n.retry.ShouldRetry(attempt, lastErr) {
			break
		}
	}

	n.logger.Error("Failed to send notification after retries",
		"callback_url", callbackURL,
		"run_id", payload.RunID,
		"max_retries", n.retry.GetMaxRetries(),
		"last_error", lastErr)
}

func (n *Notifier) post(callbackURL, callbackSecret string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cdnsim/1.0")
	if callbackSecret != "" {
		req.Header.Set(CallbackSecretHeader, callbackSecret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, msg)
	}
	return nil
}
