// Package policy holds the delivery policies applied by the log pusher:
// retries with backoff, request pacing, and the failure-rate guard that
// aborts a push run against an unhealthy endpoint.
package policy

import (
	"context"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
)

// Policy represents a generic policy interface
type Policy interface {
	// Enabled returns whether the policy is enabled
	Enabled() bool
	// Name returns the policy name for identification
	Name() string
}

// RetryPolicy handles retry logic for failed requests
type RetryPolicy interface {
	Policy
	// ShouldRetry determines if a request should be retried after attempt failures
	ShouldRetry(attempt int, err error) bool
	// GetBackoffDuration calculates the wait before retry number attempt (1-based)
	GetBackoffDuration(attempt int) time.Duration
	// GetMaxRetries returns the maximum number of retries allowed
	GetMaxRetries() int
}

// RateLimitingPolicy paces requests per endpoint
type RateLimitingPolicy interface {
	Policy
	// AllowRequest takes a token if one is available at now
	AllowRequest(endpoint string, now time.Time) bool
	// Wait blocks until a request to endpoint may be sent
	Wait(ctx context.Context, endpoint string) error
	// GetRemainingQuota returns the whole tokens left for endpoint at now
	GetRemainingQuota(endpoint string, now time.Time) int
}

// CircuitBreakerPolicy stops a push run once the endpoint looks unhealthy
type CircuitBreakerPolicy interface {
	Policy
	// AllowRequest reports whether the circuit still lets requests through
	AllowRequest() bool
	// RecordSuccess records a delivered entry
	RecordSuccess()
	// RecordFailure records an entry that failed after all retries
	RecordFailure()
	// GetState returns the current circuit state
	GetState() CircuitState
	// Counts returns the recorded totals
	Counts() (total, failed int64)
	// Reset closes the circuit and clears the counts
	Reset()
}

// CircuitState represents the state of a circuit breaker
type CircuitState string

const (
	CircuitStateClosed CircuitState = "closed" // Normal operation
	CircuitStateOpen   CircuitState = "open"   // Failing, rejecting requests
)

// Manager bundles the policies of one pusher
type Manager struct {
	rateLimiting   RateLimitingPolicy
	retry          RetryPolicy
	circuitBreaker CircuitBreakerPolicy
}

// NewPolicyManager creates the pusher policies from the api section.
// retryable decides which errors are worth retrying; nil retries every error.
func NewPolicyManager(api config.API, retryable func(error) bool) *Manager {
	return &Manager{
		retry:          NewRetryPolicyFromConfig(api, retryable),
		rateLimiting:   NewPacingPolicy(time.Duration(api.BatchGapMs) * time.Millisecond),
		circuitBreaker: NewFailureRateBreaker(api.AbortMinTotal, api.AbortFailRate),
	}
}

// GetRateLimiting returns the pacing policy
func (pm *Manager) GetRateLimiting() RateLimitingPolicy {
	return pm.rateLimiting
}

// GetRetry returns the retry policy
func (pm *Manager) GetRetry() RetryPolicy {
	return pm.retry
}

// GetCircuitBreaker returns the failure-rate breaker
func (pm *Manager) GetCircuitBreaker() CircuitBreakerPolicy {
	return pm.circuitBreaker
}
