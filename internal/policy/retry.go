package policy

import (
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

// retryPolicy implements RetryPolicy
type retryPolicy struct {
	enabled    bool
	maxRetries int
	backoff    utils.BackoffStrategy
	retryable  func(error) bool
}

// NewRetryPolicyFromConfig creates a retry policy from the api section:
// retry times, waiting backoff_factor_seconds * 2^(attempt-1) between tries.
func NewRetryPolicyFromConfig(api config.API, retryable func(error) bool) RetryPolicy {
	return NewRetryPolicy(api.Retry, utils.BackoffFromConfig("exponential", api.BackoffFactorSeconds, 0), retryable)
}

// NewRetryPolicy creates a retry policy with explicit parameters.
// A policy with no retries is disabled.
func NewRetryPolicy(maxRetries int, backoff utils.BackoffStrategy, retryable func(error) bool) RetryPolicy {
	if backoff == nil {
		backoff = utils.NewConstantBackoff(0)
	}
	return &retryPolicy{
		enabled:    maxRetries > 0,
		maxRetries: maxRetries,
		backoff:    backoff,
		retryable:  retryable,
	}
}

func (p *retryPolicy) Enabled() bool {
	return p.enabled
}

func (p *retryPolicy) Name() string {
	return "retry"
}

func (p *retryPolicy) ShouldRetry(attempt int, err error) bool {
	if !p.enabled || err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if p.retryable != nil {
		return p.retryable(err)
	}
	return true
}

func (p *retryPolicy) GetBackoffDuration(attempt int) time.Duration {
	if !p.enabled || attempt <= 0 {
		return 0
	}
	return p.backoff.NextDelay(attempt - 1)
}

func (p *retryPolicy) GetMaxRetries() int {
	return p.maxRetries
}
