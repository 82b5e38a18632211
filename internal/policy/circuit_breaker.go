package policy

import (
	"sync"
)

// failureRateBreaker implements CircuitBreakerPolicy.
// The circuit opens once more than minTotal entries were recorded and the
// failure ratio exceeds maxFailRate. It stays open until Reset.
type failureRateBreaker struct {
	enabled     bool
	minTotal    int64
	maxFailRate float64

	state  CircuitState
	total  int64
	failed int64
	mu     sync.Mutex
}

// NewFailureRateBreaker creates a breaker. A non-positive maxFailRate or a
// rate of 1 or more disables it.
func NewFailureRateBreaker(minTotal int, maxFailRate float64) CircuitBreakerPolicy {
	return &failureRateBreaker{
		enabled:     maxFailRate > 0 && maxFailRate < 1,
		minTotal:    int64(max(minTotal, 0)),
		maxFailRate: maxFailRate,
		state:       CircuitStateClosed,
	}
}

func (p *failureRateBreaker) Enabled() bool {
	return p.enabled
}

func (p *failureRateBreaker) Name() string {
	return "circuit_breaker"
}

func (p *failureRateBreaker) AllowRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != CircuitStateOpen
}

func (p *failureRateBreaker) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	p.evaluate()
}

func (p *failureRateBreaker) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	p.failed++
	p.evaluate()
}

// evaluate must be called with p.mu held
func (p *failureRateBreaker) evaluate() {
	if !p.enabled || p.state == CircuitStateOpen {
		return
	}
	if p.total > p.minTotal && float64(p.failed)/float64(p.total) > p.maxFailRate {
		p.state = CircuitStateOpen
	}
}

func (p *failureRateBreaker) GetState() CircuitState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *failureRateBreaker) Counts() (total, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, p.failed
}

func (p *failureRateBreaker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = CircuitStateClosed
	p.total = 0
	p.failed = 0
}
