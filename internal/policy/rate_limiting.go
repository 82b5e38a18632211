package policy

import (
	"context"
	"sync"
	"time"
)

// pacingPolicy implements RateLimitingPolicy with a token bucket per endpoint.
// Tokens may go negative in Wait: the deficit is the time the caller sleeps.
type pacingPolicy struct {
	enabled bool
	// ratePerSecond is the refill rate of every bucket
	ratePerSecond float64
	// burst is the bucket capacity
	burst   float64
	buckets map[string]*tokenBucket
	mu      sync.RWMutex

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewPacingPolicy spaces requests to one endpoint at least gap apart.
// A non-positive gap disables pacing.
func NewPacingPolicy(gap time.Duration) RateLimitingPolicy {
	if gap <= 0 {
		return NewRateLimitingPolicy(0, 0)
	}
	return NewRateLimitingPolicy(float64(time.Second)/float64(gap), 1)
}

// NewRateLimitingPolicy creates a token bucket limiter allowing ratePerSecond
// requests with bursts up to burst. A non-positive rate disables it.
func NewRateLimitingPolicy(ratePerSecond float64, burst int) RateLimitingPolicy {
	return &pacingPolicy{
		enabled:       ratePerSecond > 0,
		ratePerSecond: ratePerSecond,
		burst:         float64(max(burst, 1)),
		buckets:       make(map[string]*tokenBucket),
		sleep:         sleepContext,
		now:           time.Now,
	}
}

func (p *pacingPolicy) Enabled() bool {
	return p.enabled
}

func (p *pacingPolicy) Name() string {
	return "rate_limiting"
}

func (p *pacingPolicy) bucket(endpoint string, now time.Time) *tokenBucket {
	p.mu.RLock()
	b, ok := p.buckets[endpoint]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Double-check after acquiring write lock
	if b, ok = p.buckets[endpoint]; !ok {
		b = &tokenBucket{tokens: p.burst, lastRefill: now}
		p.buckets[endpoint] = b
	}
	return b
}

// refill must be called with b.mu held
func (p *pacingPolicy) refill(b *tokenBucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.tokens+elapsed.Seconds()*p.ratePerSecond, p.burst)
	b.lastRefill = now
}

func (p *pacingPolicy) AllowRequest(endpoint string, now time.Time) bool {
	if !p.enabled {
		return true
	}
	b := p.bucket(endpoint, now)
	b.mu.Lock()
	defer b.mu.Unlock()

	p.refill(b, now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// reserve takes a token and returns how long the caller must wait for it
func (p *pacingPolicy) reserve(endpoint string, now time.Time) time.Duration {
	b := p.bucket(endpoint, now)
	b.mu.Lock()
	defer b.mu.Unlock()

	p.refill(b, now)
	b.tokens--
	if b.tokens >= 0 {
		return 0
	}
	return time.Duration(-b.tokens / p.ratePerSecond * float64(time.Second))
}

func (p *pacingPolicy) Wait(ctx context.Context, endpoint string) error {
	if !p.enabled {
		return ctx.Err()
	}
	d := p.reserve(endpoint, p.now())
	if d <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, d)
}

func (p *pacingPolicy) GetRemainingQuota(endpoint string, now time.Time) int {
	if !p.enabled {
		return -1 // Unlimited
	}

	p.mu.RLock()
	b, ok := p.buckets[endpoint]
	p.mu.RUnlock()
	if !ok {
		return int(p.burst)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	p.refill(b, now)
	return max(int(b.tokens), 0)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
