package policy

import (
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
)

func TestNewPolicyManager(t *testing.T) {
	pm := NewPolicyManager(config.Default().API, nil)

	if pm.GetRetry() == nil || pm.GetRateLimiting() == nil || pm.GetCircuitBreaker() == nil {
		t.Fatalf("expected every policy to be created")
	}
	if pm.GetRetry().GetMaxRetries() != 3 {
		t.Fatalf("expected 3 retries, got %d", pm.GetRetry().GetMaxRetries())
	}
	if pm.GetRetry().GetBackoffDuration(2) != 2*time.Second {
		t.Fatalf("expected 2s second backoff, got %v", pm.GetRetry().GetBackoffDuration(2))
	}
	if !pm.GetRateLimiting().Enabled() {
		t.Fatalf("expected pacing enabled for 10ms gap")
	}
	if !pm.GetCircuitBreaker().Enabled() {
		t.Fatalf("expected breaker enabled for 0.5 fail rate")
	}
}

func TestNewPolicyManagerDisabled(t *testing.T) {
	pm := NewPolicyManager(config.API{}, nil)

	var policies []Policy = []Policy{pm.GetRetry(), pm.GetRateLimiting(), pm.GetCircuitBreaker()}
	for _, p := range policies {
		if p.Enabled() {
			t.Errorf("expected %s disabled for zero config", p.Name())
		}
	}
}
