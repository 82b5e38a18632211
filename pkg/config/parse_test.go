package config

import (
	"strings"
	"testing"
)

func TestParseConfigYAMLString(t *testing.T) {
	cfg, err := ParseConfigYAMLString(validYAML)
	if err != nil {
		t.Fatalf("ParseConfigYAMLString failed: %v", err)
	}
	if cfg == nil {
		t.Fatalf("expected non-nil config")
	}
	if cfg.Dimensions.TenantID != "tenant-1" {
		t.Fatalf("expected tenant id tenant-1, got %q", cfg.Dimensions.TenantID)
	}
	if cfg.Time.Timezone != "" {
		t.Errorf("timezone = %q, expected empty", cfg.Time.Timezone)
	}
	loc, err := cfg.Time.Location()
	if err != nil || loc.String() != "UTC" {
		t.Errorf("Location() = %v, %v, expected UTC", loc, err)
	}
}

func TestParseConfigYAMLStringInvalid(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
		errPart string
	}{
		{"zero target", [2]string{"bandwidth_gbps: 20", "bandwidth_gbps: 0"}, "target.bandwidth_gbps"},
		{"bad date", [2]string{`"2025-01-01"`, `"2025/01/01"`}, "time.start_date"},
		{"zero days", [2]string{"duration_days: 30", "duration_days: 0"}, "time.duration_days"},
		{"interval not dividing day", [2]string{"interval_seconds: 300", "interval_seconds: 7"}, "time.interval_seconds"},
		{"negative interval", [2]string{"interval_seconds: 300", "interval_seconds: -300"}, "time.interval_seconds"},
		{"no domains", [2]string{"domains: [a.example.com, b.example.com]", "domains: []"}, "dimensions.domains"},
		{"duplicate domain", [2]string{"domains: [a.example.com, b.example.com]", "domains: [a.example.com, a.example.com]"}, "duplicate"},
		{"bare public suffix", [2]string{"b.example.com]", "co.uk]"}, "is a public suffix"},
		{"bare unknown suffix", [2]string{"b.example.com]", "internal]"}, "is a public suffix"},
		{"bad hostname", [2]string{"b.example.com]", "b_x.example.com]"}, "bad character"},
		{"zero weight", [2]string{"weight: 0.2", "weight: 0"}, "weight"},
		{"burst probability", [2]string{"burst_probability: 0.05", "burst_probability: 1.5"}, "burst_probability"},
		{"inverted range", [2]string{"cache_hit_rate: [0.85, 0.95]", "cache_hit_rate: [0.95, 0.85]"}, "cache_hit_rate"},
		{"range out of bounds", [2]string{"origin_fail_rate: [0.001, 0.01]", "origin_fail_rate: [0.001, 1.2]"}, "origin_fail_rate"},
		{"object size", [2]string{"avg_object_size_kb: [100, 500]", "avg_object_size_kb: [0, 500]"}, "avg_object_size_kb"},
		{"three element range", [2]string{"cache_hit_rate: [0.85, 0.95]", "cache_hit_rate: [0.1, 0.2, 0.3]"}, "failed to parse config yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Replace(validYAML, tt.replace[0], tt.replace[1], 1)
			if text == validYAML {
				t.Fatalf("replacement %q did not apply", tt.replace[0])
			}
			_, err := ParseConfigYAMLString(text)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errPart)
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("error = %v, expected to contain %q", err, tt.errPart)
			}
		})
	}
}

func TestParseConfigUnlistedSuffix(t *testing.T) {
	tests := []struct {
		name   string
		domain string
	}{
		{"internal", "cdn.internal"},
		{"local", "static.local"},
		{"unknown tld", "b.example.notatld"},
		{"icann", "b.example.co.uk"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Replace(validYAML, "b.example.com]", tt.domain+"]", 1)
			cfg, err := ParseConfigYAMLString(text)
			if err != nil {
				t.Fatalf("ParseConfigYAMLString(%s) error = %v, expected nil", tt.domain, err)
			}
			if got := cfg.Dimensions.Domains[1]; got != tt.domain {
				t.Errorf("domain = %v, expected %v", got, tt.domain)
			}
		})
	}
}

func TestParseConfigSchedule(t *testing.T) {
	if _, err := ParseConfigYAMLString(validYAML + "scheduler:\n  schedule: \"*/5 * * * *\"\n"); err != nil {
		t.Errorf("valid schedule rejected: %v", err)
	}
	if _, err := ParseConfigYAMLString(validYAML + "scheduler:\n  schedule: \"every five minutes\"\n"); err == nil {
		t.Error("expected error for malformed schedule")
	}
}

func TestValidateAfterOverride(t *testing.T) {
	cfg, err := ParseConfigYAMLString(validYAML)
	if err != nil {
		t.Fatalf("ParseConfigYAMLString failed: %v", err)
	}
	cfg.Log.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}
