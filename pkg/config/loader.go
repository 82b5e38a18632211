package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"golang.org/x/net/publicsuffix"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

// Environment variables that override file values after load.
const (
	EnvAPIEndpoint = "CDN_API_ENDPOINT"
	EnvAPIVIP      = "CDN_API_VIP"
	EnvLogLevel    = "CDN_LOG_LEVEL"
)

// LoadConfig loads, overrides from the environment, and validates a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := decodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies CDN_* overrides using the given lookup function
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIEndpoint); ok && v != "" {
		cfg.API.Endpoint = v
	}
	if v, ok := lookup(EnvAPIVIP); ok && v != "" {
		if cfg.API.Headers == nil {
			cfg.API.Headers = make(map[string]string)
		}
		cfg.API.Headers["vip"] = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
}

// WithDateRange returns a validated copy covering [start, end).
// Both dates are YYYY-MM-DD in the configured timezone.
func (c *Config) WithDateRange(start, end string) (*Config, error) {
	loc, err := c.Time.Location()
	if err != nil {
		return nil, err
	}
	s, err := utils.ParseDate(start, loc)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	e, err := utils.ParseDate(end, loc)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	days := utils.DaysBetween(s, e)
	if days <= 0 {
		return nil, fmt.Errorf("end date %s must be after start date %s", end, start)
	}

	cp := c.Clone()
	cp.Time.StartDate = start
	cp.Time.DurationDays = days
	if err := validateConfig(cp); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cp, nil
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	if cfg.Target.BandwidthGbps <= 0 {
		return fmt.Errorf("target.bandwidth_gbps: must be positive, got %v", cfg.Target.BandwidthGbps)
	}

	if err := validateTime(&cfg.Time); err != nil {
		return err
	}
	if err := validateDimensions(&cfg.Dimensions); err != nil {
		return err
	}
	if err := validateRealism(&cfg.Realism); err != nil {
		return err
	}
	if err := validateAPI(&cfg.API); err != nil {
		return err
	}

	if cfg.Scheduler.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Scheduler.Schedule); err != nil {
			return fmt.Errorf("scheduler.schedule: %w", err)
		}
	}
	if cfg.Scheduler.RetryDelaySeconds < 0 {
		return fmt.Errorf("scheduler.retry_delay_seconds: cannot be negative")
	}

	if cfg.Billing.UnitPrice < 0 || cfg.Billing.FluxUnitPrice < 0 {
		return fmt.Errorf("billing: prices cannot be negative")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: invalid level %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log.format: must be json or text, got %s", cfg.Log.Format)
	}

	return nil
}

func validateTime(t *TimeWindow) error {
	if _, err := t.Location(); err != nil {
		return fmt.Errorf("time.timezone: %w", err)
	}
	if _, err := t.Start(); err != nil {
		return fmt.Errorf("time.start_date: must be YYYY-MM-DD: %w", err)
	}
	if t.DurationDays <= 0 {
		return fmt.Errorf("time.duration_days: must be positive, got %d", t.DurationDays)
	}
	if t.IntervalSeconds <= 0 {
		return fmt.Errorf("time.interval_seconds: must be positive, got %d", t.IntervalSeconds)
	}
	if 86400%t.IntervalSeconds != 0 {
		return fmt.Errorf("time.interval_seconds: %d does not divide a day evenly", t.IntervalSeconds)
	}
	return nil
}

func validateDimensions(d *Dimensions) error {
	if len(d.Domains) == 0 {
		return fmt.Errorf("dimensions.domains: at least one domain must be defined")
	}
	seen := make(map[string]bool)
	for _, domain := range d.Domains {
		if seen[domain] {
			return fmt.Errorf("dimensions.domains: duplicate domain %s", domain)
		}
		seen[domain] = true
		if err := validateDomain(domain); err != nil {
			return fmt.Errorf("dimensions.domains: %w", err)
		}
	}

	if len(d.Regions) == 0 {
		return fmt.Errorf("dimensions.regions: at least one region must be defined")
	}
	for i, r := range d.Regions {
		if r.Region == "" {
			return fmt.Errorf("dimensions.regions[%d]: region cannot be empty", i)
		}
		if r.Weight <= 0 {
			return fmt.Errorf("dimensions.regions[%d]: weight must be positive, got %v", i, r.Weight)
		}
	}
	return nil
}

// validateDomain checks hostname syntax and rejects bare public suffixes.
// Domains under an unlisted suffix (cdn.internal, static.local) are accepted
// with a warning.
func validateDomain(domain string) error {
	if domain == "" || len(domain) > 253 {
		return fmt.Errorf("invalid domain %q", domain)
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("invalid domain %q: bad label", domain)
		}
		for i, ch := range label {
			ok := ch == '-' && i > 0 && i < len(label)-1 ||
				ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9'
			if !ok {
				return fmt.Errorf("invalid domain %q: bad character %q", domain, ch)
			}
		}
	}
	suffix, icann := publicsuffix.PublicSuffix(strings.ToLower(domain))
	if suffix == strings.ToLower(domain) {
		return fmt.Errorf("invalid domain %q: is a public suffix", domain)
	}
	if !icann && !strings.Contains(suffix, ".") {
		logger.Warn("Domain has no known public suffix", "domain", domain, "suffix", suffix)
	}
	return nil
}

func validateRealism(r *Realism) error {
	if err := validateProbability("realism.burst_probability", r.BurstProbability); err != nil {
		return err
	}
	if err := validateProbability("realism.anomaly_probability", r.AnomalyProbability); err != nil {
		return err
	}
	if err := validateRange("realism.cache_hit_rate", r.CacheHitRate, 0, 1); err != nil {
		return err
	}
	if err := validateRange("realism.origin_fail_rate", r.OriginFailRate, 0, 1); err != nil {
		return err
	}
	if r.AvgObjectSizeKB.Low() <= 0 {
		return fmt.Errorf("realism.avg_object_size_kb: bounds must be positive")
	}
	if r.AvgObjectSizeKB.Low() > r.AvgObjectSizeKB.High() {
		return fmt.Errorf("realism.avg_object_size_kb: low %v exceeds high %v", r.AvgObjectSizeKB.Low(), r.AvgObjectSizeKB.High())
	}
	return nil
}

func validateProbability(field string, p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("%s: must be between 0 and 1, got %v", field, p)
	}
	return nil
}

func validateRange(field string, r Range, min, max float64) error {
	if r.Low() < min || r.High() > max {
		return fmt.Errorf("%s: bounds must be within [%v, %v], got %v", field, min, max, r)
	}
	if r.Low() > r.High() {
		return fmt.Errorf("%s: low %v exceeds high %v", field, r.Low(), r.High())
	}
	return nil
}

func validateAPI(a *API) error {
	if a.Retry < 0 {
		return fmt.Errorf("api.retry: cannot be negative")
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("api.batch_size: must be positive")
	}
	if a.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds: must be positive")
	}
	if a.BackoffFactorSeconds < 0 || a.BatchGapMs < 0 || a.AbortMinTotal < 0 {
		return fmt.Errorf("api: backoff_factor_seconds, batch_gap_ms and abort_min_total cannot be negative")
	}
	if err := validateProbability("api.abort_fail_rate", a.AbortFailRate); err != nil {
		return err
	}
	return nil
}
