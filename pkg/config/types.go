package config

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Config represents the main generator configuration
type Config struct {
	Target     Target     `yaml:"target"`
	Time       TimeWindow `yaml:"time"`
	Dimensions Dimensions `yaml:"dimensions"`
	Realism    Realism    `yaml:"realism"`
	API        API        `yaml:"api"`
	Mode       Mode       `yaml:"mode"`
	Storage    Storage    `yaml:"storage"`
	Scheduler  Scheduler  `yaml:"scheduler"`
	Billing    Billing    `yaml:"billing"`
	Log        Log        `yaml:"log"`
}

// Target holds the billing bandwidth the generated curve is calibrated to
type Target struct {
	BandwidthGbps float64 `yaml:"bandwidth_gbps"`
}

// TimeWindow describes the simulated window
type TimeWindow struct {
	StartDate       string `yaml:"start_date"` // YYYY-MM-DD
	DurationDays    int    `yaml:"duration_days"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	Timezone        string `yaml:"timezone,omitempty"`
}

// Dimensions describes the per-entry fan-out
type Dimensions struct {
	TenantID string   `yaml:"tenant_id"`
	Domains  []string `yaml:"domains"`
	Regions  []Region `yaml:"regions"`
}

// Region is one country/region pair with its share of traffic
type Region struct {
	Country string  `yaml:"country"`
	Region  string  `yaml:"region"`
	Weight  float64 `yaml:"weight"`
}

// Range is a [low, high] pair, written in YAML as a two-element list
type Range [2]float64

// Low returns the lower bound
func (r Range) Low() float64 { return r[0] }

// High returns the upper bound
func (r Range) High() float64 { return r[1] }

// Realism holds the knobs that shape the synthetic telemetry
type Realism struct {
	BurstProbability   float64 `yaml:"burst_probability"`
	CacheHitRate       Range   `yaml:"cache_hit_rate"`
	AvgObjectSizeKB    Range   `yaml:"avg_object_size_kb"`
	OriginFailRate     Range   `yaml:"origin_fail_rate"`
	AnomalyProbability float64 `yaml:"anomaly_probability"`
	// Seed 0 draws a time-based seed.
	Seed int64 `yaml:"seed,omitempty"`
}

// API configures the external log sink
type API struct {
	Endpoint             string            `yaml:"endpoint"`
	Headers              map[string]string `yaml:"headers,omitempty"`
	TimeoutSeconds       int               `yaml:"timeout_seconds"`
	Retry                int               `yaml:"retry"`
	BackoffFactorSeconds float64           `yaml:"backoff_factor_seconds"`
	BatchSize            int               `yaml:"batch_size"`
	BatchGapMs           int               `yaml:"batch_gap_ms"`
	AbortFailRate        float64           `yaml:"abort_fail_rate"`
	AbortMinTotal        int               `yaml:"abort_min_total"`
}

// Mode selects side effects of a run
type Mode struct {
	DryRun    bool   `yaml:"dry_run"`
	SaveLocal bool   `yaml:"save_local"`
	OutputDir string `yaml:"output_dir"`
}

// Storage configures the SQLite log store
type Storage struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Scheduler configures realtime pushing
type Scheduler struct {
	StateFile         string `yaml:"state_file"`
	Schedule          string `yaml:"schedule,omitempty"` // standard 5-field cron
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
}

// Billing holds the unit prices used by estimates
type Billing struct {
	UnitPrice     float64 `yaml:"unit_price"`      // per Gbps of billed bandwidth
	FluxUnitPrice float64 `yaml:"flux_unit_price"` // per GB transferred
}

// Log configures the process logger
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Interval returns the sampling interval as a duration
func (t TimeWindow) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// PointsPerDay returns the number of samples in one day
func (t TimeWindow) PointsPerDay() int {
	if t.IntervalSeconds <= 0 {
		return 0
	}
	return 86400 / t.IntervalSeconds
}

// TotalPoints returns the number of samples in the whole window
func (t TimeWindow) TotalPoints() int {
	return t.DurationDays * t.PointsPerDay()
}

// Location resolves the configured timezone, UTC when unset
func (t TimeWindow) Location() (*time.Location, error) {
	if t.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", t.Timezone, err)
	}
	return loc, nil
}

// Start returns midnight of start_date in the configured timezone
func (t TimeWindow) Start() (time.Time, error) {
	loc, err := t.Location()
	if err != nil {
		return time.Time{}, err
	}
	start, err := time.ParseInLocation("2006-01-02", t.StartDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_date %q: %w", t.StartDate, err)
	}
	return start, nil
}

// End returns the exclusive end of the window
func (t TimeWindow) End() (time.Time, error) {
	start, err := t.Start()
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 0, t.DurationDays), nil
}

// Timeout returns the per-request API timeout
func (a API) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// BatchGap returns the pause between consecutive pushes
func (a API) BatchGap() time.Duration {
	return time.Duration(a.BatchGapMs) * time.Millisecond
}

// Clone returns a deep copy so overrides never alias the original
func (c *Config) Clone() *Config {
	cp := *c
	cp.Dimensions.Domains = append([]string(nil), c.Dimensions.Domains...)
	cp.Dimensions.Regions = append([]Region(nil), c.Dimensions.Regions...)
	if c.API.Headers != nil {
		cp.API.Headers = make(map[string]string, len(c.API.Headers))
		for k, v := range c.API.Headers {
			cp.API.Headers[k] = v
		}
	}
	return &cp
}
