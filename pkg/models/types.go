package models

import (
	"time"
)

// RunStatus represents the status of a generation run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status can no longer change
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Run represents one generation run managed by the daemon
type Run struct {
	ID              string    `json:"id"`
	Status          RunStatus `json:"status"`
	Seed            int64     `json:"seed"`
	CreatedAtUnixMs int64     `json:"created_at_unix_ms"`
	StartedAtUnixMs int64     `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64     `json:"ended_at_unix_ms,omitempty"`
	Error           string    `json:"error,omitempty"`

	IntervalsTotal int            `json:"intervals_total"`
	IntervalsDone  int            `json:"intervals_done"`
	LogCount       int            `json:"log_count"`
	Anomalies      map[string]int `json:"anomalies,omitempty"`
}

// Sample is one bandwidth observation on the synthesized curve
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	BandwidthGbps float64   `json:"bandwidth_gbps"`
}

// MetricRecord is the aggregate of one sampling interval.
// Byte counts are over the whole interval; bandwidths are in Mbps.
type MetricRecord struct {
	BandwidthMbps       int64 `json:"bw"`
	Flux                int64 `json:"flux"`
	OriginBandwidthMbps int64 `json:"bs_bw"`
	OriginFlux          int64 `json:"bs_flux"`
	Requests            int64 `json:"req_num"`
	Hits                int64 `json:"hit_num"`
	OriginRequests      int64 `json:"bs_num"`
	OriginFailures      int64 `json:"bs_fail_num"`
	HitFlux             int64 `json:"hit_flux"`

	HTTP2xx int64 `json:"http_code_2xx"`
	HTTP3xx int64 `json:"http_code_3xx"`
	HTTP4xx int64 `json:"http_code_4xx"`
	HTTP5xx int64 `json:"http_code_5xx"`

	OriginHTTP2xx int64 `json:"bs_http_code_2xx"`
	OriginHTTP3xx int64 `json:"bs_http_code_3xx"`
	OriginHTTP4xx int64 `json:"bs_http_code_4xx"`
	OriginHTTP5xx int64 `json:"bs_http_code_5xx"`
}

// ClientStatusTotal sums the client-facing status buckets
func (m MetricRecord) ClientStatusTotal() int64 {
	return m.HTTP2xx + m.HTTP3xx + m.HTTP4xx + m.HTTP5xx
}

// OriginStatusTotal sums the origin-facing status buckets
func (m MetricRecord) OriginStatusTotal() int64 {
	return m.OriginHTTP2xx + m.OriginHTTP3xx + m.OriginHTTP4xx + m.OriginHTTP5xx
}

// HitRate returns hits/requests, 0 when there were no requests
func (m MetricRecord) HitRate() float64 {
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Hits) / float64(m.Requests)
}

// Scaled returns a copy with every count truncated to int(v*w)
func (m MetricRecord) Scaled(w float64) MetricRecord {
	s := func(v int64) int64 { return int64(float64(v) * w) }
	return MetricRecord{
		BandwidthMbps:       s(m.BandwidthMbps),
		Flux:                s(m.Flux),
		OriginBandwidthMbps: s(m.OriginBandwidthMbps),
		OriginFlux:          s(m.OriginFlux),
		Requests:            s(m.Requests),
		Hits:                s(m.Hits),
		OriginRequests:      s(m.OriginRequests),
		OriginFailures:      s(m.OriginFailures),
		HitFlux:             s(m.HitFlux),
		HTTP2xx:             s(m.HTTP2xx),
		HTTP3xx:             s(m.HTTP3xx),
		HTTP4xx:             s(m.HTTP4xx),
		HTTP5xx:             s(m.HTTP5xx),
		OriginHTTP2xx:       s(m.OriginHTTP2xx),
		OriginHTTP3xx:       s(m.OriginHTTP3xx),
		OriginHTTP4xx:       s(m.OriginHTTP4xx),
		OriginHTTP5xx:       s(m.OriginHTTP5xx),
	}
}

// LogEntry is one per-dimension record as pushed to the external API
type LogEntry struct {
	TenantID  string `json:"tenantId"`
	StartTime int64  `json:"start_time"` // epoch ms
	Country   string `json:"country"`
	Region    string `json:"region"`
	Domain    string `json:"domain"`
	Interval  int    `json:"interval"` // seconds

	MetricRecord
}

// BandwidthGbps converts the Mbps bandwidth field back to Gbps
func (e LogEntry) BandwidthGbps() float64 {
	return float64(e.BandwidthMbps) / 1024
}

// StatsSummary is computed once over a full unmodified bandwidth curve
type StatsSummary struct {
	TotalPoints int     `json:"total_points"`
	P50Gbps     float64 `json:"p50_gbps"`
	P95Gbps     float64 `json:"p95_gbps"`
	P99Gbps     float64 `json:"p99_gbps"`
	MaxGbps     float64 `json:"max_gbps"`
	MinGbps     float64 `json:"min_gbps"`
	AvgGbps     float64 `json:"avg_gbps"`
	TotalFluxTB float64 `json:"total_flux_tb"`
}

// TopPercent describes the samples above the billing percentile
type TopPercent struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// Stats is the percentile ladder of an arbitrary value set
type Stats struct {
	TotalPoints int        `json:"total_points"`
	Min         float64    `json:"min"`
	Max         float64    `json:"max"`
	Avg         float64    `json:"avg"`
	P50         float64    `json:"p50"`
	P95         float64    `json:"p95"`
	P99         float64    `json:"p99"`
	TopPercent  TopPercent `json:"top_5_percent"`
}

// ValidationResult is the pass/fail verdict of a validation.
// DeviationPercent is the billed deviation, |billed - target| / target * 100,
// and decides Passed. AvgDeviationPercent is the literal average-bandwidth
// deviation, |actual_avg - target| / target * 100; it is reported only.
type ValidationResult struct {
	TargetGbps          float64 `json:"target_gbps"`
	ActualAvgGbps       float64 `json:"actual_avg_gbps"`
	ActualP95Gbps       float64 `json:"actual_p95_gbps"`
	BilledGbps          float64 `json:"billed_gbps"`
	DeviationPercent    float64 `json:"deviation_percent"`
	AvgDeviationPercent float64 `json:"avg_deviation_percent"`
	Passed              bool    `json:"passed"`
}

// ValidationReport holds a validation verdict plus per-dimension breakdowns
type ValidationReport struct {
	Validation ValidationResult `json:"validation"`
	Overall    Stats            `json:"overall"`
	ByRegion   map[string]Stats `json:"by_region"`
	ByDomain   map[string]Stats `json:"by_domain"`
}

// BillingEstimate compares 95th percentile billing with flat volume billing
type BillingEstimate struct {
	P95BandwidthGbps float64 `json:"p95_bandwidth_gbps"`
	UnitPrice        float64 `json:"unit_price"`
	MonthlyCost      float64 `json:"monthly_cost"`
	TotalFluxGB      float64 `json:"total_flux_gb"`
	FluxUnitPrice    float64 `json:"flux_unit_price"`
	FluxCost         float64 `json:"flux_cost_comparison"`
	Saving           float64 `json:"saving"`
	SavingPercent    float64 `json:"saving_percent"`
	Stats            Stats   `json:"stats"`
}

// RunReport bundles everything a completed run produced besides the logs
type RunReport struct {
	Stats      StatsSummary      `json:"stats"`
	Validation *ValidationReport `json:"validation,omitempty"`
	Billing    *BillingEstimate  `json:"billing,omitempty"`
	LogCount   int               `json:"log_count"`
	Stored     int               `json:"stored,omitempty"`
	Pushed     int64             `json:"pushed,omitempty"`
}
