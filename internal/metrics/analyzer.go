// Package metrics recomputes percentile statistics from generated logs and
// estimates 95th percentile billing.
package metrics

import (
	"errors"
	"fmt"
	"sort"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

// ErrEmptyInput is returned when statistics are requested over no values
var ErrEmptyInput = errors.New("empty input")

const (
	// PassThresholdPercent is the largest billed deviation that still passes validation
	PassThresholdPercent = 5.0

	billingQuantile = 0.95
	msPerDay        = 86_400_000
	defaultInterval = 300
)

// Calculate returns the percentile ladder of values.
// p95 uses the billing index floor(n*0.95)-1; the top block holds every sample at or above it.
func Calculate(values []float64) (models.Stats, error) {
	n := len(values)
	if n == 0 {
		return models.Stats{}, ErrEmptyInput
	}

	sorted := utils.SortedCopy(values)
	p95 := utils.BillingRankIndex(n, billingQuantile)
	// below 20 samples n/2 can pass the billing index
	p50 := min(n/2, p95)
	top := sorted[p95:]

	return models.Stats{
		TotalPoints: n,
		Min:         sorted[0],
		Max:         sorted[n-1],
		Avg:         utils.Mean(sorted),
		P50:         sorted[p50],
		P95:         sorted[p95],
		P99:         sorted[utils.RankIndex(n, 0.99)],
		TopPercent: models.TopPercent{
			Count: len(top),
			Min:   top[0],
			Max:   top[len(top)-1],
			Avg:   utils.Mean(top),
		},
	}, nil
}

// AggregateSeries sums entry bandwidth per start_time, ordered by time.
// This reconstructs the total bandwidth curve from per-dimension entries.
func AggregateSeries(logs []models.LogEntry) []models.Sample {
	totals := make(map[int64]float64)
	for _, e := range logs {
		totals[e.StartTime] += e.BandwidthGbps()
	}

	keys := make([]int64, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]models.Sample, len(keys))
	for i, k := range keys {
		out[i] = models.Sample{Timestamp: utils.MsToTime(k), BandwidthGbps: totals[k]}
	}
	return out
}

// BilledBandwidth returns the mean of per-day billing p95 over the aggregate
// series. Days are counted from the first timestamp; days holding less than
// half of the expected points are skipped. When no day qualifies the billing
// p95 of the whole series is returned.
func BilledBandwidth(logs []models.LogEntry) (float64, error) {
	series := AggregateSeries(logs)
	if len(series) == 0 {
		return 0, ErrEmptyInput
	}

	interval := logs[0].Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	pointsPerDay := 86400 / interval

	first := series[0].Timestamp.UnixMilli()
	byDay := make(map[int64][]float64)
	all := make([]float64, len(series))
	for i, s := range series {
		day := (s.Timestamp.UnixMilli() - first) / msPerDay
		byDay[day] = append(byDay[day], s.BandwidthGbps)
		all[i] = s.BandwidthGbps
	}

	var daily []float64
	for _, values := range byDay {
		if float64(len(values)) < float64(pointsPerDay)*0.5 {
			continue
		}
		sorted := utils.SortedCopy(values)
		daily = append(daily, sorted[utils.BillingRankIndex(len(sorted), billingQuantile)])
	}

	if len(daily) == 0 {
		sorted := utils.SortedCopy(all)
		return sorted[utils.BillingRankIndex(len(sorted), billingQuantile)], nil
	}
	return utils.Mean(daily), nil
}

// Validate checks logs against a billing target.
// Pass/fail compares the billed bandwidth (mean daily p95 of the aggregate
// curve) with the target; average deviation is reported alongside.
func Validate(logs []models.LogEntry, targetGbps float64) (*models.ValidationReport, error) {
	if len(logs) == 0 {
		return nil, ErrEmptyInput
	}
	if targetGbps <= 0 {
		return nil, fmt.Errorf("target must be positive, got %v", targetGbps)
	}

	series := AggregateSeries(logs)
	aggregate := make([]float64, len(series))
	for i, s := range series {
		aggregate[i] = s.BandwidthGbps
	}
	overall, err := Calculate(aggregate)
	if err != nil {
		return nil, err
	}

	billed, err := BilledBandwidth(logs)
	if err != nil {
		return nil, err
	}

	byRegion := make(map[string][]float64)
	byDomain := make(map[string][]float64)
	for _, e := range logs {
		bw := e.BandwidthGbps()
		byRegion[e.Region] = append(byRegion[e.Region], bw)
		byDomain[e.Domain] = append(byDomain[e.Domain], bw)
	}

	deviation := percentDeviation(billed, targetGbps)

	return &models.ValidationReport{
		Validation: models.ValidationResult{
			TargetGbps:          targetGbps,
			ActualAvgGbps:       overall.Avg,
			ActualP95Gbps:       overall.P95,
			BilledGbps:          billed,
			DeviationPercent:    deviation,
			AvgDeviationPercent: percentDeviation(overall.Avg, targetGbps),
			Passed:              deviation < PassThresholdPercent,
		},
		Overall:  overall,
		ByRegion: groupStats(byRegion),
		ByDomain: groupStats(byDomain),
	}, nil
}

func groupStats(groups map[string][]float64) map[string]models.Stats {
	out := make(map[string]models.Stats, len(groups))
	for k, values := range groups {
		// groups are never empty
		s, _ := Calculate(values)
		out[k] = s
	}
	return out
}

func percentDeviation(actual, target float64) float64 {
	return utils.RelativeDeviation(actual, target) * 100
}
