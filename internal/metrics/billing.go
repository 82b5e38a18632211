package metrics

import (
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

// Billing defaults
const (
	DefaultUnitPrice       = 100.0 // per billed Gbps per month
	DefaultFluxUnitPrice   = 0.8   // per GB
	DefaultIntervalSeconds = defaultInterval
)

// BillingEstimator prices a bandwidth curve under 95th percentile billing
// and compares it with flat volume pricing.
type BillingEstimator struct {
	IntervalSeconds int
	FluxUnitPrice   float64
}

// NewBillingEstimator creates an estimator; non-positive arguments fall back to defaults
func NewBillingEstimator(intervalSeconds int, fluxUnitPrice float64) *BillingEstimator {
	if intervalSeconds <= 0 {
		intervalSeconds = DefaultIntervalSeconds
	}
	if fluxUnitPrice <= 0 {
		fluxUnitPrice = DefaultFluxUnitPrice
	}
	return &BillingEstimator{IntervalSeconds: intervalSeconds, FluxUnitPrice: fluxUnitPrice}
}

// Estimate prices curve (Gbps per interval) at unitPrice per billed Gbps.
// A negative saving means volume pricing would have been cheaper.
func (b *BillingEstimator) Estimate(curve []float64, unitPrice float64) (*models.BillingEstimate, error) {
	stats, err := Calculate(curve)
	if err != nil {
		return nil, err
	}

	sum := 0.0
	for _, v := range curve {
		sum += v
	}

	monthly := stats.P95 * unitPrice
	// Gbps * seconds / 8 = GB
	fluxGB := sum * float64(b.IntervalSeconds) / 8
	fluxCost := fluxGB * b.FluxUnitPrice
	saving := fluxCost - monthly

	savingPercent := 0.0
	if fluxCost > 0 {
		savingPercent = saving / fluxCost * 100
	}

	return &models.BillingEstimate{
		P95BandwidthGbps: stats.P95,
		UnitPrice:        unitPrice,
		MonthlyCost:      monthly,
		TotalFluxGB:      fluxGB,
		FluxUnitPrice:    b.FluxUnitPrice,
		FluxCost:         fluxCost,
		Saving:           saving,
		SavingPercent:    savingPercent,
		Stats:            stats,
	}, nil
}

// EstimateLogs prices the aggregate bandwidth curve reconstructed from logs
func (b *BillingEstimator) EstimateLogs(logs []models.LogEntry, unitPrice float64) (*models.BillingEstimate, error) {
	series := AggregateSeries(logs)
	curve := make([]float64, len(series))
	for i, s := range series {
		curve[i] = s.BandwidthGbps
	}
	return b.Estimate(curve, unitPrice)
}
