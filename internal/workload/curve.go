package workload

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

const (
	// MinBandwidthGbps is the floor applied to every sample
	MinBandwidthGbps = 0.1

	// CalibrationTolerance is the relative daily-p95 error accepted without rescaling
	CalibrationTolerance = 0.02

	billingQuantile = 0.95
	secondsPerDay   = 86400
)

// Calibration describes the post-pass that pins the daily 95th percentile to the target
type Calibration struct {
	DailyP95Before float64 // mean of per-day p95 before rescaling
	DailyP95After  float64
	Scale          float64 // 1 when no rescale was needed
	Residual       float64 // relative deviation after rescaling
	Days           int     // windows that had at least half a day of points
}

// CurveSynthesizer generates bandwidth curves whose mean daily p95 equals a target
type CurveSynthesizer struct {
	target  float64
	realism config.Realism
	rng     *utils.RandSource
	log     *slog.Logger

	last Calibration
}

// NewCurveSynthesizer creates a synthesizer for targetGbps
func NewCurveSynthesizer(targetGbps float64, realism config.Realism, rng *utils.RandSource) *CurveSynthesizer {
	return &CurveSynthesizer{
		target:  targetGbps,
		realism: realism,
		rng:     rng,
		log:     logger.Component("curve"),
	}
}

// LastCalibration returns the outcome of the most recent Generate call
func (s *CurveSynthesizer) LastCalibration() Calibration {
	return s.last
}

// Generate produces days*86400/intervalSeconds samples in Gbps.
// Samples are shaped by diurnal, weekly, and month-edge factors with noise
// and bursts, then linearly rescaled so the mean daily p95 lands on target.
func (s *CurveSynthesizer) Generate(days, intervalSeconds int) ([]float64, error) {
	if days <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %d days", days)
	}
	if intervalSeconds <= 0 || secondsPerDay%intervalSeconds != 0 {
		return nil, fmt.Errorf("interval %ds does not divide a day", intervalSeconds)
	}

	pointsPerDay := secondsPerDay / intervalSeconds
	total := days * pointsPerDay
	curve := make([]float64, total)

	for i := 0; i < total; i++ {
		offset := i * intervalSeconds
		hour := (offset / 3600) % 24
		dayOfMonth := offset / secondsPerDay
		dayOfWeek := dayOfMonth % 7

		bw := s.target *
			DailyFactor(hour) *
			WeeklyFactor(dayOfWeek) *
			MonthlyFactor(dayOfMonth, days) *
			s.rng.UniformFloat64(0.92, 1.08) *
			s.burstFactor()

		curve[i] = math.Max(MinBandwidthGbps, bw)
	}

	s.last = Calibrate(curve, pointsPerDay, s.target)
	s.logCalibration()

	return curve, nil
}

func (s *CurveSynthesizer) burstFactor() float64 {
	if s.rng.BernoulliBool(s.realism.BurstProbability) {
		return s.rng.UniformFloat64(2.0, 3.0)
	}
	return 1.0
}

func (s *CurveSynthesizer) logCalibration() {
	c := s.last
	if c.Scale != 1 {
		s.log.Info("curve calibrated",
			"daily_p95_before", utils.Round(c.DailyP95Before, 3),
			"daily_p95_after", utils.Round(c.DailyP95After, 3),
			"target_gbps", s.target,
			"scale", utils.Round(c.Scale, 4))
	} else {
		s.log.Info("curve within tolerance", "daily_p95", utils.Round(c.DailyP95Before, 3), "target_gbps", s.target)
	}
	if c.Residual > CalibrationTolerance {
		s.log.Warn("calibration residual above tolerance",
			"residual_percent", utils.Round(c.Residual*100, 3),
			"days", c.Days)
	}
}

// DailyFactor peaks in the evening and bottoms out before dawn (0.6x..1.3x)
func DailyFactor(hour int) float64 {
	return 0.6 + 0.7*(0.5+0.5*math.Sin(float64(hour-6)*math.Pi/12))
}

// WeeklyFactor lowers the last two days of each 7-day cycle
func WeeklyFactor(dayOfWeek int) float64 {
	if dayOfWeek == 5 || dayOfWeek == 6 {
		return 0.85
	}
	return 1.0
}

// MonthlyFactor raises the first and last three days of the window
func MonthlyFactor(day, days int) float64 {
	if day < 3 || day >= days-3 {
		return 1.15
	}
	return 1.0
}

// DailyP95 returns the billing p95 of every window of pointsPerDay samples
// holding at least half a day of points.
func DailyP95(curve []float64, pointsPerDay int) []float64 {
	if pointsPerDay <= 0 {
		return nil
	}
	var out []float64
	for start := 0; start < len(curve); start += pointsPerDay {
		end := min(start+pointsPerDay, len(curve))
		day := curve[start:end]
		if float64(len(day)) < float64(pointsPerDay)*0.5 {
			continue
		}
		sorted := utils.SortedCopy(day)
		out = append(out, sorted[utils.BillingRankIndex(len(sorted), billingQuantile)])
	}
	return out
}

// Calibrate rescales curve in place so the mean daily p95 equals target.
// Curves already within CalibrationTolerance are left untouched.
func Calibrate(curve []float64, pointsPerDay int, target float64) Calibration {
	if len(curve) == 0 || target <= 0 {
		return Calibration{Scale: 1}
	}

	daily := DailyP95(curve, pointsPerDay)
	before := 0.0
	if len(daily) > 0 {
		before = utils.Mean(daily)
	} else {
		before = utils.SortedCopy(curve)[len(curve)-1]
	}

	c := Calibration{DailyP95Before: before, DailyP95After: before, Scale: 1, Days: len(daily)}
	if utils.RelativeDeviation(before, target) <= CalibrationTolerance {
		c.Residual = utils.RelativeDeviation(before, target)
		return c
	}

	c.Scale = target / before
	for i := range curve {
		curve[i] = math.Max(MinBandwidthGbps, curve[i]*c.Scale)
	}

	after := DailyP95(curve, pointsPerDay)
	if len(after) > 0 {
		c.DailyP95After = utils.Mean(after)
	} else {
		c.DailyP95After = utils.SortedCopy(curve)[len(curve)-1]
	}
	c.Residual = utils.RelativeDeviation(c.DailyP95After, target)
	return c
}
