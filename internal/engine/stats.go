package engine

import (
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

// Summarize computes the reporting ladder over a full, unmodified curve.
// Percentiles here use the plain nearest-rank index floor(n*q), unlike the
// billing index used during calibration.
func Summarize(curve []float64, intervalSeconds int) models.StatsSummary {
	n := len(curve)
	if n == 0 {
		return models.StatsSummary{}
	}

	sorted := utils.SortedCopy(curve)
	sum := utils.Sum(curve)

	return models.StatsSummary{
		TotalPoints: n,
		P50Gbps:     sorted[n/2],
		P95Gbps:     sorted[utils.RankIndex(n, 0.95)],
		P99Gbps:     sorted[utils.RankIndex(n, 0.99)],
		MaxGbps:     sorted[n-1],
		MinGbps:     sorted[0],
		AvgGbps:     sum / float64(n),
		// Gbps*s/8 = GB, /1024 = TB
		TotalFluxTB: sum * float64(intervalSeconds) / 8 / 1024,
	}
}

// Samples pairs a curve with timestamps start + i*interval
func Samples(curve []float64, start time.Time, interval time.Duration) []models.Sample {
	out := make([]models.Sample, len(curve))
	for i, bw := range curve {
		out[i] = models.Sample{
			Timestamp:     start.Add(time.Duration(i) * interval),
			BandwidthGbps: bw,
		}
	}
	return out
}
