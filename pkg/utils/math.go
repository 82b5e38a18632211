package utils

import (
	"math"
	"sort"
)

// NonNegative returns v, or 0 when v is negative
func NonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Mean calculates the mean of a slice of float64 values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// Sum calculates the sum of a slice of float64 values
func Sum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// SortedCopy returns an ascending copy of values, leaving the input untouched
func SortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

// RankIndex returns floor(n*q) clamped to [0, n-1].
// This is the nearest-rank index used for reported percentiles.
func RankIndex(n int, q float64) int {
	return clampIndex(int(float64(n)*q), n)
}

// BillingRankIndex returns floor(n*q)-1 clamped to [0, n-1].
// Billing percentiles drop the top (1-q) share of samples and charge the
// highest remaining one, hence the extra -1.
func BillingRankIndex(n int, q float64) int {
	return clampIndex(int(float64(n)*q)-1, n)
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

// Round rounds a float64 to the specified number of decimal places
func Round(value float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(value*multiplier) / multiplier
}

// RelativeDeviation returns |actual-target|/target, or 0 for a zero target
func RelativeDeviation(actual, target float64) float64 {
	if target == 0 {
		return 0
	}
	return math.Abs(actual-target) / target
}
