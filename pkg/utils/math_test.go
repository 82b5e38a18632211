package utils

import (
	"math"
	"testing"
)

func TestNonNegative(t *testing.T) {
	if got := NonNegative(-5); got != 0 {
		t.Errorf("NonNegative(-5) = %d, expected 0", got)
	}
	if got := NonNegative(7); got != 7 {
		t.Errorf("NonNegative(7) = %d, expected 7", got)
	}
}

func TestMeanAndSum(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	if got := Sum(values); got != 10 {
		t.Errorf("Sum = %v, expected 10", got)
	}
	if got := Mean(values); got != 2.5 {
		t.Errorf("Mean = %v, expected 2.5", got)
	}
	if got := Mean(nil); got != 0 {
		t.Errorf("Mean(nil) = %v, expected 0", got)
	}
}

func TestSortedCopy(t *testing.T) {
	values := []float64{3, 1, 2}
	sorted := SortedCopy(values)

	if sorted[0] != 1 || sorted[1] != 2 || sorted[2] != 3 {
		t.Errorf("SortedCopy = %v, expected [1 2 3]", sorted)
	}
	if values[0] != 3 {
		t.Error("SortedCopy modified its input")
	}
}

func TestRankIndex(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		q        float64
		expected int
	}{
		{"one day of 5 minute samples", 288, 0.95, 273},
		{"median", 288, 0.5, 144},
		{"single sample", 1, 0.95, 0},
		{"clamped to last", 10, 1.0, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RankIndex(tt.n, tt.q); got != tt.expected {
				t.Errorf("RankIndex(%d, %v) = %d, expected %d", tt.n, tt.q, got, tt.expected)
			}
		})
	}
}

func TestBillingRankIndex(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		q        float64
		expected int
	}{
		{"one day of 5 minute samples", 288, 0.95, 272},
		{"single sample", 1, 0.95, 0},
		{"small window", 10, 0.95, 8},
		{"thirty days", 8640, 0.95, 8207},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BillingRankIndex(tt.n, tt.q); got != tt.expected {
				t.Errorf("BillingRankIndex(%d, %v) = %d, expected %d", tt.n, tt.q, got, tt.expected)
			}
		})
	}
}

func TestRound(t *testing.T) {
	if got := Round(3.14159, 2); got != 3.14 {
		t.Errorf("Round(3.14159, 2) = %v, expected 3.14", got)
	}
}

func TestRelativeDeviation(t *testing.T) {
	if got := RelativeDeviation(21, 20); math.Abs(got-0.05) > 1e-12 {
		t.Errorf("RelativeDeviation(21, 20) = %v, expected 0.05", got)
	}
	if got := RelativeDeviation(5, 0); got != 0 {
		t.Errorf("RelativeDeviation(5, 0) = %v, expected 0", got)
	}
}
