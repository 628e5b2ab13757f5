package service

import (
	"math"
	"testing"
)

func TestConfidenceInterval(t *testing.T) {
	tests := []struct {
		name       string
		successes  int
		total      int
		confidence float64
		wantLower  float64
		wantUpper  float64
	}{
		{
			name: "no samples is maximally uncertain",
			successes: 0, total: 0, confidence: 0.95,
			wantLower: 0.0, wantUpper: 1.0,
		},
		{
			// Wilson at p=0.5, n=10, z=1.96
			name: "balanced small sample",
			successes: 5, total: 10, confidence: 0.95,
			wantLower: 0.2366, wantUpper: 0.7634,
		},
		{
			// Unlike the normal approximation, Wilson keeps the lower
			// bound above zero for all-success samples.
			name: "all successes",
			successes: 10, total: 10, confidence: 0.95,
			wantLower: 0.7225, wantUpper: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, upper := ConfidenceInterval(tt.successes, tt.total, tt.confidence)
			if math.Abs(lower-tt.wantLower) > 0.001 {
				t.Errorf("lower = %.4f, want %.4f", lower, tt.wantLower)
			}
			if math.Abs(upper-tt.wantUpper) > 0.001 {
				t.Errorf("upper = %.4f, want %.4f", upper, tt.wantUpper)
			}
		})
	}
}

func TestConfidenceInterval_Bounds(t *testing.T) {
	for _, level := range []float64{0.90, 0.95, 0.99, 0.42} {
		lower, upper := ConfidenceInterval(3, 7, level)
		if lower < 0 || upper > 1 || lower > upper {
			t.Errorf("level %v: interval (%v, %v) out of bounds", level, lower, upper)
		}
	}
}

func TestConfidenceInterval_NarrowsWithSamples(t *testing.T) {
	l1, u1 := ConfidenceInterval(5, 10, 0.95)
	l2, u2 := ConfidenceInterval(500, 1000, 0.95)
	if (u2 - l2) >= (u1 - l1) {
		t.Errorf("interval did not narrow: n=10 width %v, n=1000 width %v", u1-l1, u2-l2)
	}
}
