package service

import "math"

// zScores holds critical values for the supported confidence levels.
// Unsupported levels fall back to the 95% value.
var zScores = map[float64]float64{
	0.90: 1.645,
	0.95: 1.96,
	0.99: 2.576,
}

// ConfidenceInterval computes the Wilson score interval for a binomial
// proportion. With no samples it returns the maximally uncertain (0, 1).
func ConfidenceInterval(successes, total int, confidence float64) (lower, upper float64) {
	if total == 0 {
		return 0.0, 1.0
	}

	z, ok := zScores[confidence]
	if !ok {
		z = 1.96
	}

	n := float64(total)
	p := float64(successes) / n

	denominator := 1 + z*z/n
	centre := (p + z*z/(2*n)) / denominator
	halfWidth := z * math.Sqrt((p*(1-p)+z*z/(4*n))/n) / denominator

	lower = math.Max(0, centre-halfWidth)
	upper = math.Min(1, centre+halfWidth)
	return lower, upper
}
