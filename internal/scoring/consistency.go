package scoring

import "math"

// ConsistencyMaxPoints is the maximum consistency contribution.
const ConsistencyMaxPoints = 10.0

// ConsistencyWindow is how many recent trusted scores are considered.
const ConsistencyWindow = 5

// Consistency rewards a stable history of trusted scores. scores are
// most-recent-first; fewer than two yield 60% of the maximum.
func Consistency(scores []int) float64 {
	if len(scores) < 2 {
		return ConsistencyMaxPoints * 0.6
	}
	if len(scores) > ConsistencyWindow {
		scores = scores[:ConsistencyWindow]
	}

	var mean float64
	for _, s := range scores {
		mean += float64(s)
	}
	mean /= float64(len(scores))

	var variance float64
	for _, s := range scores {
		d := float64(s) - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(scores)))

	return Round(math.Max(0, 1-std/25)*ConsistencyMaxPoints, 2)
}
