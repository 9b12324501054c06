package trust

import (
	"math"

	"github.com/opensource-finance/heron/internal/domain"
)

// Threshold bounds and defaults.
const (
	DefaultThreshold = 60.0
	MinThreshold     = 40.0
	MaxThreshold     = 85.0

	confidenceWeight   = 15.0
	deviationStep      = 5.0
	maxDeviationAdjust = 25.0
)

// DynamicThreshold computes the per-user acceptance threshold:
// clamp(60 - 15*confidence + min(25, 5*consecutiveDeviations), 40, 85).
// A nil profile yields the default of 60.
func DynamicThreshold(p *domain.BehaviorProfile) float64 {
	if p == nil {
		return DefaultThreshold
	}
	adjust := math.Min(maxDeviationAdjust, deviationStep*float64(p.ConsecutiveDeviations))
	t := DefaultThreshold - confidenceWeight*p.IdentityConfidence + adjust
	return math.Max(MinThreshold, math.Min(MaxThreshold, t))
}
