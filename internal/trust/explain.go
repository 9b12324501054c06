package trust

import (
	"fmt"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/scoring"
)

// Reason keys used for context mismatches.
const (
	ReasonDevice   = "device_hash"
	ReasonLocation = "location"
)

const explainZ = 2.0

// explainedSignals are checked against the calm baseline for large deviations.
var explainedSignals = []string{
	domain.SignalMouseVelocity,
	domain.SignalDecisionTime,
	domain.SignalTypingSpeed,
	domain.SignalIKIStd,
}

// explain builds the signal -> human-readable rejection reason map.
func explain(current domain.FeatureVector, p *domain.BehaviorProfile, ctx scoring.ContextResult) map[string]string {
	reasons := make(map[string]string)

	if calm, ok := p.Baseline(domain.ContextCalm); ok {
		for _, sig := range explainedSignals {
			cv, ok := current.Get(sig)
			if !ok {
				continue
			}
			z, ok := scoring.ZScore(cv, calm, sig)
			if ok && z > explainZ {
				reasons[sig] = fmt.Sprintf("%.1fx deviation from your baseline", z)
			}
		}
	}

	if !ctx.DeviceMatched {
		reasons[ReasonDevice] = "Unrecognized device"
	}
	if !ctx.LocationMatched || ctx.TimeAnomaly {
		reasons[ReasonLocation] = "Unfamiliar location or time pattern"
	}
	return reasons
}
