// Package profile evolves behavior profiles after each decided login and
// builds new profiles from enrollment captures. All functions operate on
// copies and perform no I/O.
package profile

import (
	"math"
	"slices"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/scoring"
	"github.com/opensource-finance/heron/internal/trust"
)

// Learning constants.
const (
	CalmLearningRate      = 0.10
	CognitiveLearningRate = CalmLearningRate * 0.5

	ConfidenceGrow   = 0.05
	ConfidenceShrink = 0.10
	MinConfidence    = 0.1
	MaxConfidence    = 1.0

	MaxTypicalHours = 10
)

// DriftSignals are smoothed toward new observations after a trusted login.
var DriftSignals = []string{
	domain.SignalTypingSpeed,
	domain.SignalKeyHoldTime,
	domain.SignalMouseVelocity,
	domain.SignalClickInterval,
	domain.SignalDecisionTime,
	domain.SignalScrollDepth,
	domain.SignalNetworkLatency,
	domain.SignalBehaviorUnderSlowness,
	domain.SignalIKIMean,
	domain.SignalIKIStd,
	domain.SignalHoldMean,
	domain.SignalHoldStd,
	domain.SignalMouseVelMean,
	domain.SignalMouseVelStd,
	domain.SignalLatencyMean,
	domain.SignalLatencyJitter,
	domain.SignalSlowKeyRatio,
}

// zeroAllowed signals may legitimately be observed as 0.
var zeroAllowed = map[string]bool{
	domain.SignalScrollDepth:  true,
	domain.SignalSlowKeyRatio: true,
}

// learningRates lists the drifted contexts. Controlled captures are never
// drifted.
var learningRates = []struct {
	context domain.Context
	alpha   float64
}{
	{domain.ContextCalm, CalmLearningRate},
	{domain.ContextCognitive, CognitiveLearningRate},
}

// ApplyTrustedLogin returns the profile after a GRANTED login: baselines
// drift toward current, confidence grows, streaks advance, the login hour
// is learned and the threshold is recomputed. The login hour is taken from
// the time_of_day signal when captured, otherwise from at. p must not be nil.
func ApplyTrustedLogin(p *domain.BehaviorProfile, current domain.FeatureVector, trustScore int, at time.Time) *domain.BehaviorProfile {
	out := p.Clone()

	for _, lr := range learningRates {
		b, ok := out.Baseline(lr.context)
		if !ok || len(current.Signals) == 0 {
			continue
		}
		out.Baselines[lr.context] = Drift(b, current, lr.alpha)
	}

	c := out.IdentityConfidence
	out.IdentityConfidence = math.Min(MaxConfidence, c+ConfidenceGrow*(1-c))

	out.TrustedLoginCount++
	out.ConsecutiveTrusted++
	out.ConsecutiveDeviations = 0
	out.LoginCount++

	hour := at.Hour()
	if _, ok := current.Get(domain.SignalTimeOfDay); ok {
		hour = scoring.CurrentHour(current)
	}
	out.TypicalHours = LearnHour(out.TypicalHours, hour)
	out.DynamicThreshold = trust.DynamicThreshold(out)
	out.UpdatedAt = at
	return out
}

// ApplyFailedLogin returns the profile after a DENIED login.
func ApplyFailedLogin(p *domain.BehaviorProfile, at time.Time) *domain.BehaviorProfile {
	out := p.Clone()

	out.IdentityConfidence = math.Max(MinConfidence, out.IdentityConfidence-ConfidenceShrink)
	out.ConsecutiveDeviations++
	out.ConsecutiveTrusted = 0
	out.LoginCount++

	out.DynamicThreshold = trust.DynamicThreshold(out)
	out.UpdatedAt = at
	return out
}

// Drift applies newMean = (1-alpha)*old + alpha*new to every drift signal
// present in both the baseline and current with a plausible value.
// Fingerprints are kept from enrollment.
func Drift(b domain.Baseline, current domain.FeatureVector, alpha float64) domain.Baseline {
	out := b.Clone()
	for _, sig := range DriftSignals {
		old, ok := b.Signals[sig]
		if !ok {
			continue
		}
		v, ok := current.Get(sig)
		if !ok {
			continue
		}
		if v > 0 || zeroAllowed[sig] {
			out.Signals[sig] = (1-alpha)*old + alpha*v
		}
	}
	return out
}

// LearnHour returns hours with hour appended if not already known, keeping
// the most recent MaxTypicalHours entries. The input slice is never
// modified.
func LearnHour(hours []int, hour int) []int {
	if slices.Contains(hours, hour) {
		return slices.Clone(hours)
	}
	out := append(slices.Clone(hours), hour)
	if len(out) > MaxTypicalHours {
		out = out[len(out)-MaxTypicalHours:]
	}
	return out
}
