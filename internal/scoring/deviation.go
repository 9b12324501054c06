// Package scoring implements the leaf scorers of the trust pipeline:
// baseline deviation, login context and score consistency.
package scoring

import (
	"math"

	"github.com/opensource-finance/heron/internal/domain"
)

// Maximum points contributed by each baseline context.
const (
	CalmMaxPoints      = 10.0
	CognitiveMaxPoints = 8.0
)

const (
	maxZ       = 3.0
	nearZeroSD = 0.001
)

// DeviationSignals are compared against a baseline when present in both.
var DeviationSignals = []string{
	domain.SignalTypingSpeed,
	domain.SignalKeyHoldTime,
	domain.SignalMouseVelocity,
	domain.SignalClickInterval,
	domain.SignalDecisionTime,
	domain.SignalIKIMean,
	domain.SignalIKIStd,
	domain.SignalHoldMean,
	domain.SignalHoldStd,
	domain.SignalMouseVelMean,
}

// BaselineStd returns the spread used to normalize a signal. A missing
// spread defaults to 20% of the mean (20 when the mean is 0); a near-zero
// spread is floored to max(|mean|*0.15, 5).
func BaselineStd(b domain.Baseline, signal string, mean float64) float64 {
	std, ok := b.Std(signal)
	if !ok {
		std = math.Abs(mean) * 0.2
		if std == 0 {
			std = 20
		}
	}
	if std < nearZeroSD {
		std = math.Max(math.Abs(mean)*0.15, 5.0)
	}
	return std
}

// ZScore returns min(|current-mean|/std, 3) for a signal. ok is false when
// the baseline does not track the signal.
func ZScore(current float64, b domain.Baseline, signal string) (z float64, ok bool) {
	mean, ok := b.Signals[signal]
	if !ok {
		return 0, false
	}
	std := BaselineStd(b, signal, mean)
	return math.Min(math.Abs(current-mean)/std, maxZ), true
}

// Similarity maps a z-score to (0,1) with 1/(1+e^(z-1)).
// z=0 yields about 0.73, not 1.
func Similarity(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(z-1.0))
}

// Deviation scores how close the current signals are to a baseline, from 0
// to maxPoints. An empty baseline, or no signal shared with it, yields half
// of maxPoints.
func Deviation(current domain.FeatureVector, b domain.Baseline, maxPoints float64) float64 {
	neutral := maxPoints * 0.5
	if b.Empty() || len(current.Signals) == 0 {
		return neutral
	}

	var sum float64
	var n int
	for _, sig := range DeviationSignals {
		cv, ok := current.Get(sig)
		if !ok {
			continue
		}
		z, ok := ZScore(cv, b, sig)
		if !ok {
			continue
		}
		sum += Similarity(z)
		n++
	}
	if n == 0 {
		return neutral
	}
	return Round(sum/float64(n)*maxPoints, 2)
}

// Round rounds v to the given number of decimals, half away from zero.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
