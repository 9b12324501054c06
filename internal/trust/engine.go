// Package trust turns a behavioral feature vector and a user profile into a
// trust score, a risk level and an authorization decision.
package trust

import (
	"math"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/scoring"
)

// Score composition constants.
const (
	MLMaxPoints     = 75.0
	MLNeutralPoints = 37.0

	// MaxScore is the upper bound of a trust score.
	MaxScore = 100

	// grantMargin is how far above the threshold a score must be to be
	// granted without a challenge.
	grantMargin = 20.0

	defaultConfidence = 0.3
)

// Input is everything a scoring call needs.
type Input struct {
	Current domain.FeatureVector

	// Profile is nil for a user without enrollment.
	Profile *domain.BehaviorProfile

	// RecentTrustedScores is most-recent-first; only the first five are used.
	RecentTrustedScores []int

	ModelProbability float64
	ModelAvailable   bool
}

// Engine computes trust results. It holds no state and is safe for
// concurrent use.
type Engine struct{}

// NewEngine creates a new trust engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Score computes the trust result for a login attempt. It never mutates
// the input.
func (e *Engine) Score(in Input) domain.TrustResult {
	mlScore := MLNeutralPoints
	if in.ModelAvailable && !math.IsNaN(in.ModelProbability) && !math.IsInf(in.ModelProbability, 0) {
		p := math.Max(0, math.Min(1, in.ModelProbability))
		mlScore = scoring.Round(p*MLMaxPoints, 2)
	}

	calm, _ := in.Profile.Baseline(domain.ContextCalm)
	cognitive, _ := in.Profile.Baseline(domain.ContextCognitive)
	calmDev := scoring.Deviation(in.Current, calm, scoring.CalmMaxPoints)
	cognitiveDev := scoring.Deviation(in.Current, cognitive, scoring.CognitiveMaxPoints)

	ctx := scoring.Context(in.Current, in.Profile)
	consistency := scoring.Consistency(in.RecentTrustedScores)

	total := math.Round(mlScore + calmDev + cognitiveDev + ctx.Score + consistency)
	trustScore := int(math.Max(0, math.Min(MaxScore, total)))

	threshold := DynamicThreshold(in.Profile)
	risk, action := Classify(trustScore, threshold)

	confidence := defaultConfidence
	if in.Profile != nil {
		confidence = in.Profile.IdentityConfidence
	}

	return domain.TrustResult{
		TrustScore: trustScore,
		RiskLevel:  risk,
		Action:     action,
		Threshold:  scoring.Round(threshold, 1),
		Confidence: scoring.Round(confidence, 3),
		Breakdown: domain.Breakdown{
			MLScore:            scoring.Round(mlScore, 1),
			CalmDeviation:      scoring.Round(calmDev, 1),
			CognitiveDeviation: scoring.Round(cognitiveDev, 1),
			ContextScore:       scoring.Round(ctx.Score, 1),
			ConsistencyScore:   scoring.Round(consistency, 1),
			ThresholdUsed:      scoring.Round(threshold, 1),
		},
		Reasons:         explain(in.Current, in.Profile, ctx),
		DeviceMatched:   ctx.DeviceMatched,
		LocationMatched: ctx.LocationMatched,
		TimeAnomaly:     ctx.TimeAnomaly,
	}
}

// Classify maps a score and threshold to a risk level and action.
// gap > 20 grants, 0 <= gap <= 20 challenges, gap < 0 denies.
func Classify(score int, threshold float64) (domain.RiskLevel, domain.Action) {
	gap := float64(score) - threshold
	switch {
	case gap > grantMargin:
		return domain.RiskLow, domain.ActionGranted
	case gap >= 0:
		return domain.RiskMedium, domain.ActionChallenged
	default:
		return domain.RiskHigh, domain.ActionDenied
	}
}
