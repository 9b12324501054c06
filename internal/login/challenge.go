package login

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/audit"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/scoring"
	"github.com/opensource-finance/heron/internal/trust"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrChallengeInvalid is returned for an unknown, expired, foreign or
// exhausted challenge token.
var ErrChallengeInvalid = errors.New("invalid or expired challenge")

// deniedChallengeScore is the trust score recorded for a failed challenge.
const deniedChallengeScore = 20

// challengeSentences are typed by the user during step-up verification.
var challengeSentences = []string{
	"The behavioral system secures access through continuous identity verification.",
	"Each keystroke carries a unique signature that reveals the typist.",
	"Security without passwords relies on how people naturally interact.",
	"The rhythm of typing is as unique as a fingerprint to the system.",
	"Behavioral biometrics verify identity without storing sensitive data.",
}

func newToken() string {
	return uuid.New().String()
}

func (s *Service) issueChallenge(ctx context.Context, tenantID string, rec *domain.DecisionRecord) (*domain.Challenge, error) {
	now := s.now()
	ch := &domain.Challenge{
		Token:      s.newToken(),
		DecisionID: rec.ID,
		UserID:     rec.UserID,
		Score:      rec.TrustScore,
		Threshold:  rec.Threshold,
		Sentence:   challengeSentences[rand.IntN(len(challengeSentences))],
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.cfg.ChallengeTTL),
	}
	if err := cache.SetJSON(ctx, s.cache, tenantID, cache.ChallengeKey(ch.Token), ch, s.cfg.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	return ch, nil
}

// VerifyChallenge checks a step-up capture against the user's calm
// baseline. The token is consumed by the first verification for its user;
// at most MaxChallengeAttempts calls are accepted per token. Passing grants
// access with the challenged score plus the bonus and is learned as a
// trusted login; failing denies and counts as a failed login.
func (s *Service) VerifyChallenge(ctx context.Context, tenantID, token, userID string, fv domain.FeatureVector) (*Outcome, error) {
	if tenantID == "" || userID == "" || token == "" {
		return nil, fmt.Errorf("%w: tenantID, userID and token are required", ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "login.VerifyChallenge", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	ch, err := s.takeChallenge(ctx, tenantID, token, userID)
	if err != nil {
		if errors.Is(err, ErrChallengeInvalid) {
			metrics.ChallengesTotal.WithLabelValues("invalid").Inc()
		}
		return nil, s.fail(span, err)
	}

	p, err := s.loadProfile(ctx, tenantID, userID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	deviation, passed := s.challengePassed(p, fv)
	result := domain.TrustResult{
		TrustScore: deniedChallengeScore,
		RiskLevel:  domain.RiskHigh,
		Action:     domain.ActionDenied,
		Threshold:  ch.Threshold,
		Confidence: confidence(p),
		Breakdown: domain.Breakdown{
			CalmDeviation: scoring.Round(deviation, 1),
			ThresholdUsed: ch.Threshold,
		},
		Reasons: map[string]string{},
	}
	if passed {
		result.TrustScore = min(ch.Score+s.cfg.ChallengeBonus, trust.MaxScore)
		result.RiskLevel = domain.RiskLow
		result.Action = domain.ActionGranted
	} else {
		result.Reasons["challenge"] = "Challenge typing did not match your baseline"
	}

	rec := s.recorder.Record(audit.Input{
		TenantID:     tenantID,
		UserID:       userID,
		TraceID:      traceID(ctx),
		ModelVersion: s.modelVersion(),
		Result:       result,
		Challenge:    true,
	})
	s.persist(ctx, rec, fv)
	s.publish(ctx, rec)

	out := &Outcome{Decision: rec}
	if p != nil {
		out.Profile, err = s.apply(ctx, tenantID, userID, rec.Action, fv, rec.TrustScore)
		if err != nil {
			return nil, s.fail(span, err)
		}
	}

	label := "failed"
	if passed {
		label = "passed"
	}
	metrics.ChallengesTotal.WithLabelValues(label).Inc()
	metrics.LoginDecisionsTotal.WithLabelValues(string(rec.Action)).Inc()

	s.logger.Info("challenge verified",
		"tenant_id", tenantID,
		"user_id", userID,
		"decision_id", rec.ID,
		"challenged_decision_id", ch.DecisionID,
		"calm_deviation", deviation,
		"action", rec.Action,
	)
	return out, nil
}

// takeChallenge consumes a challenge if it belongs to userID. A foreign
// user only spends an attempt. The consuming read is atomic, so concurrent
// verifies of one token yield at most one challenge.
func (s *Service) takeChallenge(ctx context.Context, tenantID, token, userID string) (*domain.Challenge, error) {
	key := cache.ChallengeKey(token)

	attempts, err := s.cache.IncrementCounter(ctx, tenantID, key, s.cfg.ChallengeTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to count challenge attempts: %w", err)
	}
	if attempts > int64(s.cfg.MaxChallengeAttempts) {
		_ = s.cache.Delete(ctx, tenantID, key)
		return nil, fmt.Errorf("%w: too many attempts", ErrChallengeInvalid)
	}

	peek, err := cache.GetJSON[domain.Challenge](ctx, s.cache, tenantID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if peek == nil || peek.UserID != userID {
		return nil, ErrChallengeInvalid
	}

	ch, err := cache.TakeJSON[domain.Challenge](ctx, s.cache, tenantID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if ch == nil || ch.UserID != userID || !s.now().Before(ch.ExpiresAt) {
		return nil, ErrChallengeInvalid
	}
	return ch, nil
}

// challengePassed compares the capture with the calm baseline. A user
// without one passes.
func (s *Service) challengePassed(p *domain.BehaviorProfile, fv domain.FeatureVector) (float64, bool) {
	calm, ok := p.Baseline(domain.ContextCalm)
	if !ok {
		return 0, true
	}
	dev := scoring.Deviation(fv, calm, scoring.CalmMaxPoints)
	return dev, dev >= s.cfg.ChallengePassScore
}

func confidence(p *domain.BehaviorProfile) float64 {
	if p == nil {
		return 0
	}
	return p.IdentityConfidence
}
