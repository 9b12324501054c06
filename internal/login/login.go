// Package login runs the login flow around the trust engine: it loads the
// user's profile and history, scores the attempt, records the decision,
// publishes events and applies the outcome to the profile.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/audit"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/history"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/profile"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/syncutil"
	"github.com/opensource-finance/heron/internal/trust"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidInput is returned for requests missing tenant or user.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProfileExists is returned when enrolling a user twice.
	ErrProfileExists = errors.New("profile already exists")

	// ErrNoCalibration is returned when enrollment carries no usable phase.
	ErrNoCalibration = errors.New("no calibration data")
)

var tracer = otel.Tracer("heron/login")

// Outcome is the result of a login attempt or challenge verification.
type Outcome struct {
	Decision *domain.DecisionRecord

	// Profile is the profile after the outcome was applied; nil for an
	// unknown user.
	Profile *domain.BehaviorProfile

	// Challenge is set when the attempt was CHALLENGED.
	Challenge *domain.Challenge
}

// Response converts the outcome to its API shape.
func (o *Outcome) Response() *domain.LoginResponse {
	resp := o.Decision.ToResponse()
	if o.Challenge != nil {
		resp.ChallengeToken = o.Challenge.Token
		resp.Sentence = o.Challenge.Sentence
	}
	return resp
}

// ProfileView is a profile with its most recent decisions.
type ProfileView struct {
	Profile         *domain.BehaviorProfile  `json:"profile"`
	RecentDecisions []*domain.DecisionRecord `json:"recentDecisions"`
}

// EnrollResult is a freshly created profile with per-phase capture quality.
type EnrollResult struct {
	Profile *domain.BehaviorProfile    `json:"profile"`
	Quality map[domain.Context]float64 `json:"quality"`
}

// Service is the login flow. It is safe for concurrent use; updates to a
// single user's profile are serialized within the process.
type Service struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	model    domain.ProbabilityModel
	history  *history.Service
	engine   *trust.Engine
	recorder *audit.Recorder
	locks    syncutil.ShardedMutex
	cfg      domain.LoginConfig
	logger   *slog.Logger
	now      func() time.Time
	newToken func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the clock used for profile updates and challenges.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a login service. A nil model scores every attempt
// with the neutral model contribution.
func NewService(repo domain.Repository, c domain.Cache, b domain.EventBus, m domain.ProbabilityModel, cfg domain.LoginConfig, opts ...Option) *Service {
	defaults := domain.DefaultConfig().Login
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = defaults.ChallengeTTL
	}
	if cfg.MaxChallengeAttempts <= 0 {
		cfg.MaxChallengeAttempts = defaults.MaxChallengeAttempts
	}
	if cfg.ProfileCacheTTL <= 0 {
		cfg.ProfileCacheTTL = defaults.ProfileCacheTTL
	}
	if cfg.ProfileDecisionsLimit <= 0 {
		cfg.ProfileDecisionsLimit = defaults.ProfileDecisionsLimit
	}

	s := &Service{
		repo:     repo,
		cache:    c,
		bus:      b,
		model:    m,
		history:  history.NewService(repo, c, cfg.RecentTrustedWindow),
		engine:   trust.NewEngine(),
		recorder: audit.NewRecorder(),
		cfg:      cfg,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newToken: newToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attempt scores a login attempt and applies its outcome. An unknown user
// is scored against neutral values and nothing is learned.
func (s *Service) Attempt(ctx context.Context, tenantID, userID string, fv domain.FeatureVector) (*Outcome, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}
	start := time.Now()

	ctx, span := tracer.Start(ctx, "login.Attempt", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	p, err := s.loadProfile(ctx, tenantID, userID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	scores, err := s.history.RecentTrustedScores(ctx, tenantID, userID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	prob, available := s.predict(ctx, fv)

	result := s.engine.Score(trust.Input{
		Current:             fv,
		Profile:             p,
		RecentTrustedScores: scores,
		ModelProbability:    prob,
		ModelAvailable:      available,
	})
	span.SetAttributes(
		attribute.Int("trust.score", result.TrustScore),
		attribute.String("trust.action", string(result.Action)),
	)

	rec := s.recorder.Record(audit.Input{
		TenantID:     tenantID,
		UserID:       userID,
		TraceID:      traceID(ctx),
		ModelVersion: s.modelVersion(),
		Result:       result,
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
	if rec.Action == domain.ActionChallenged {
		out.Challenge, err = s.issueChallenge(ctx, tenantID, rec)
		if err != nil {
			return nil, s.fail(span, err)
		}
	}

	metrics.LoginDecisionsTotal.WithLabelValues(string(rec.Action)).Inc()
	metrics.TrustScore.Observe(float64(rec.TrustScore))

	s.logger.Info("login scored",
		"tenant_id", tenantID,
		"user_id", userID,
		"decision_id", rec.ID,
		"trust_score", rec.TrustScore,
		"threshold", rec.Threshold,
		"action", rec.Action,
		"known_user", p != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Profile returns the user's profile with the most recent decisions.
func (s *Service) Profile(ctx context.Context, tenantID, userID string) (*ProfileView, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}
	p, err := s.repo.GetProfile(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	recs, err := s.repo.ListDecisions(ctx, tenantID, userID, s.cfg.ProfileDecisionsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	if recs == nil {
		recs = []*domain.DecisionRecord{}
	}
	return &ProfileView{Profile: p, RecentDecisions: recs}, nil
}

// Enroll creates a profile from calibration captures.
func (s *Service) Enroll(ctx context.Context, tenantID, userID string, phases map[domain.Context]domain.FeatureVector) (*EnrollResult, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenantID and userID are required", ErrInvalidInput)
	}

	unlock := s.locks.Lock(lockKey(tenantID, userID))
	defer unlock()

	_, err := s.repo.GetProfile(ctx, tenantID, userID)
	switch {
	case err == nil:
		return nil, ErrProfileExists
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	p := profile.Enroll(tenantID, userID, phases, s.now())
	if len(p.Baselines) == 0 {
		return nil, ErrNoCalibration
	}
	if err := s.repo.SaveProfile(ctx, tenantID, p); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	quality := make(map[domain.Context]float64, len(phases))
	for c, fv := range phases {
		if _, ok := p.Baselines[c]; ok {
			quality[c] = profile.QualityScore(fv)
		}
	}

	s.logger.Info("profile enrolled",
		"tenant_id", tenantID,
		"user_id", userID,
		"contexts", len(p.Baselines),
		"calm_quality", quality[domain.ContextCalm],
	)
	return &EnrollResult{Profile: p, Quality: quality}, nil
}

// loadProfile reads through the cache. A missing profile is nil, nil.
// The cache is filled under the user's lock so a fill can never land
// after a newer profile written by apply.
func (s *Service) loadProfile(ctx context.Context, tenantID, userID string) (*domain.BehaviorProfile, error) {
	if s.cache != nil {
		p, err := s.cache.GetProfile(ctx, tenantID, userID)
		if err != nil {
			s.logger.Warn("profile cache read failed", "tenant_id", tenantID, "user_id", userID, "error", err)
		} else if p != nil {
			return p, nil
		}
	}

	unlock := s.locks.Lock(lockKey(tenantID, userID))
	defer unlock()

	p, err := s.repo.GetProfile(ctx, tenantID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, tenantID, p, s.cfg.ProfileCacheTTL); err != nil {
			s.logger.Warn("profile cache write failed", "tenant_id", tenantID, "user_id", userID, "error", err)
		}
	}
	return p, nil
}

// apply updates the stored profile for a decided action. The repository
// runs the read-modify-write in one transaction, so concurrent logins of
// the same user never overwrite each other on any instance. The local lock
// orders the cache write after the commit.
func (s *Service) apply(ctx context.Context, tenantID, userID string, action domain.Action, fv domain.FeatureVector, score int) (*domain.BehaviorProfile, error) {
	var update func(*domain.BehaviorProfile) *domain.BehaviorProfile
	switch action {
	case domain.ActionGranted:
		update = func(p *domain.BehaviorProfile) *domain.BehaviorProfile {
			return profile.ApplyTrustedLogin(p, fv, score, s.now())
		}
	case domain.ActionDenied:
		update = func(p *domain.BehaviorProfile) *domain.BehaviorProfile {
			return profile.ApplyFailedLogin(p, s.now())
		}
	}

	unlock := s.locks.Lock(lockKey(tenantID, userID))
	defer unlock()

	updated, err := s.repo.UpdateProfile(ctx, tenantID, userID, func(p *domain.BehaviorProfile) (*domain.BehaviorProfile, error) {
		if update == nil {
			return nil, nil
		}
		return update(p), nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	if update != nil && s.cache != nil {
		if err := s.cache.SetProfile(ctx, tenantID, updated, s.cfg.ProfileCacheTTL); err != nil {
			s.logger.Warn("profile cache write failed", "tenant_id", tenantID, "user_id", userID, "error", err)
		}
	}
	return updated, nil
}

func (s *Service) predict(ctx context.Context, fv domain.FeatureVector) (float64, bool) {
	if s.model == nil || !s.model.Available() {
		return 0, false
	}
	p, err := s.model.Predict(fv)
	if err != nil {
		s.logger.WarnContext(ctx, "model prediction failed, scoring without model",
			"model_version", s.model.Version(),
			"error", err,
		)
		return 0, false
	}
	return p, true
}

func (s *Service) modelVersion() string {
	if s.model == nil {
		return ""
	}
	return s.model.Version()
}

// persist stores the audit record and behavior log. Failures are logged
// and do not change the decision.
func (s *Service) persist(ctx context.Context, rec *domain.DecisionRecord, fv domain.FeatureVector) {
	if err := s.repo.SaveDecision(ctx, rec.TenantID, rec); err != nil {
		s.logger.Error("failed to save decision",
			"tenant_id", rec.TenantID,
			"decision_id", rec.ID,
			"error", err,
		)
	}
	if err := s.history.Record(ctx, rec.TenantID, audit.BehaviorLog(rec, fv)); err != nil {
		s.logger.Error("failed to save behavior log",
			"tenant_id", rec.TenantID,
			"decision_id", rec.ID,
			"error", err,
		)
	}
}

func (s *Service) publish(ctx context.Context, rec *domain.DecisionRecord) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.bus, rec.TenantID, domain.TopicLoginDecision, rec); err != nil {
		s.logger.Error("failed to publish decision", "decision_id", rec.ID, "error", err)
	}
	if audit.ShouldAlert(rec) {
		if err := bus.PublishJSON(ctx, s.bus, rec.TenantID, domain.TopicLoginAlert, rec); err != nil {
			s.logger.Error("failed to publish alert", "decision_id", rec.ID, "error", err)
		}
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func lockKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

type traceKey struct{}

// ContextWithTraceID attaches a request trace ID used when no span is
// recording.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
