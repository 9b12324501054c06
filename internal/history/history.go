// Package history records scored login attempts and serves the recent
// trusted scores used for the consistency component.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/scoring"
)

// DefaultCacheTTL bounds how long a memoized score window is served.
const DefaultCacheTTL = time.Minute

// Store is the persistence the service needs.
type Store interface {
	SaveBehaviorLog(ctx context.Context, tenantID string, log *domain.BehaviorLog) error
	RecentTrustedScores(ctx context.Context, tenantID string, userID string, limit int) ([]int, error)
}

// Service reads and writes the behavior log. The score window is memoized
// in cache and invalidated on every Record for the same user.
type Service struct {
	store  Store
	cache  domain.Cache
	window int
	ttl    time.Duration
}

// NewService creates a history service. c may be nil to disable memoization.
// A non-positive window falls back to the consistency window.
func NewService(store Store, c domain.Cache, window int) *Service {
	if window <= 0 {
		window = scoring.ConsistencyWindow
	}
	return &Service{store: store, cache: c, window: window, ttl: DefaultCacheTTL}
}

// RecentTrustedScores returns at most window trust scores of the user's
// trusted logins, newest first.
func (s *Service) RecentTrustedScores(ctx context.Context, tenantID, userID string) ([]int, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("tenantID and userID are required")
	}

	key := scoresKey(userID)
	if s.cache != nil {
		cached, err := cache.GetJSON[[]int](ctx, s.cache, tenantID, key)
		if err != nil {
			slog.Warn("score window cache read failed", "tenant_id", tenantID, "user_id", userID, "error", err)
		} else if cached != nil {
			return *cached, nil
		}
	}

	scores, err := s.store.RecentTrustedScores(ctx, tenantID, userID, s.window)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent trusted scores: %w", err)
	}
	if scores == nil {
		scores = []int{}
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, tenantID, key, scores, s.ttl); err != nil {
			slog.Warn("score window cache write failed", "tenant_id", tenantID, "user_id", userID, "error", err)
		}
	}
	return scores, nil
}

// Record persists a behavior log entry and drops the memoized window.
func (s *Service) Record(ctx context.Context, tenantID string, entry *domain.BehaviorLog) error {
	if err := s.store.SaveBehaviorLog(ctx, tenantID, entry); err != nil {
		return fmt.Errorf("failed to save behavior log: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, tenantID, scoresKey(entry.UserID)); err != nil {
			slog.Warn("score window cache invalidation failed", "tenant_id", tenantID, "user_id", entry.UserID, "error", err)
		}
	}
	return nil
}

func scoresKey(userID string) string {
	return "recent-trusted:" + userID
}
