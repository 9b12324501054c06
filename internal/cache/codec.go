package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// byteStore is the raw key/value surface every cache implements.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

// ProfileKey is the cache key of a user's behavior profile.
func ProfileKey(userID string) string {
	return "profile:" + userID
}

// ChallengeKey is the cache key of a pending challenge.
func ChallengeKey(token string) string {
	return "challenge:" + token
}

// GetJSON decodes a cached JSON value. Returns nil, nil on a miss.
func GetJSON[T any](ctx context.Context, s byteStore, tenantID, key string) (*T, error) {
	data, err := s.Get(ctx, tenantID, key)
	if err != nil || data == nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return &v, nil
}

// TakeJSON atomically consumes key and decodes it into T.
// Returns nil, nil if the key was absent or already taken.
func TakeJSON[T any](ctx context.Context, s domain.Cache, tenantID, key string) (*T, error) {
	data, err := s.Take(ctx, tenantID, key)
	if err != nil || data == nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return &v, nil
}

// SetJSON stores v encoded as JSON.
func SetJSON(ctx context.Context, s byteStore, tenantID, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, tenantID, key, data, ttl)
}

func getProfile(ctx context.Context, s byteStore, tenantID, userID string) (*domain.BehaviorProfile, error) {
	return GetJSON[domain.BehaviorProfile](ctx, s, tenantID, ProfileKey(userID))
}

func setProfile(ctx context.Context, s byteStore, tenantID string, p *domain.BehaviorProfile, ttl time.Duration) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("profile with userID is required")
	}
	return SetJSON(ctx, s, tenantID, ProfileKey(p.UserID), p, ttl)
}
