package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
)

func newRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func logEntry(i int, score int, trusted bool, at time.Time) *domain.BehaviorLog {
	return &domain.BehaviorLog{
		ID:         fmt.Sprintf("log-%d", i),
		UserID:     "alice",
		Features:   domain.FeatureVector{Signals: map[string]float64{domain.SignalTypingSpeed: 5}},
		TrustScore: score,
		WasTrusted: trusted,
		Timestamp:  at.Add(time.Duration(i) * time.Minute),
	}
}

func TestRecentTrustedScores(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	repo := newRepo(t)
	svc := NewService(repo, cache.NewLRUCache(100), 0)

	t.Run("EmptyHistory", func(t *testing.T) {
		scores, err := svc.RecentTrustedScores(ctx, tenantID, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(scores) != 0 {
			t.Errorf("expected no scores, got %v", scores)
		}
	})

	t.Run("OnlyTrustedNewestFirst", func(t *testing.T) {
		entries := []struct {
			score   int
			trusted bool
		}{
			{80, true}, {40, false}, {82, true}, {84, true},
			{86, true}, {30, false}, {88, true}, {90, true},
		}
		for i, e := range entries {
			if err := svc.Record(ctx, tenantID, logEntry(i, e.score, e.trusted, base)); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		scores, err := svc.RecentTrustedScores(ctx, tenantID, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []int{90, 88, 86, 84, 82}
		if fmt.Sprint(scores) != fmt.Sprint(want) {
			t.Errorf("expected %v, got %v", want, scores)
		}
	})

	t.Run("RecordInvalidatesMemo", func(t *testing.T) {
		_, _ = svc.RecentTrustedScores(ctx, tenantID, "alice")
		if err := svc.Record(ctx, tenantID, logEntry(20, 99, true, base)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		scores, _ := svc.RecentTrustedScores(ctx, tenantID, "alice")
		if len(scores) == 0 || scores[0] != 99 {
			t.Errorf("expected newest score 99 after record, got %v", scores)
		}
	})

	t.Run("CustomWindow", func(t *testing.T) {
		small := NewService(repo, nil, 2)
		scores, err := small.RecentTrustedScores(ctx, tenantID, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(scores) != 2 {
			t.Errorf("expected 2 scores, got %v", scores)
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		if _, err := svc.RecentTrustedScores(ctx, "", "alice"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := svc.RecentTrustedScores(ctx, tenantID, ""); err == nil {
			t.Error("expected error for empty userID")
		}
	})
}

type failingStore struct{ err error }

func (f failingStore) SaveBehaviorLog(context.Context, string, *domain.BehaviorLog) error {
	return f.err
}

func (f failingStore) RecentTrustedScores(context.Context, string, string, int) ([]int, error) {
	return nil, f.err
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	svc := NewService(failingStore{err: boom}, nil, 5)

	if _, err := svc.RecentTrustedScores(ctx, "t", "alice"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
	if err := svc.Record(ctx, "t", &domain.BehaviorLog{ID: "x", UserID: "alice"}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}
