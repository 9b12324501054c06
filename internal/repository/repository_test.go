package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	return openTestRepo(t, tempDBPath(t))
}

func tempDBPath(t *testing.T) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "heron-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})
	return tmpPath
}

func openTestRepo(t *testing.T, path string) *SQLRepository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: path,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetProfile", func(t *testing.T) {
		p := &domain.BehaviorProfile{
			UserID: "user-001",
			Baselines: map[domain.Context]domain.Baseline{
				domain.ContextCalm: {
					Signals:      map[string]float64{domain.SignalTypingSpeed: 5.2, "typing_speed_std": 0.8},
					DeviceHash:   "dev-1",
					LocationHash: "loc-1",
				},
			},
			IdentityConfidence: 0.335,
			DynamicThreshold:   54.975,
			LoginCount:         1,
			TrustedLoginCount:  1,
			ConsecutiveTrusted: 1,
			TypicalHours:       []int{9, 14},
			CreatedAt:          time.Now().UTC(),
		}

		if err := repo.SaveProfile(ctx, tenantID, p); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}

		got, err := repo.GetProfile(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if got.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, got.TenantID)
		}
		if !reflect.DeepEqual(got.Baselines, p.Baselines) {
			t.Errorf("baselines mismatch: %+v", got.Baselines)
		}
		if got.IdentityConfidence != 0.335 || got.TrustedLoginCount != 1 {
			t.Errorf("unexpected profile %+v", got)
		}
		if !reflect.DeepEqual(got.TypicalHours, []int{9, 14}) {
			t.Errorf("expected hours [9 14], got %v", got.TypicalHours)
		}

		p.ConsecutiveDeviations = 2
		p.IdentityConfidence = 0.135
		if err := repo.SaveProfile(ctx, tenantID, p); err != nil {
			t.Fatalf("SaveProfile update failed: %v", err)
		}
		got, _ = repo.GetProfile(ctx, tenantID, "user-001")
		if got.ConsecutiveDeviations != 2 || got.IdentityConfidence != 0.135 {
			t.Errorf("update not applied: %+v", got)
		}
	})

	t.Run("ProfileNotFound", func(t *testing.T) {
		_, err := repo.GetProfile(ctx, tenantID, "nobody")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetProfile(ctx, "tenant-002", "user-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		err := repo.SaveProfile(ctx, "", &domain.BehaviorProfile{UserID: "u"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RecentTrustedScores", func(t *testing.T) {
		base := time.Now().UTC().Add(-time.Hour)
		scores := []int{70, 40, 75, 80, 85, 90, 95}
		for i, s := range scores {
			err := repo.SaveBehaviorLog(ctx, tenantID, &domain.BehaviorLog{
				ID:         fmt.Sprintf("log-%d", i),
				UserID:     "user-001",
				Features:   domain.FeatureVector{Signals: map[string]float64{domain.SignalTypingSpeed: 5}},
				TrustScore: s,
				WasTrusted: s >= 70,
				Timestamp:  base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("SaveBehaviorLog failed: %v", err)
			}
		}

		got, err := repo.RecentTrustedScores(ctx, tenantID, "user-001", 5)
		if err != nil {
			t.Fatalf("RecentTrustedScores failed: %v", err)
		}
		want := []int{95, 90, 85, 80, 75}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}

		other, _ := repo.RecentTrustedScores(ctx, "tenant-002", "user-001", 5)
		if len(other) != 0 {
			t.Errorf("expected no scores for other tenant, got %v", other)
		}
	})

	t.Run("Decisions", func(t *testing.T) {
		base := time.Now().UTC()
		for i, action := range []domain.Action{domain.ActionDenied, domain.ActionChallenged, domain.ActionGranted} {
			rec := &domain.DecisionRecord{
				ID:         fmt.Sprintf("dec-%d", i),
				UserID:     "user-001",
				TrustScore: 50 + i*15,
				RiskLevel:  domain.RiskHigh,
				Action:     action,
				Threshold:  60,
				Confidence: 0.3,
				Breakdown:  domain.Breakdown{MLScore: 37, ThresholdUsed: 60},
				Reasons:    map[string]string{"device_hash": "Unrecognized device"},
				TraceID:    "trace-1",
				Timestamp:  base.Add(time.Duration(i) * time.Second),
			}
			if err := repo.SaveDecision(ctx, tenantID, rec); err != nil {
				t.Fatalf("SaveDecision failed: %v", err)
			}
		}

		got, err := repo.GetDecision(ctx, tenantID, "dec-0")
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}
		if got.Action != domain.ActionDenied || got.Breakdown.MLScore != 37 {
			t.Errorf("unexpected record %+v", got)
		}
		if got.Reasons["device_hash"] != "Unrecognized device" {
			t.Errorf("reasons not round-tripped: %v", got.Reasons)
		}

		list, err := repo.ListDecisions(ctx, tenantID, "user-001", 2)
		if err != nil {
			t.Fatalf("ListDecisions failed: %v", err)
		}
		if len(list) != 2 || list[0].ID != "dec-2" || list[1].ID != "dec-1" {
			t.Errorf("expected newest two decisions, got %d", len(list))
		}

		if err := repo.SaveDecision(ctx, tenantID, &domain.DecisionRecord{ID: "dec-0", UserID: "user-001", Timestamp: base}); err == nil {
			t.Error("expected duplicate decision insert to fail")
		}

		if _, err := repo.GetDecision(ctx, "tenant-002", "dec-0"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("FederatedState", func(t *testing.T) {
		state, err := repo.LoadFederatedState(ctx)
		if err != nil {
			t.Fatalf("LoadFederatedState failed: %v", err)
		}
		if state != nil {
			t.Fatalf("expected no state yet, got %+v", state)
		}

		saved := &domain.FederatedState{
			Registry: domain.ModelRegistry{
				CurrentVersion:        2,
				MinUpdatesToAggregate: 3,
				TotalContributors:     3,
				Weights:               []float64{0.1, 0.2},
				History: []domain.AggregationEntry{
					{Version: 1, AggregatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Contributors: 3},
				},
			},
			Pending: []domain.WeightUpdate{{Version: 2, Weights: []float64{1, 2}, ContributorID: "c1"}},
		}
		err = repo.UpdateFederatedState(ctx, func(current *domain.FederatedState) (*domain.FederatedState, error) {
			if current != nil {
				t.Errorf("expected nil state on first update, got %+v", current)
			}
			return saved, nil
		})
		if err != nil {
			t.Fatalf("UpdateFederatedState failed: %v", err)
		}
		got, err := repo.LoadFederatedState(ctx)
		if err != nil {
			t.Fatalf("LoadFederatedState failed: %v", err)
		}
		if got.Registry.CurrentVersion != 2 || len(got.Pending) != 1 || got.Pending[0].ContributorID != "c1" {
			t.Errorf("unexpected state %+v", got)
		}
		if !reflect.DeepEqual(got.Registry.History, saved.Registry.History) {
			t.Errorf("history mismatch: %+v", got.Registry.History)
		}

		err = repo.UpdateFederatedState(ctx, func(current *domain.FederatedState) (*domain.FederatedState, error) {
			current.Pending = nil
			return current, nil
		})
		if err != nil {
			t.Fatalf("UpdateFederatedState failed: %v", err)
		}
		got, _ = repo.LoadFederatedState(ctx)
		if len(got.Pending) != 0 || got.Registry.CurrentVersion != 2 {
			t.Errorf("expected empty pool at version 2, got %+v", got)
		}

		t.Run("NilResultKeepsState", func(t *testing.T) {
			err := repo.UpdateFederatedState(ctx, func(*domain.FederatedState) (*domain.FederatedState, error) {
				return nil, nil
			})
			if err != nil {
				t.Fatalf("UpdateFederatedState failed: %v", err)
			}
			if got, _ := repo.LoadFederatedState(ctx); got == nil || got.Registry.CurrentVersion != 2 {
				t.Errorf("expected state to be kept, got %+v", got)
			}
		})

		t.Run("ErrorRollsBack", func(t *testing.T) {
			boom := errors.New("boom")
			err := repo.UpdateFederatedState(ctx, func(current *domain.FederatedState) (*domain.FederatedState, error) {
				current.Registry.CurrentVersion = 99
				return current, boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected fn error, got %v", err)
			}
			if got, _ := repo.LoadFederatedState(ctx); got.Registry.CurrentVersion != 2 {
				t.Errorf("expected version 2 after rollback, got %d", got.Registry.CurrentVersion)
			}
		})
	})
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"
	path := tempDBPath(t)
	repos := []*SQLRepository{openTestRepo(t, path), openTestRepo(t, path)}

	p := &domain.BehaviorProfile{UserID: "user-001", Baselines: map[domain.Context]domain.Baseline{}, TypicalHours: []int{}}
	if err := repos[0].SaveProfile(ctx, tenantID, p); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	t.Run("ConcurrentHandlesLoseNoUpdates", func(t *testing.T) {
		const perWorker = 10
		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(1)
			go func(repo *SQLRepository) {
				defer wg.Done()
				for range perWorker {
					_, err := repo.UpdateProfile(ctx, tenantID, "user-001", func(cur *domain.BehaviorProfile) (*domain.BehaviorProfile, error) {
						cur.LoginCount++
						return cur, nil
					})
					if err != nil {
						t.Errorf("UpdateProfile failed: %v", err)
						return
					}
				}
			}(repos[i%2])
		}
		wg.Wait()

		got, err := repos[1].GetProfile(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if got.LoginCount != 4*perWorker {
			t.Errorf("expected %d logins, got %d", 4*perWorker, got.LoginCount)
		}
	})

	t.Run("NilResultSavesNothing", func(t *testing.T) {
		got, err := repos[0].UpdateProfile(ctx, tenantID, "user-001", func(*domain.BehaviorProfile) (*domain.BehaviorProfile, error) {
			return nil, nil
		})
		if err != nil {
			t.Fatalf("UpdateProfile failed: %v", err)
		}
		if got == nil || got.UserID != "user-001" {
			t.Errorf("expected the stored profile, got %+v", got)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repos[0].UpdateProfile(ctx, tenantID, "nobody", func(cur *domain.BehaviorProfile) (*domain.BehaviorProfile, error) {
			return cur, nil
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateFederatedStateAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := tempDBPath(t)
	repos := []*SQLRepository{openTestRepo(t, path), openTestRepo(t, path)}

	const workers, perWorker = 4, 10
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(repo *SQLRepository, id int) {
			defer wg.Done()
			for j := range perWorker {
				err := repo.UpdateFederatedState(ctx, func(cur *domain.FederatedState) (*domain.FederatedState, error) {
					if cur == nil {
						cur = &domain.FederatedState{Registry: domain.ModelRegistry{CurrentVersion: 1}}
					}
					cur.Pending = append(cur.Pending, domain.WeightUpdate{
						Version:       1,
						Weights:       []float64{1},
						ContributorID: fmt.Sprintf("c%d-%d", id, j),
					})
					return cur, nil
				})
				if err != nil {
					t.Errorf("UpdateFederatedState failed: %v", err)
					return
				}
			}
		}(repos[i%2], i)
	}
	wg.Wait()

	got, err := repos[0].LoadFederatedState(ctx)
	if err != nil {
		t.Fatalf("LoadFederatedState failed: %v", err)
	}
	if got == nil || len(got.Pending) != workers*perWorker {
		t.Errorf("expected %d pooled updates, got %+v", workers*perWorker, got)
	}
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	p := &domain.BehaviorProfile{UserID: "u1", Baselines: map[domain.Context]domain.Baseline{}, TypicalHours: []int{}}
	if err := repo.SaveProfile(ctx, "t1", p); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}
	if _, err := repo.GetProfile(ctx, "t1", "u1"); err != nil {
		t.Errorf("GetProfile failed: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver   string
		input    string
		expected string
	}{
		{"sqlite", "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres", "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"postgres", "INSERT INTO t VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", "INSERT INTO t VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)"},
	}

	for _, tt := range tests {
		r := &SQLRepository{driver: tt.driver}
		result := r.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	got := postgresDSN(domain.RepositoryConfig{PostgresUser: "heron", PostgresPassword: "secret"})
	want := "host=localhost port=5432 user=heron password=secret dbname=heron sslmode=disable"
	if got != want {
		t.Errorf("postgresDSN() = %q, want %q", got, want)
	}
}

var _ domain.Repository = (*SQLRepository)(nil)
