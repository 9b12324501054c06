// Package federated aggregates locally trained model weights into a shared
// model using federated averaging.
package federated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
)

// Defaults for a fresh registry.
const (
	InitialVersion           = 1
	DefaultMinUpdates        = 3
	DefaultMaxHistoryEntries = 5
)

// Submission results.
const (
	MessageAccepted        = "accepted"
	MessageAggregated      = "aggregated"
	MessageVersionMismatch = "version mismatch"
	MessageNoWeights       = "no weights provided"
	MessageShapeMismatch   = "aggregation failed: weight shape mismatch"
)

var (
	// ErrShapeMismatch is returned when weight vectors differ in length.
	ErrShapeMismatch = errors.New("weight shape mismatch")

	// ErrNoUpdates is returned when averaging an empty pool.
	ErrNoUpdates = errors.New("no updates to aggregate")
)

// SubmitResult is the outcome of a weight submission.
type SubmitResult struct {
	Accepted       bool   `json:"accepted"`
	Message        string `json:"message"`
	CurrentVersion int    `json:"currentVersion"`
	Aggregated     bool   `json:"aggregated"`
	PendingUpdates int    `json:"pendingUpdates"`
}

// Aggregator accepts weight updates and averages them once enough have
// been pooled. Every mutation is one read-modify-write inside
// Store.UpdateFederatedState, so aggregators on separate instances may
// share a store.
type Aggregator struct {
	store      Store
	minUpdates int
	maxHistory int
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMinUpdates sets the pool size that triggers aggregation.
func WithMinUpdates(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.minUpdates = n
		}
	}
}

// WithMaxHistory bounds the number of retained aggregation entries.
func WithMaxHistory(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxHistory = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:      store,
		minUpdates: DefaultMinUpdates,
		maxHistory: DefaultMaxHistoryEntries,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Submit validates an update against the current version, pools it, and
// aggregates when the pool is full. A failed aggregation leaves the stored
// state exactly as it was before the call.
func (a *Aggregator) Submit(ctx context.Context, update domain.WeightUpdate) (*SubmitResult, error) {
	var res *SubmitResult
	var outcome string
	var contributors, total int
	var aggErr error

	err := a.store.UpdateFederatedState(ctx, func(stored *domain.FederatedState) (*domain.FederatedState, error) {
		state := a.fresh(stored)
		reg := &state.Registry

		reject := func(msg, label string) {
			outcome = label
			res = &SubmitResult{
				Message:        msg,
				CurrentVersion: reg.CurrentVersion,
				PendingUpdates: len(state.Pending),
			}
		}

		if len(update.Weights) == 0 {
			reject(MessageNoWeights, "rejected")
			return nil, nil
		}
		if update.Version != reg.CurrentVersion {
			reject(MessageVersionMismatch, "version_mismatch")
			return nil, nil
		}

		now := a.now()
		if update.ReceivedAt.IsZero() {
			update.ReceivedAt = now
		}
		state.Pending = append(state.Pending, update)
		reg.PendingUpdates = len(state.Pending)

		if len(state.Pending) < a.minUpdates {
			reg.UpdatedAt = now
			outcome = "accepted"
			res = &SubmitResult{
				Accepted:       true,
				Message:        MessageAccepted,
				CurrentVersion: reg.CurrentVersion,
				PendingUpdates: reg.PendingUpdates,
			}
			return state, nil
		}

		weights, err := FedAvg(state.Pending)
		if err != nil {
			// Nothing is saved; report against the state before this call.
			aggErr = err
			outcome = "aggregation_failed"
			res = &SubmitResult{
				Message:        MessageShapeMismatch,
				CurrentVersion: reg.CurrentVersion,
				PendingUpdates: len(state.Pending) - 1,
			}
			return nil, nil
		}

		contributors = len(state.Pending)
		reg.Weights = weights
		reg.History = append(reg.History, domain.AggregationEntry{
			Version:      reg.CurrentVersion,
			AggregatedAt: now,
			Contributors: contributors,
		})
		if len(reg.History) > a.maxHistory {
			reg.History = reg.History[len(reg.History)-a.maxHistory:]
		}
		reg.CurrentVersion++
		reg.TotalContributors += contributors
		reg.PendingUpdates = 0
		reg.UpdatedAt = now
		state.Pending = nil

		total = reg.TotalContributors
		outcome = "aggregated"
		res = &SubmitResult{
			Accepted:       true,
			Message:        MessageAggregated,
			CurrentVersion: reg.CurrentVersion,
			Aggregated:     true,
		}
		return state, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update federated state: %w", err)
	}

	switch outcome {
	case "version_mismatch":
		a.logger.Info("federated update rejected",
			"contributor_id", update.ContributorID,
			"version", update.Version,
			"current_version", res.CurrentVersion,
		)
	case "aggregation_failed":
		a.logger.Error("federated aggregation failed",
			"error", aggErr,
			"pending_updates", res.PendingUpdates+1,
			"current_version", res.CurrentVersion,
		)
	case "aggregated":
		a.logger.Info("federated model aggregated",
			"version", res.CurrentVersion,
			"contributors", contributors,
			"total_contributors", total,
		)
		metrics.ModelVersion.Set(float64(res.CurrentVersion))
	}
	metrics.FederatedSubmissionsTotal.WithLabelValues(outcome).Inc()
	return res, nil
}

// Registry returns a snapshot of the registry.
func (a *Aggregator) Registry(ctx context.Context) (*domain.ModelRegistry, error) {
	stored, err := a.store.LoadFederatedState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load federated state: %w", err)
	}
	reg := a.fresh(stored).Registry
	return &reg, nil
}

// CurrentWeights returns the current version and its aggregated weights.
func (a *Aggregator) CurrentWeights(ctx context.Context) (int, []float64, error) {
	reg, err := a.Registry(ctx)
	if err != nil {
		return 0, nil, err
	}
	return reg.CurrentVersion, reg.Weights, nil
}

// Reset discards the pending pool without touching the model.
// It returns the number of discarded updates.
func (a *Aggregator) Reset(ctx context.Context) (int, error) {
	var dropped int
	err := a.store.UpdateFederatedState(ctx, func(stored *domain.FederatedState) (*domain.FederatedState, error) {
		state := a.fresh(stored)
		dropped = len(state.Pending)
		state.Pending = nil
		state.Registry.PendingUpdates = 0
		state.Registry.UpdatedAt = a.now()
		return state, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update federated state: %w", err)
	}
	a.logger.Warn("federated pending pool reset", "dropped_updates", dropped)
	return dropped, nil
}

// fresh returns stored, or a new registry when nothing is stored yet.
func (a *Aggregator) fresh(stored *domain.FederatedState) *domain.FederatedState {
	state := stored
	if state == nil {
		state = &domain.FederatedState{
			Registry: domain.ModelRegistry{
				CurrentVersion: InitialVersion,
				History:        []domain.AggregationEntry{},
			},
		}
	}
	state.Registry.MinUpdatesToAggregate = a.minUpdates
	return state
}

// FedAvg returns the element-wise mean of the pooled weight vectors.
func FedAvg(updates []domain.WeightUpdate) ([]float64, error) {
	if len(updates) == 0 {
		return nil, ErrNoUpdates
	}
	n := len(updates[0].Weights)
	sum := make([]float64, n)
	for i, u := range updates {
		if len(u.Weights) != n {
			return nil, fmt.Errorf("update %d has %d weights, expected %d: %w", i, len(u.Weights), n, ErrShapeMismatch)
		}
		for j, w := range u.Weights {
			sum[j] += w
		}
	}
	for j := range sum {
		sum[j] /= float64(len(updates))
	}
	return sum, nil
}
