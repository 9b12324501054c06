package federated

import (
	"context"
	"slices"
	"sync"

	"github.com/opensource-finance/heron/internal/domain"
)

// Store persists the registry and the pending pool as one unit.
// domain.Repository satisfies it.
type Store interface {
	LoadFederatedState(ctx context.Context) (*domain.FederatedState, error)

	// UpdateFederatedState runs fn on the current state (nil if none) with
	// exclusive access and stores what it returns. A nil result or an
	// error leaves the stored state unchanged.
	UpdateFederatedState(ctx context.Context, fn func(*domain.FederatedState) (*domain.FederatedState, error)) error
}

// MemoryStore keeps federated state in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	state *domain.FederatedState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadFederatedState returns a copy of the stored state, or nil if none.
func (m *MemoryStore) LoadFederatedState(ctx context.Context) (*domain.FederatedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, nil
	}
	return cloneState(m.state), nil
}

// UpdateFederatedState applies fn to a copy of the stored state while
// holding the write lock.
func (m *MemoryStore) UpdateFederatedState(ctx context.Context, fn func(*domain.FederatedState) (*domain.FederatedState, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current *domain.FederatedState
	if m.state != nil {
		current = cloneState(m.state)
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	m.state = cloneState(next)
	return nil
}

func cloneState(s *domain.FederatedState) *domain.FederatedState {
	out := &domain.FederatedState{Registry: s.Registry}
	out.Registry.History = slices.Clone(s.Registry.History)
	out.Registry.Weights = slices.Clone(s.Registry.Weights)
	out.Pending = make([]domain.WeightUpdate, len(s.Pending))
	for i, u := range s.Pending {
		u.Weights = slices.Clone(u.Weights)
		out.Pending[i] = u
	}
	return out
}
