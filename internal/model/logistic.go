package model

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/opensource-finance/heron/internal/domain"
)

// Logistic is a logistic regression over the model input vector whose
// weights come from the federated registry. The weight layout is one
// coefficient per input followed by the bias.
type Logistic struct {
	mu      sync.RWMutex
	source  domain.ModelSource
	version int
	weights []float64
}

// NewLogistic creates a logistic model. Call Reload to load weights.
func NewLogistic(source domain.ModelSource) *Logistic {
	return &Logistic{source: source}
}

// Reload fetches the current aggregated weights. Weights of the wrong
// length leave the model unavailable.
func (l *Logistic) Reload(ctx context.Context) error {
	version, weights, err := l.source.CurrentWeights(ctx)
	if err != nil {
		return fmt.Errorf("failed to load model weights: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.version = version
	if len(weights) == InputSize+1 {
		l.weights = slices.Clone(weights)
	} else {
		l.weights = nil
	}
	return nil
}

// Predict returns sigmoid(w.x + b).
func (l *Logistic) Predict(fv domain.FeatureVector) (float64, error) {
	l.mu.RLock()
	w := l.weights
	l.mu.RUnlock()
	if w == nil {
		return NeutralProbability, ErrNoModel
	}

	x := Vectorize(fv)
	z := w[len(w)-1]
	for i, v := range x {
		z += w[i] * v
	}
	p := 1.0 / (1.0 + math.Exp(-z))
	if math.IsNaN(p) {
		return NeutralProbability, fmt.Errorf("model produced NaN")
	}
	return p, nil
}

// Available reports whether weights are loaded.
func (l *Logistic) Available() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.weights != nil
}

// Version returns the federated version the weights came from.
func (l *Logistic) Version() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.weights == nil {
		return "none"
	}
	return fmt.Sprintf("federated-v%d", l.version)
}
