package domain

import (
	"context"
	"time"
)

// ProbabilityModel estimates how likely a feature vector belongs to the
// legitimate user.
type ProbabilityModel interface {
	// Predict returns a probability in [0, 1]. An error means the model
	// cannot score and the caller falls back to a neutral value.
	Predict(fv FeatureVector) (float64, error)

	// Available reports whether a trained model is loaded.
	Available() bool

	// Version identifies the model for audit records.
	Version() string
}

// AggregationEntry records one completed federated aggregation round.
type AggregationEntry struct {
	Version      int       `json:"version"`
	AggregatedAt time.Time `json:"aggregatedAt"`
	Contributors int       `json:"contributors"`
}

// ModelRegistry is the shared federated model state.
type ModelRegistry struct {
	CurrentVersion        int                `json:"currentVersion"`
	PendingUpdates        int                `json:"pendingUpdates"`
	MinUpdatesToAggregate int                `json:"minUpdatesToAggregate"`
	TotalContributors     int                `json:"totalContributors"`
	History               []AggregationEntry `json:"history"`
	Weights               []float64          `json:"weights,omitempty"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// WeightUpdate is a locally trained weight vector submitted by a client.
type WeightUpdate struct {
	ContributorID string    `json:"contributorId,omitempty"`
	Version       int       `json:"version"`
	Weights       []float64 `json:"weights"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// ModelSource provides the current aggregated weights to model
// implementations.
type ModelSource interface {
	CurrentWeights(ctx context.Context) (version int, weights []float64, err error)
}
