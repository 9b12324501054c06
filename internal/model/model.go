// Package model provides ProbabilityModel implementations used by the login
// service to estimate how likely a capture belongs to the legitimate user.
package model

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/heron/internal/domain"
)

// Model kinds accepted by New.
const (
	KindNeutral  = "neutral"
	KindLogistic = "logistic"
	KindCEL      = "cel"
)

// NeutralProbability is reported when no model is loaded.
const NeutralProbability = 0.5

// ErrNoModel is returned by Predict when no trained model is loaded.
var ErrNoModel = errors.New("no model loaded")

// feature is one position of the model input vector.
type feature struct {
	name string
	def  float64
}

// inputLayout is the model input order together with the values used for
// signals that were not captured.
var inputLayout = []feature{
	{domain.SignalTypingSpeed, 4},
	{domain.SignalKeyHoldTime, 120},
	{domain.SignalMouseVelocity, 350},
	{domain.SignalClickInterval, 600},
	{domain.SignalDecisionTime, 800},
	{domain.SignalScrollDepth, 0},
	{domain.SignalNetworkLatency, 100},
	{domain.SignalBehaviorUnderSlowness, 0.9},
	{domain.SignalTimeOfDay, 12},
}

// InputSize is the length of the model input vector.
var InputSize = len(inputLayout)

// Vectorize converts a feature vector to the model input order.
func Vectorize(fv domain.FeatureVector) []float64 {
	x := make([]float64, len(inputLayout))
	for i, f := range inputLayout {
		x[i] = fv.Value(f.name, f.def)
	}
	return x
}

// InputNames returns the signal names in model input order.
func InputNames() []string {
	names := make([]string, len(inputLayout))
	for i, f := range inputLayout {
		names[i] = f.name
	}
	return names
}

// New creates the model selected by cfg. source provides federated weights
// for the logistic model.
func New(cfg domain.ModelConfig, source domain.ModelSource) (domain.ProbabilityModel, error) {
	switch cfg.Kind {
	case "", KindNeutral:
		return Neutral{}, nil
	case KindLogistic:
		if source == nil {
			return nil, fmt.Errorf("logistic model requires a weight source")
		}
		return NewLogistic(source), nil
	case KindCEL:
		return NewCEL(cfg.Expression)
	default:
		return nil, fmt.Errorf("unsupported model kind: %s", cfg.Kind)
	}
}

// Neutral is the model used when nothing is trained.
type Neutral struct{}

// Predict always reports the neutral probability with ErrNoModel.
func (Neutral) Predict(domain.FeatureVector) (float64, error) {
	return NeutralProbability, ErrNoModel
}

// Available is always false.
func (Neutral) Available() bool { return false }

// Version is "none".
func (Neutral) Version() string { return "none" }
