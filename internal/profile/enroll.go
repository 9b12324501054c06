package profile

import (
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/trust"
)

// Enrollment defaults.
const (
	InitialConfidence = 0.3
	InitialThreshold  = trust.DefaultThreshold
)

// Enroll builds a new profile from the calibration captures. Phases that
// were not captured are left without a baseline.
func Enroll(tenantID, userID string, phases map[domain.Context]domain.FeatureVector, at time.Time) *domain.BehaviorProfile {
	p := &domain.BehaviorProfile{
		TenantID:           tenantID,
		UserID:             userID,
		Baselines:          make(map[domain.Context]domain.Baseline, len(phases)),
		IdentityConfidence: InitialConfidence,
		DynamicThreshold:   InitialThreshold,
		TypicalHours:       []int{},
		CreatedAt:          at,
		UpdatedAt:          at,
	}
	for c, fv := range phases {
		if len(fv.Signals) == 0 {
			continue
		}
		snap := fv.Clone()
		p.Baselines[c] = domain.Baseline{
			Signals:      snap.Signals,
			DeviceHash:   fv.DeviceHash,
			LocationHash: fv.LocationHash,
		}
	}
	return p
}

// QualityScore rates how complete a capture is, from 0 to 1.
func QualityScore(fv domain.FeatureVector) float64 {
	if len(fv.Signals) == 0 && fv.DeviceHash == "" {
		return 0
	}
	checks := []bool{
		fv.Value(domain.SignalTypingSpeed, 0) > 0,
		fv.Value(domain.SignalKeyHoldTime, 0) > 0,
		fv.Value(domain.SignalIKIMean, 0) > 0,
		fv.Value(domain.SignalIKIStd, 0) > 0,
		fv.Value(domain.SignalHoldMean, 0) > 0,
		fv.Value(domain.SignalKeyCount, 0) >= 5,
		fv.Value(domain.SignalSessionDuration, 0) >= 2000,
		fv.Value(domain.SignalMouseCount, 0) >= 3,
		fv.DeviceHash != "",
	}
	var passed int
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(len(checks))
}
