// Package audit turns trust results into immutable decision records and
// the behavior log entries that feed later consistency scoring.
package audit

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/domain"
)

// Recorder builds decision records.
type Recorder struct {
	newID func() string
	now   func() time.Time
}

// NewRecorder creates a recorder stamping uuid IDs and UTC wall-clock time.
func NewRecorder() *Recorder {
	return &Recorder{
		newID: func() string { return uuid.New().String() },
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Input is everything a decision record captures besides the result.
type Input struct {
	TenantID     string
	UserID       string
	TraceID      string
	ModelVersion string
	Result       domain.TrustResult
	Challenge    bool
}

// Record builds a new decision record. The reasons map is copied so the
// record never aliases the result.
func (r *Recorder) Record(in Input) *domain.DecisionRecord {
	res := in.Result
	return &domain.DecisionRecord{
		ID:              r.newID(),
		TenantID:        in.TenantID,
		UserID:          in.UserID,
		TrustScore:      res.TrustScore,
		RiskLevel:       res.RiskLevel,
		Action:          res.Action,
		Threshold:       res.Threshold,
		Confidence:      res.Confidence,
		Breakdown:       res.Breakdown,
		Reasons:         maps.Clone(res.Reasons),
		DeviceMatched:   res.DeviceMatched,
		LocationMatched: res.LocationMatched,
		TimeAnomaly:     res.TimeAnomaly,
		Challenge:       in.Challenge,
		TraceID:         in.TraceID,
		ModelVersion:    in.ModelVersion,
		Timestamp:       r.now(),
	}
}

// BehaviorLog derives the behavior log entry for a record. Only GRANTED
// decisions count as trusted.
func BehaviorLog(rec *domain.DecisionRecord, fv domain.FeatureVector) *domain.BehaviorLog {
	return &domain.BehaviorLog{
		ID:         rec.ID,
		TenantID:   rec.TenantID,
		UserID:     rec.UserID,
		Features:   fv.Clone(),
		TrustScore: rec.TrustScore,
		WasTrusted: WasTrusted(rec),
		Timestamp:  rec.Timestamp,
	}
}

// WasTrusted reports whether the decision granted access.
func WasTrusted(rec *domain.DecisionRecord) bool {
	return rec.Action == domain.ActionGranted
}

// ShouldAlert returns true if the decision should be published as an alert.
func ShouldAlert(rec *domain.DecisionRecord) bool {
	return rec.Action == domain.ActionDenied
}

// Reasons returns the human-readable reasons ordered by reason key.
func Reasons(rec *domain.DecisionRecord) []string {
	keys := slices.Sorted(maps.Keys(rec.Reasons))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+": "+rec.Reasons[k])
	}
	return out
}
