package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Context names a calibration condition a baseline was captured under.
type Context string

const (
	// ContextCalm is the relaxed capture phase and the primary reference.
	ContextCalm Context = "calm"

	// ContextCognitive is captured while the user solves a small task.
	ContextCognitive Context = "cognitive"

	// ContextControlled is captured under artificial network slowness.
	ContextControlled Context = "controlled"
)

// Baseline holds per-signal reference values for one context.
// The spread of signal x is stored under "x_std"; for "x_mean" it is
// stored under "x_std" as well.
type Baseline struct {
	Signals      map[string]float64 `json:"signals"`
	DeviceHash   string             `json:"deviceHash,omitempty"`
	LocationHash string             `json:"locationHash,omitempty"`
}

// Empty reports whether the baseline carries no signals.
func (b Baseline) Empty() bool {
	return len(b.Signals) == 0
}

// Std returns the stored spread for a signal, if any.
func (b Baseline) Std(signal string) (float64, bool) {
	key := StdKey(signal)
	v, ok := b.Signals[key]
	return v, ok
}

// Clone returns a deep copy.
func (b Baseline) Clone() Baseline {
	out := b
	if b.Signals != nil {
		out.Signals = maps.Clone(b.Signals)
	}
	return out
}

// StdKey maps a signal name to the key holding its spread.
func StdKey(signal string) string {
	if base, ok := strings.CutSuffix(signal, "_mean"); ok {
		return base + "_std"
	}
	return signal + "_std"
}

// BehaviorProfile is the evolving per-user behavioral state.
type BehaviorProfile struct {
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId"`

	Baselines map[Context]Baseline `json:"baselines"`

	// IdentityConfidence stays within [0.1, 1.0].
	IdentityConfidence float64 `json:"identityConfidence"`

	// DynamicThreshold stays within [40, 85] and is always recomputed
	// from confidence and consecutive deviations.
	DynamicThreshold float64 `json:"dynamicThreshold"`

	LoginCount            int `json:"loginCount"`
	TrustedLoginCount     int `json:"trustedLoginCount"`
	ConsecutiveTrusted    int `json:"consecutiveTrusted"`
	ConsecutiveDeviations int `json:"consecutiveDeviations"`

	// TypicalHours holds at most 10 distinct hours, oldest first.
	TypicalHours []int `json:"typicalHours"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Baseline returns the baseline for a context, if present and non-empty.
func (p *BehaviorProfile) Baseline(c Context) (Baseline, bool) {
	if p == nil {
		return Baseline{}, false
	}
	b, ok := p.Baselines[c]
	if !ok || b.Empty() {
		return Baseline{}, false
	}
	return b, true
}

// Clone returns a deep copy of the profile.
func (p *BehaviorProfile) Clone() *BehaviorProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.Baselines != nil {
		out.Baselines = make(map[Context]Baseline, len(p.Baselines))
		for k, b := range p.Baselines {
			out.Baselines[k] = b.Clone()
		}
	}
	out.TypicalHours = slices.Clone(p.TypicalHours)
	return &out
}

// BehaviorLog is one scored login attempt.
type BehaviorLog struct {
	ID         string        `json:"id"`
	TenantID   string        `json:"tenantId"`
	UserID     string        `json:"userId"`
	Features   FeatureVector `json:"features"`
	TrustScore int           `json:"trustScore"`
	WasTrusted bool          `json:"wasTrusted"`
	Timestamp  time.Time     `json:"timestamp"`
}
