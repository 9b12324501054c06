package domain

import "maps"

// Signal names captured by the behavioral collector.
const (
	SignalTypingSpeed           = "typing_speed"
	SignalKeyHoldTime           = "key_hold_time"
	SignalIKIMean               = "iki_mean"
	SignalIKIStd                = "iki_std"
	SignalHoldMean              = "hold_mean"
	SignalHoldStd               = "hold_std"
	SignalMouseVelocity         = "mouse_velocity"
	SignalMouseVelMean          = "mvel_mean"
	SignalMouseVelStd           = "mvel_std"
	SignalClickInterval         = "click_interval"
	SignalDecisionTime          = "decision_time"
	SignalScrollDepth           = "scroll_depth"
	SignalNetworkLatency        = "network_latency"
	SignalLatencyMean           = "lat_mean"
	SignalLatencyJitter         = "lat_jitter"
	SignalBehaviorUnderSlowness = "behavior_under_slowness"
	SignalSlowKeyRatio          = "slow_key_ratio"
	SignalTimeOfDay             = "time_of_day"

	// Capture completeness counters, used by enrollment quality checks.
	SignalKeyCount        = "key_count"
	SignalMouseCount      = "mouse_count"
	SignalSessionDuration = "session_duration_ms"
)

// FeatureVector is one captured set of behavioral signals plus the opaque
// device and location fingerprints observed with it.
type FeatureVector struct {
	Signals      map[string]float64 `json:"signals"`
	DeviceHash   string             `json:"deviceHash,omitempty"`
	LocationHash string             `json:"locationHash,omitempty"`
}

// Get returns the value of a signal and whether it was captured.
func (f FeatureVector) Get(name string) (float64, bool) {
	v, ok := f.Signals[name]
	return v, ok
}

// Value returns the signal value or def when absent.
func (f FeatureVector) Value(name string, def float64) float64 {
	if v, ok := f.Signals[name]; ok {
		return v
	}
	return def
}

// Clone returns a deep copy.
func (f FeatureVector) Clone() FeatureVector {
	out := f
	if f.Signals != nil {
		out.Signals = maps.Clone(f.Signals)
	}
	return out
}
