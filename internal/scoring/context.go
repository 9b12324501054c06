package scoring

import (
	"math"

	"github.com/opensource-finance/heron/internal/domain"
)

// Context score components.
const (
	DevicePoints      = 8.0
	LocationPoints    = 5.0
	HourPoints        = 4.0
	NeutralHourPoints = 2.0
	ContextMaxPoints  = DevicePoints + LocationPoints + HourPoints
	hourTolerance     = 2
	defaultLoginHour  = 12
	hoursInDay        = 24
)

// ContextResult is the outcome of context scoring.
type ContextResult struct {
	Score           float64
	DeviceMatched   bool
	LocationMatched bool

	// TimeAnomaly is set when learned hours exist and none is near the
	// current hour.
	TimeAnomaly bool
}

// Context scores device, location and time-of-day familiarity (0-17).
// Fingerprints are compared against the calm baseline; both sides must be
// non-empty to match.
func Context(current domain.FeatureVector, p *domain.BehaviorProfile) ContextResult {
	var res ContextResult

	if calm, ok := p.Baseline(domain.ContextCalm); ok {
		if calm.DeviceHash != "" && current.DeviceHash == calm.DeviceHash {
			res.DeviceMatched = true
			res.Score += DevicePoints
		}
		if calm.LocationHash != "" && current.LocationHash == calm.LocationHash {
			res.LocationMatched = true
			res.Score += LocationPoints
		}
	}

	var hours []int
	if p != nil {
		hours = p.TypicalHours
	}
	if len(hours) == 0 {
		res.Score += NeutralHourPoints
		return res
	}

	hour := CurrentHour(current)
	for _, h := range hours {
		if HourDistance(hour, h) <= hourTolerance {
			res.Score += HourPoints
			return res
		}
	}
	res.TimeAnomaly = true
	return res
}

// CurrentHour reads the time_of_day signal, defaulting to noon.
func CurrentHour(fv domain.FeatureVector) int {
	h := int(fv.Value(domain.SignalTimeOfDay, defaultLoginHour))
	return ((h % hoursInDay) + hoursInDay) % hoursInDay
}

// HourDistance is the circular distance between two hours of the day.
func HourDistance(a, b int) int {
	d := int(math.Abs(float64(a - b)))
	if d > hoursInDay/2 {
		d = hoursInDay - d
	}
	return d
}
