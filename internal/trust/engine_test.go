package trust

import (
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
)

func enrolledProfile() *domain.BehaviorProfile {
	return &domain.BehaviorProfile{
		UserID: "user-001",
		Baselines: map[domain.Context]domain.Baseline{
			domain.ContextCalm: {
				Signals: map[string]float64{
					domain.SignalTypingSpeed: 5,
					"typing_speed_std":       1,
				},
				DeviceHash:   "dev-1",
				LocationHash: "loc-1",
			},
		},
		IdentityConfidence: 0.3,
		DynamicThreshold:   55.5,
	}
}

func familiarLogin() domain.FeatureVector {
	return domain.FeatureVector{
		Signals:      map[string]float64{domain.SignalTypingSpeed: 5},
		DeviceHash:   "dev-1",
		LocationHash: "loc-1",
	}
}

func TestScoreWithoutProfile(t *testing.T) {
	engine := NewEngine()

	t.Run("neutral components with model", func(t *testing.T) {
		res := engine.Score(Input{
			Current:          domain.FeatureVector{Signals: map[string]float64{domain.SignalTypingSpeed: 4}},
			ModelProbability: 0.9,
			ModelAvailable:   true,
		})

		b := res.Breakdown
		if b.MLScore != 67.5 || b.CalmDeviation != 5.0 || b.CognitiveDeviation != 4.0 ||
			b.ContextScore != 2 || b.ConsistencyScore != 6.0 {
			t.Errorf("unexpected breakdown: %+v", b)
		}
		if res.TrustScore != 85 {
			t.Errorf("expected trust score 85, got %d", res.TrustScore)
		}
		if res.Threshold != 60 {
			t.Errorf("expected threshold 60, got %v", res.Threshold)
		}
		if res.Action != domain.ActionGranted || res.RiskLevel != domain.RiskLow {
			t.Errorf("expected LOW/GRANTED, got %s/%s", res.RiskLevel, res.Action)
		}
		if res.Confidence != 0.3 {
			t.Errorf("expected fallback confidence 0.3, got %v", res.Confidence)
		}
	})

	t.Run("non finite probability counts as no model", func(t *testing.T) {
		for _, p := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			res := engine.Score(Input{ModelProbability: p, ModelAvailable: true})
			if res.Breakdown.MLScore != 37 || res.TrustScore != 54 {
				t.Errorf("probability %v: expected ml 37 and score 54, got %v and %d", p, res.Breakdown.MLScore, res.TrustScore)
			}
			if res.Action != domain.ActionDenied {
				t.Errorf("probability %v: expected DENIED, got %s", p, res.Action)
			}
		}
	})

	t.Run("no model uses neutral ml score", func(t *testing.T) {
		res := engine.Score(Input{ModelProbability: 0.99})
		if res.Breakdown.MLScore != 37 {
			t.Errorf("expected ml score 37, got %v", res.Breakdown.MLScore)
		}
		// 37 + 5 + 4 + 2 + 6 = 54, six below threshold
		if res.TrustScore != 54 || res.Action != domain.ActionDenied {
			t.Errorf("expected 54/DENIED, got %d/%s", res.TrustScore, res.Action)
		}
		if _, ok := res.Reasons[ReasonDevice]; !ok {
			t.Error("expected device reason without profile")
		}
		if _, ok := res.Reasons[ReasonLocation]; !ok {
			t.Error("expected location reason without profile")
		}
	})
}

func TestScoreWithProfile(t *testing.T) {
	engine := NewEngine()

	t.Run("familiar login is granted", func(t *testing.T) {
		res := engine.Score(Input{
			Current:             familiarLogin(),
			Profile:             enrolledProfile(),
			RecentTrustedScores: []int{80, 82},
			ModelProbability:    0.8,
			ModelAvailable:      true,
		})
		// 60 + 7.31 + 4 + 15 + 9.6 = 95.91
		if res.TrustScore != 96 {
			t.Errorf("expected 96, got %d (%+v)", res.TrustScore, res.Breakdown)
		}
		if res.Threshold != 55.5 {
			t.Errorf("expected threshold 55.5, got %v", res.Threshold)
		}
		if res.Action != domain.ActionGranted {
			t.Errorf("expected GRANTED, got %s", res.Action)
		}
		if len(res.Reasons) != 0 {
			t.Errorf("expected no reasons, got %v", res.Reasons)
		}
		if !res.DeviceMatched || !res.LocationMatched || res.TimeAnomaly {
			t.Errorf("unexpected context flags: %+v", res)
		}
	})

	t.Run("narrow margin is challenged", func(t *testing.T) {
		res := engine.Score(Input{
			Current:             familiarLogin(),
			Profile:             enrolledProfile(),
			RecentTrustedScores: []int{80, 82},
			ModelProbability:    0.5,
			ModelAvailable:      true,
		})
		if res.TrustScore != 73 {
			t.Errorf("expected 73, got %d", res.TrustScore)
		}
		if res.Action != domain.ActionChallenged || res.RiskLevel != domain.RiskMedium {
			t.Errorf("expected MEDIUM/CHALLENGED, got %s/%s", res.RiskLevel, res.Action)
		}
	})

	t.Run("large deviation is explained", func(t *testing.T) {
		cur := familiarLogin()
		cur.Signals[domain.SignalTypingSpeed] = 20
		res := engine.Score(Input{Current: cur, Profile: enrolledProfile()})

		reason := res.Reasons[domain.SignalTypingSpeed]
		if reason != "3.0x deviation from your baseline" {
			t.Errorf("unexpected typing speed reason %q", reason)
		}
		if _, ok := res.Reasons[ReasonDevice]; ok {
			t.Error("device matched, no device reason expected")
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		cur := familiarLogin()
		cur.DeviceHash = "dev-2"
		res := engine.Score(Input{Current: cur, Profile: enrolledProfile()})
		if res.Reasons[ReasonDevice] != "Unrecognized device" {
			t.Errorf("expected device reason, got %v", res.Reasons)
		}
		if res.DeviceMatched {
			t.Error("expected deviceMatched=false")
		}
	})

	t.Run("score is clamped to 100", func(t *testing.T) {
		p := enrolledProfile()
		p.Baselines[domain.ContextCognitive] = p.Baselines[domain.ContextCalm]
		p.TypicalHours = []int{12}
		res := engine.Score(Input{
			Current:             familiarLogin(),
			Profile:             p,
			RecentTrustedScores: []int{90, 90, 90},
			ModelProbability:    1.0,
			ModelAvailable:      true,
		})
		if res.TrustScore != 100 {
			t.Errorf("expected clamp to 100, got %d", res.TrustScore)
		}
	})
}

func TestScoreIsPure(t *testing.T) {
	engine := NewEngine()
	p := enrolledProfile()
	before := p.Clone()
	cur := familiarLogin()
	in := Input{Current: cur, Profile: p, RecentTrustedScores: []int{70, 75, 80}, ModelProbability: 0.6, ModelAvailable: true}

	first := engine.Score(in)
	second := engine.Score(in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical results, got %+v and %+v", first, second)
	}
	if !reflect.DeepEqual(p, before) {
		t.Error("Score mutated the profile")
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := engine.Score(in); !reflect.DeepEqual(got, first) {
				t.Errorf("concurrent score differs: %+v", got)
			}
		}()
	}
	wg.Wait()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score     int
		threshold float64
		risk      domain.RiskLevel
		action    domain.Action
	}{
		{81, 60, domain.RiskLow, domain.ActionGranted},
		{80, 60, domain.RiskMedium, domain.ActionChallenged},
		{60, 60, domain.RiskMedium, domain.ActionChallenged},
		{59, 60, domain.RiskHigh, domain.ActionDenied},
		{0, 40, domain.RiskHigh, domain.ActionDenied},
	}
	for _, tt := range tests {
		risk, action := Classify(tt.score, tt.threshold)
		if risk != tt.risk || action != tt.action {
			t.Errorf("Classify(%d, %v) = %s/%s, want %s/%s", tt.score, tt.threshold, risk, action, tt.risk, tt.action)
		}
	}
}

func TestDynamicThreshold(t *testing.T) {
	tests := []struct {
		name    string
		profile *domain.BehaviorProfile
		want    float64
	}{
		{"no profile", nil, 60},
		{"new user", &domain.BehaviorProfile{IdentityConfidence: 0.3}, 55.5},
		{"deviation streak capped", &domain.BehaviorProfile{IdentityConfidence: 0.3, ConsecutiveDeviations: 6}, 80.5},
		{"fully trusted", &domain.BehaviorProfile{IdentityConfidence: 1.0}, 45},
		{"lower clamp", &domain.BehaviorProfile{IdentityConfidence: 3.0}, 40},
		{"upper clamp", &domain.BehaviorProfile{IdentityConfidence: -1.0, ConsecutiveDeviations: 9}, 85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DynamicThreshold(tt.profile)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	t.Run("always within bounds", func(t *testing.T) {
		for c := 0.1; c <= 1.0; c += 0.05 {
			for d := 0; d < 20; d++ {
				got := DynamicThreshold(&domain.BehaviorProfile{IdentityConfidence: c, ConsecutiveDeviations: d})
				if got < MinThreshold || got > MaxThreshold {
					t.Fatalf("threshold %v out of bounds for c=%v d=%d", got, c, d)
				}
			}
		}
	})
}

func TestReasonFormat(t *testing.T) {
	p := enrolledProfile()
	p.Baselines[domain.ContextCalm].Signals[domain.SignalMouseVelocity] = 400
	cur := familiarLogin()
	cur.Signals[domain.SignalMouseVelocity] = 600 // std 80 -> z=2.5

	res := NewEngine().Score(Input{Current: cur, Profile: p})
	got := res.Reasons[domain.SignalMouseVelocity]
	if !strings.HasPrefix(got, "2.5x") {
		t.Errorf("expected 2.5x deviation, got %q", got)
	}
}
