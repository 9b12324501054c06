package domain

import "time"

// RiskLevel classifies a trust result.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Action is the authorization outcome of a login attempt.
type Action string

const (
	ActionGranted    Action = "GRANTED"
	ActionChallenged Action = "CHALLENGED"
	ActionDenied     Action = "DENIED"
)

// Breakdown holds the per-component contributions to a trust score,
// rounded to one decimal.
type Breakdown struct {
	MLScore            float64 `json:"mlScore"`
	CalmDeviation      float64 `json:"calmDeviation"`
	CognitiveDeviation float64 `json:"cognitiveDeviation"`
	ContextScore       float64 `json:"contextScore"`
	ConsistencyScore   float64 `json:"consistencyScore"`
	ThresholdUsed      float64 `json:"thresholdUsed"`
}

// TrustResult is the output of a single scoring call.
type TrustResult struct {
	TrustScore      int               `json:"trustScore"`
	RiskLevel       RiskLevel         `json:"riskLevel"`
	Action          Action            `json:"action"`
	Threshold       float64           `json:"threshold"`
	Confidence      float64           `json:"confidence"`
	Breakdown       Breakdown         `json:"breakdown"`
	Reasons         map[string]string `json:"reasons"`
	DeviceMatched   bool              `json:"deviceMatched"`
	LocationMatched bool              `json:"locationMatched"`
	TimeAnomaly     bool              `json:"timeAnomaly"`
}

// DecisionRecord is the immutable audit entry for a decision.
type DecisionRecord struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenantId"`
	UserID          string            `json:"userId"`
	TrustScore      int               `json:"trustScore"`
	RiskLevel       RiskLevel         `json:"riskLevel"`
	Action          Action            `json:"action"`
	Threshold       float64           `json:"threshold"`
	Confidence      float64           `json:"confidence"`
	Breakdown       Breakdown         `json:"breakdown"`
	Reasons         map[string]string `json:"reasons,omitempty"`
	DeviceMatched   bool              `json:"deviceMatched"`
	LocationMatched bool              `json:"locationMatched"`
	TimeAnomaly     bool              `json:"timeAnomaly"`
	Challenge       bool              `json:"challenge,omitempty"`
	TraceID         string            `json:"traceId,omitempty"`
	ModelVersion    string            `json:"modelVersion,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// LoginResponse is the API response for a scored login attempt.
type LoginResponse struct {
	DecisionID     string            `json:"decisionId"`
	UserID         string            `json:"userId"`
	Action         Action            `json:"action"`
	TrustScore     int               `json:"trustScore"`
	RiskLevel      RiskLevel         `json:"riskLevel"`
	Threshold      float64           `json:"threshold"`
	Breakdown      Breakdown         `json:"breakdown"`
	Reasons        map[string]string `json:"reasons,omitempty"`
	ChallengeToken string            `json:"challengeToken,omitempty"`
	Sentence       string            `json:"challengeSentence,omitempty"`
}

// ToResponse converts a record to an API response.
func (r *DecisionRecord) ToResponse() *LoginResponse {
	return &LoginResponse{
		DecisionID: r.ID,
		UserID:     r.UserID,
		Action:     r.Action,
		TrustScore: r.TrustScore,
		RiskLevel:  r.RiskLevel,
		Threshold:  r.Threshold,
		Breakdown:  r.Breakdown,
		Reasons:    r.Reasons,
	}
}
