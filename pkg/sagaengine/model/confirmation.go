package model

import "time"

// RiskAssessment records why a step tripped the confirmation gate.
type RiskAssessment struct {
	Score  float64 `json:"score"`
	Level  string  `json:"level"`
	Reason string  `json:"reason"`
	Amount float64 `json:"amount,omitempty"`
}

// ConfirmationToken is a single-use grant resuming a suspended step.
// Persisted under confirmation:{token} with a TTL equal to ExpiresAt - now.
type ConfirmationToken struct {
	Token          string         `json:"token"`
	ExecutionID    string         `json:"executionId"`
	StepID         string         `json:"stepId"`
	Parameters     map[string]any `json:"parameters"`
	RiskAssessment RiskAssessment `json:"riskAssessment"`
	Actor          string         `json:"actor,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

// Expired reports whether the token's TTL has elapsed as of now.
func (t ConfirmationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
