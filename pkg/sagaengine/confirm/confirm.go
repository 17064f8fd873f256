// Package confirm implements the confirmation service (C8): token
// issuance for human-in-the-loop gates, single-use validation, and the
// composite risk score that decides whether a step needs one.
package confirm

import (
	"context"
	"time"

	"github.com/google/uuid"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/model"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
)

// DefaultTTL is the confirmation token lifetime (spec §3, §6 confirmation.ttlSec).
const DefaultTTL = 15 * time.Minute

// Service issues and validates confirmation tokens.
type Service struct {
	store store.Store
	ttl   time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithTTL(ttl time.Duration) Option { return func(s *Service) { s.ttl = ttl } }

// New builds a confirmation Service over st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a new token for (executionID, stepID), storing it under
// both the token key and the per-execution lookup key.
func (s *Service) Create(ctx context.Context, executionID, stepID string, parameters map[string]any, risk model.RiskAssessment, actor string) (*model.ConfirmationToken, error) {
	now := time.Now()
	tok := &model.ConfirmationToken{
		Token:          uuid.NewString(),
		ExecutionID:    executionID,
		StepID:         stepID,
		Parameters:     parameters,
		RiskAssessment: risk,
		Actor:          actor,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}

	if err := store.PutJSON(ctx, s.store, store.KeyConfirmationByToken(tok.Token), tok, s.ttl); err != nil {
		return nil, err
	}
	if err := store.PutJSON(ctx, s.store, store.KeyConfirmationByExec(executionID), tok, s.ttl); err != nil {
		return nil, err
	}
	return tok, nil
}

// Validate looks up token and checks it hasn't expired and, when actor is
// non-empty, that it matches the token's original actor.
func (s *Service) Validate(ctx context.Context, token, actor string) (*model.ConfirmationToken, error) {
	var tok model.ConfirmationToken
	if err := store.GetJSON(ctx, s.store, store.KeyConfirmationByToken(token), &tok); err != nil {
		if store.IsNotFound(err) {
			return nil, &sagaerrors.NotFoundError{Kind: "token", ID: token}
		}
		return nil, err
	}
	if tok.Expired(time.Now()) {
		return nil, &sagaerrors.ExpiredError{Kind: "confirmation", ID: token}
	}
	if actor != "" && tok.Actor != "" && tok.Actor != actor {
		return nil, &sagaerrors.AuthError{Reason: "actor mismatch"}
	}
	return &tok, nil
}

// Consume atomically removes both the token and exec-indexed keys,
// enforcing single use: a second Validate+Consume for the same token fails
// with NotFound once this has run.
func (s *Service) Consume(ctx context.Context, tok *model.ConfirmationToken) error {
	if err := s.store.Del(ctx, store.KeyConfirmationByToken(tok.Token)); err != nil {
		return err
	}
	return s.store.Del(ctx, store.KeyConfirmationByExec(tok.ExecutionID))
}

// RiskInput carries the signals the risk classifier scores.
type RiskInput struct {
	ToolName      string
	HighRiskTools map[string]bool
	IsFinancialOp bool
	Confidence    float64
	StepCount     int
	IsBulkOrBatch bool
	Amount        float64
}

const (
	blockThreshold = 0.8

	bonusFinancial     = 0.3
	bonusLowConfidence = 0.2
	bonusManySteps     = 0.1
	bonusBulkOrBatch   = 0.2
)

// AssessRisk computes the composite score spec §4.8 describes and
// classifies it as none, confirm (score > 0), or block (score > 0.8). A
// tool named in in.HighRiskTools always scores at least the confirm
// threshold even with no other contributing signal: it adds the same weight
// as a financial operation on top of the other signals.
func AssessRisk(in RiskInput) model.RiskAssessment {
	var score float64
	var reasons []string

	if in.IsFinancialOp {
		score += bonusFinancial
		reasons = append(reasons, "financial_operation")
	}
	if in.Confidence < 0.5 {
		score += bonusLowConfidence
		reasons = append(reasons, "low_confidence")
	}
	if in.StepCount > 5 {
		score += bonusManySteps
		reasons = append(reasons, "many_steps")
	}
	if in.IsBulkOrBatch {
		score += bonusBulkOrBatch
		reasons = append(reasons, "bulk_operation")
	}
	if in.HighRiskTools[in.ToolName] {
		score += bonusFinancial
		reasons = append(reasons, "high_risk_tool")
	}

	level := "none"
	switch {
	case score > blockThreshold:
		level = "block"
	case score > 0:
		level = "confirm"
	}

	reason := ""
	if len(reasons) > 0 {
		reason = reasons[0]
		for _, r := range reasons[1:] {
			reason += "," + r
		}
	}

	return model.RiskAssessment{Score: score, Level: level, Reason: reason, Amount: in.Amount}
}

// RequiresConfirmation reports whether a risk assessment should gate the
// step behind a confirmation token (any nonzero score blocks or confirms).
func RequiresConfirmation(r model.RiskAssessment) bool {
	return r.Level == "confirm" || r.Level == "block"
}

// Blocked reports whether the risk score exceeds the hard block threshold.
func Blocked(r model.RiskAssessment) bool {
	return r.Level == "block"
}
