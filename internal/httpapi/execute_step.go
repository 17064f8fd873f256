package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/workflow"
)

// executeStepRequest is the body for POST /engine/execute-step (spec §6).
// startStepIndex names the step the caller believes is next; the workflow
// machine never trusts it to pick which step runs (that's always derived
// from persisted state), but uses it to recognize a stale redelivery of a
// message whose step already finished (S4), returning the same observable
// no-op instead of silently advancing to the real next step.
type executeStepRequest struct {
	ExecutionID    string `json:"executionId"`
	StartStepIndex *int   `json:"startStepIndex,omitempty"`
}

type executeStepResponse struct {
	Success           bool   `json:"success"`
	Status            string `json:"status"`
	StepStatus        string `json:"stepStatus"`
	NextStepTriggered bool   `json:"nextStepTriggered"`
	ConfirmationToken string `json:"confirmationToken,omitempty"`
}

func (s *Server) handleExecuteStep(w http.ResponseWriter, r *http.Request) {
	body, readErr := io.ReadAll(r.Body)
	if readErr != nil {
		writeError(w, &sagaerrors.ValidationError{Message: "could not read request body"})
		return
	}

	if err := s.authenticate(r, body); err != nil {
		writeError(w, err)
		return
	}

	var req executeStepRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, &sagaerrors.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if req.ExecutionID == "" {
		writeError(w, &sagaerrors.ValidationError{Field: "executionId", Message: "required"})
		return
	}
	if req.StartStepIndex != nil && *req.StartStepIndex < 0 {
		writeError(w, &sagaerrors.ValidationError{Field: "startStepIndex", Message: "must be >= 0"})
		return
	}

	ctx, span := s.spans.StartEntrySpan(r.Context(), "/engine/execute-step", req.ExecutionID)
	res, err := s.machine.ExecuteStep(ctx, req.ExecutionID, req.StartStepIndex)
	s.spans.EndSpanWithError(span, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeStepResponseFrom(res))
}

// executeStepResponseFrom maps a workflow outcome onto the status/stepStatus
// pair S1-S6 assert against. "completed"/"completed" covers both an
// ordinary step completion and the idempotent-skip path (S4): a redelivered
// message for an already-attempted step reports the same observable result
// as the call that actually ran it.
func executeStepResponseFrom(res workflow.StepResult) executeStepResponse {
	resp := executeStepResponse{Success: true, ConfirmationToken: res.ConfirmationToken}
	switch res.Outcome {
	case workflow.OutcomeStepCompleted:
		resp.Status, resp.StepStatus = "completed", "completed"
		resp.NextStepTriggered = res.NextStepTriggered
	case workflow.OutcomeIdempotentSkip:
		resp.Status, resp.StepStatus = "completed", "completed"
		resp.NextStepTriggered = res.NextStepTriggered
	case workflow.OutcomeYieldedConfirm:
		resp.Status, resp.StepStatus = "awaiting_confirmation", "awaiting_confirmation"
	case workflow.OutcomeSagaCompleted:
		resp.Status, resp.StepStatus = "saga_completed", "completed"
	case workflow.OutcomeRetryScheduled:
		resp.Status, resp.StepStatus = "retry_scheduled", "failed"
		resp.NextStepTriggered = true
	case workflow.OutcomeReplanScheduled:
		resp.Status, resp.StepStatus = "replan_scheduled", "failed"
	case workflow.OutcomeCompensating:
		resp.Status, resp.StepStatus = "compensating", "failed"
	case workflow.OutcomeSagaFailed:
		resp.Status, resp.StepStatus = "saga_failed", "failed"
	case workflow.OutcomeEscalated:
		resp.Status, resp.StepStatus = "escalated", "failed"
	default:
		resp.Status, resp.StepStatus = string(res.Outcome), string(res.Outcome)
	}
	return resp
}
