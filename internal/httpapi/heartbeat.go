package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
)

// heartbeatCheckRequest is the body for POST /engine/heartbeat-check (spec
// §6): the deferred webhook the heartbeat service (C10) itself schedules
// via the queue driver, delivered back to this endpoint after the delay.
type heartbeatCheckRequest struct {
	ExecutionID string `json:"executionId"`
}

func (s *Server) handleHeartbeatCheck(w http.ResponseWriter, r *http.Request) {
	body, readErr := io.ReadAll(r.Body)
	if readErr != nil {
		writeError(w, &sagaerrors.ValidationError{Message: "could not read request body"})
		return
	}

	if err := s.authenticate(r, body); err != nil {
		writeError(w, err)
		return
	}

	var req heartbeatCheckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, &sagaerrors.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if req.ExecutionID == "" {
		writeError(w, &sagaerrors.ValidationError{Field: "executionId", Message: "required"})
		return
	}

	if s.heartbeats == nil {
		writeError(w, &sagaerrors.QueueUnavailableError{Cause: errors.New("heartbeat service not configured on this instance")})
		return
	}

	outcome, err := s.heartbeats.Check(r.Context(), req.ExecutionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "outcome": outcome})
}
