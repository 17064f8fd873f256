package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
)

// outboxRelayRequest is the body for POST /engine/outbox-relay (spec §6),
// dispatched by the database trigger the transactional outbox (C5) relies
// on as its primary delivery path.
type outboxRelayRequest struct {
	OutboxID    string `json:"outboxId"`
	ExecutionID string `json:"executionId"`
	EventType   string `json:"eventType"`
}

func (s *Server) handleOutboxRelay(w http.ResponseWriter, r *http.Request) {
	body, readErr := io.ReadAll(r.Body)
	if readErr != nil {
		writeError(w, &sagaerrors.ValidationError{Message: "could not read request body"})
		return
	}

	if err := s.authenticate(r, body); err != nil {
		writeError(w, err)
		return
	}

	var req outboxRelayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, &sagaerrors.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if req.OutboxID == "" {
		writeError(w, &sagaerrors.ValidationError{Field: "outboxId", Message: "required"})
		return
	}

	if s.relay == nil {
		writeError(w, &sagaerrors.QueueUnavailableError{Cause: errors.New("outbox relay not configured on this instance")})
		return
	}

	if err := s.relay.Ack(r.Context(), req.OutboxID); err != nil {
		writeError(w, &sagaerrors.QueueUnavailableError{Cause: err})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
