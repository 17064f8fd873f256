package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
)

// confirmRequest is the body for POST /engine/confirm (spec §6).
type confirmRequest struct {
	Token    string `json:"token"`
	Metadata struct {
		ActorID string `json:"actorId"`
	} `json:"metadata"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	body, readErr := io.ReadAll(r.Body)
	if readErr != nil {
		writeError(w, &sagaerrors.ValidationError{Message: "could not read request body"})
		return
	}

	if err := s.authenticate(r, body); err != nil {
		writeError(w, err)
		return
	}

	var req confirmRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, &sagaerrors.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if req.Token == "" {
		writeError(w, &sagaerrors.ValidationError{Field: "token", Message: "required"})
		return
	}

	ctx, span := s.spans.StartEntrySpan(r.Context(), "/engine/confirm", "")

	tok, err := s.confirms.Validate(ctx, req.Token, req.Metadata.ActorID)
	if err != nil {
		s.spans.EndSpanWithError(span, err)
		writeError(w, err)
		return
	}

	// Consume immediately on a valid token, before attempting resume: a
	// token that validated once must never validate again, regardless of
	// what happens downstream (spec invariant 4, single-use).
	if err := s.confirms.Consume(ctx, tok); err != nil {
		s.spans.EndSpanWithError(span, err)
		writeError(w, err)
		return
	}

	res, err := s.machine.Resume(ctx, tok)
	s.spans.EndSpanWithError(span, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeStepResponseFrom(res))
}
