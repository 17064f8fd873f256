package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
)

// errorBody is the user-visible failure shape spec §7 mandates:
// {success:false, status, error:{code,message}}.
type errorBody struct {
	Success bool      `json:"success"`
	Status  int       `json:"status"`
	Error   errorCode `json:"error"`
}

type errorCode struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError classifies err against the taxonomy in sagaerrors/types.go and
// writes the matching status code and error body. IllegalTransitionError is
// a programming error per §7's propagation policy: it is surfaced as 500
// rather than masked, so it shows up loudly instead of being silently
// retried.
func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, errorBody{
		Success: false,
		Status:  status,
		Error:   errorCode{Code: code, Message: err.Error()},
	})
}

func classify(err error) (status int, code string) {
	var valErr *sagaerrors.ValidationError
	if errors.As(err, &valErr) {
		return http.StatusBadRequest, "VALIDATION_ERROR"
	}
	var authErr *sagaerrors.AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized, "AUTH_ERROR"
	}
	var notFound *sagaerrors.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, "NOT_FOUND"
	}
	var conflict *sagaerrors.ConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, "CONFLICT"
	}
	var expired *sagaerrors.ExpiredError
	if errors.As(err, &expired) {
		return http.StatusGone, "EXPIRED"
	}
	var storeErr *sagaerrors.StoreUnavailableError
	if errors.As(err, &storeErr) {
		return http.StatusInternalServerError, "STORE_UNAVAILABLE"
	}
	var queueErr *sagaerrors.QueueUnavailableError
	if errors.As(err, &queueErr) {
		return http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE"
	}
	var busErr *sagaerrors.BusUnavailableError
	if errors.As(err, &busErr) {
		return http.StatusServiceUnavailable, "BUS_UNAVAILABLE"
	}
	var illegal *sagaerrors.IllegalTransitionError
	if errors.As(err, &illegal) {
		return http.StatusInternalServerError, "ILLEGAL_TRANSITION"
	}
	var stalled *sagaerrors.StalledSagaError
	if errors.As(err, &stalled) {
		return http.StatusConflict, "STALLED_SAGA"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
