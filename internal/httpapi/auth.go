package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/wire"
)

// authenticate accepts either an x-internal-system-key header matching the
// configured key, or a valid HMAC-signed envelope (hmac-signature /
// hmac-timestamp), per spec §6. Exactly one path needs to succeed.
func (s *Server) authenticate(r *http.Request, body []byte) error {
	if key := r.Header.Get(wire.HeaderInternalSysKey); key != "" {
		configured := s.cfg.InternalSystemKey()
		if configured != "" && subtle.ConstantTimeCompare([]byte(key), []byte(configured)) == 1 {
			return nil
		}
		return &sagaerrors.AuthError{Reason: "invalid internal system key"}
	}

	signature := r.Header.Get(wire.HeaderHMACSignature)
	timestamp := r.Header.Get(wire.HeaderHMACTimestamp)
	if signature == "" || timestamp == "" {
		return &sagaerrors.AuthError{Reason: "missing credentials"}
	}

	current := []byte(s.cfg.QueueSigningKeyCurrent())
	next := []byte(s.cfg.QueueSigningKeyNext())
	if err := wire.Verify(current, next, body, timestamp, signature, time.Now()); err != nil {
		return &sagaerrors.AuthError{Reason: "signature verification failed: " + err.Error()}
	}
	return nil
}
