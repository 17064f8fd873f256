// Package wire implements the signed envelope shared by every queue
// message and event-bus payload: HMAC-SHA256 over "timestamp.body" with a
// bounded replay window, plus the trace/correlation headers every hop
// propagates.
package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ReplayWindow is the maximum age (§6) an envelope's hmac-timestamp may
// have before verification rejects it.
const ReplayWindow = 5 * time.Minute

// Header names carried in every envelope.
const (
	HeaderTraceID         = "x-trace-id"
	HeaderCorrelationID   = "x-correlation-id"
	HeaderInternalSysKey  = "x-internal-system-key"
	HeaderHMACSignature   = "hmac-signature"
	HeaderHMACTimestamp   = "hmac-timestamp"
)

// Envelope is the wire shape for every queue publish and event-bus payload.
type Envelope struct {
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Sign computes the hex-encoded HMAC-SHA256 signature over "timestamp.body"
// using key, and returns the timestamp (RFC3339Nano) and signature to be
// placed in HeaderHMACTimestamp / HeaderHMACSignature.
func Sign(key []byte, body []byte, at time.Time) (timestamp, signature string) {
	timestamp = at.UTC().Format(time.RFC3339Nano)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return timestamp, hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body and timestamp using key, rejecting
// anything older than ReplayWindow relative to now. Accepts either of two
// keys (current/next) to support rolling rotation without a dead window.
func Verify(currentKey, nextKey []byte, body []byte, timestamp, signature string, now time.Time) error {
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return fmt.Errorf("invalid hmac-timestamp: %w", err)
	}
	age := now.Sub(ts)
	if age < 0 {
		age = -age
	}
	if age > ReplayWindow {
		return fmt.Errorf("envelope timestamp outside replay window: age=%s", age)
	}

	if matches(currentKey, body, timestamp, signature) {
		return nil
	}
	if len(nextKey) > 0 && matches(nextKey, body, timestamp, signature) {
		return nil
	}
	return fmt.Errorf("hmac signature mismatch")
}

func matches(key []byte, body []byte, timestamp, signature string) bool {
	if len(key) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
