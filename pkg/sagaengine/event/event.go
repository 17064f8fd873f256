// Package event implements the signed pub/sub bus (C4): publish wraps a
// payload in a short-lived signed envelope; subscribers may opt into
// causally-ordered delivery via a per-channel Lamport sequence with a
// gap-tolerant reorder buffer.
package event

import "time"

// Event is one published message, after envelope verification and
// (optionally) reordering.
type Event struct {
	Channel       string    `json:"channel"`
	Name          string    `json:"event"`
	Payload       any       `json:"data"`
	Seq           uint64    `json:"seq,omitempty"`
	Lamport       uint64    `json:"lamport,omitempty"`
	Timestamp     time.Time `json:"ts"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Handler processes one delivered event. A non-nil return does not stop
// delivery to other subscribers; the bus logs it as a warning.
type Handler func(evt Event) error
