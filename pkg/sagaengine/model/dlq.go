package model

import "time"

// DLQEntry records an execution the reconciler has identified as stalled:
// inactive longer than the configured threshold with no heartbeat recovery.
type DLQEntry struct {
	ExecutionID string    `json:"executionId"`
	DetectedAt  time.Time `json:"detectedAt"`
	Attempts    int       `json:"attempts"`
	LastState   Status    `json:"lastState"`
	Reason      string    `json:"reason,omitempty"`
	ParkedAt    *time.Time `json:"parkedAt,omitempty"`
}

// Parked reports whether this entry has exhausted recovery attempts and was
// moved to the parking lot queue (PLQ) rather than retried further.
func (e DLQEntry) Parked() bool {
	return e.ParkedAt != nil
}
