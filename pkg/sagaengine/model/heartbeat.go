package model

import "time"

// HeartbeatStatus tracks the lifecycle of a scheduled self-check.
type HeartbeatStatus string

const (
	HeartbeatScheduled HeartbeatStatus = "scheduled"
	HeartbeatOK        HeartbeatStatus = "ok"
	HeartbeatMissed    HeartbeatStatus = "missed"
	HeartbeatRecovered HeartbeatStatus = "recovered"
	HeartbeatEscalated HeartbeatStatus = "escalated"
)

// Heartbeat is a scheduled self-check for an execution that yielded control
// (suspended or awaiting confirmation), so a stuck resume gets noticed
// without waiting for the slower reconciler sweep.
type Heartbeat struct {
	ExecutionID           string          `json:"executionId"`
	ExpectedNextStepIndex int             `json:"expectedNextStepIndex"`
	ScheduledAt           time.Time       `json:"scheduledAt"`
	CheckAt               time.Time       `json:"checkAt"`
	Status                HeartbeatStatus `json:"status"`
	Attempts              int             `json:"attempts"`
}

// Due reports whether the heartbeat's check time has passed.
func (h Heartbeat) Due(now time.Time) bool {
	return !now.Before(h.CheckAt)
}
