// Package model defines the saga engine's persisted data model: Execution,
// PlanStep, ConfirmationToken, Lock, Heartbeat, DLQ entry, and
// VersionFingerprint, plus the status transition table every mutation must
// flow through.
//
// Design influences: the Saga pattern (microservices.io), AWS Step
// Functions, Temporal workflows — the same lineage the teacher's saga
// package drew on, generalized here from an in-process async executor to a
// single-step, externally-driven state machine.
package model

// Status represents the state of a saga execution.
type Status string

const (
	StatusReceived            Status = "RECEIVED"
	StatusParsing             Status = "PARSING"
	StatusPlanning            Status = "PLANNING"
	StatusPlanned             Status = "PLANNED"
	StatusExecuting           Status = "EXECUTING"
	StatusAwaitingConfirm     Status = "AWAITING_CONFIRMATION"
	StatusSuspended           Status = "SUSPENDED"
	StatusCompensating        Status = "COMPENSATING"
	StatusCompleted           Status = "COMPLETED"
	StatusFailed              Status = "FAILED"
	StatusTimeout             Status = "TIMEOUT"
	StatusCancelled           Status = "CANCELLED"
)

// terminalStatuses are absorbing: once reached, no further transition is
// permitted.
var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusTimeout:   true,
	StatusCancelled: true,
}

// IsTerminal reports whether s is a terminal (absorbing) status.
func (s Status) IsTerminal() bool { return terminalStatuses[s] }

// transitions encodes the §4.7 transition table: from -> set of allowed to.
// Every non-terminal status may additionally transition to FAILED, TIMEOUT,
// or CANCELLED (the table marks "·" in those three columns on every
// non-terminal row), so those three are checked generically in
// CanTransition rather than repeated in every entry here.
var transitions = map[Status]map[Status]bool{
	StatusReceived:        {StatusParsing: true},
	StatusParsing:         {StatusPlanning: true},
	StatusPlanning:        {StatusPlanned: true},
	StatusPlanned:         {StatusExecuting: true},
	StatusExecuting: {
		StatusPlanning:        true, // replan
		StatusAwaitingConfirm: true,
		StatusSuspended:       true,
		StatusCompleted:       true,
		StatusCompensating:    true,
	},
	StatusAwaitingConfirm: {
		StatusExecuting: true,
		StatusSuspended: true,
	},
	StatusSuspended: {
		StatusExecuting:       true,
		StatusAwaitingConfirm: true,
	},
	StatusCompensating: {},
}

// CanTransition reports whether from -> to is a permitted transition under
// the §4.7 table. Terminal states are absorbing: no transition out of a
// terminal status is ever allowed, including to another terminal status.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusTimeout || to == StatusCancelled {
		return true
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// StepStatus represents the state of a single plan step.
type StepStatus string

const (
	StepPending               StepStatus = "pending"
	StepRunning               StepStatus = "running"
	StepCompleted             StepStatus = "completed"
	StepFailed                StepStatus = "failed"
	StepSkipped               StepStatus = "skipped"
	StepAwaitingConfirmation  StepStatus = "awaiting_confirmation"
)
