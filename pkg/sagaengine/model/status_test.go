package model

import "testing"

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusReceived, StatusParsing, true},
		{StatusReceived, StatusPlanning, false},
		{StatusParsing, StatusPlanning, true},
		{StatusPlanning, StatusPlanned, true},
		{StatusPlanned, StatusExecuting, true},
		{StatusExecuting, StatusPlanning, true},
		{StatusExecuting, StatusAwaitingConfirm, true},
		{StatusExecuting, StatusSuspended, true},
		{StatusExecuting, StatusCompleted, true},
		{StatusExecuting, StatusCompensating, true},
		{StatusExecuting, StatusFailed, true},
		{StatusAwaitingConfirm, StatusExecuting, true},
		{StatusAwaitingConfirm, StatusSuspended, true},
		{StatusAwaitingConfirm, StatusCompleted, false},
		{StatusSuspended, StatusExecuting, true},
		{StatusSuspended, StatusAwaitingConfirm, true},
		{StatusCompensating, StatusFailed, true},
		{StatusCompensating, StatusCompleted, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransitionAllowsFailedTimeoutCancelledFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []Status{
		StatusReceived, StatusParsing, StatusPlanning, StatusPlanned,
		StatusExecuting, StatusAwaitingConfirm, StatusSuspended, StatusCompensating,
	}
	for _, from := range nonTerminal {
		if !CanTransition(from, StatusFailed) {
			t.Errorf("CanTransition(%s, FAILED) = false, want true", from)
		}
		if !CanTransition(from, StatusTimeout) {
			t.Errorf("CanTransition(%s, TIMEOUT) = false, want true", from)
		}
		if !CanTransition(from, StatusCancelled) {
			t.Errorf("CanTransition(%s, CANCELLED) = false, want true", from)
		}
	}
}

func TestTerminalStatusesAreAbsorbing(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled}
	targets := []Status{StatusReceived, StatusExecuting, StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled}
	for _, from := range terminal {
		if !from.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", from)
		}
		for _, to := range targets {
			if CanTransition(from, to) {
				t.Errorf("CanTransition(%s, %s) = true, want false (terminal is absorbing)", from, to)
			}
		}
	}
}

func TestIsTerminalFalseForNonTerminal(t *testing.T) {
	for _, s := range []Status{StatusReceived, StatusParsing, StatusPlanning, StatusPlanned, StatusExecuting, StatusAwaitingConfirm, StatusSuspended, StatusCompensating} {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}
