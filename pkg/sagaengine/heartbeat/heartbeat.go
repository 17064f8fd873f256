// Package heartbeat implements the heartbeat service (C10): after a
// yield it arms a deferred "did it progress?" check; if the execution
// hasn't advanced by then it re-enqueues from the expected step, and
// after enough failed recoveries it escalates.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/model"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/queue"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
)

// DefaultDelay is how long after a yield the first check fires (spec §4.10).
const DefaultDelay = 30 * time.Second

// DefaultMaxRecoveryAttempts bounds how many re-enqueues are attempted
// before escalating.
const DefaultMaxRecoveryAttempts = 3

// checkPayload is what the deferred webhook delivers back to the
// heartbeat-check endpoint.
type checkPayload struct {
	ExecutionID string `json:"executionId"`
}

// Service schedules and evaluates heartbeats.
type Service struct {
	store               store.Store
	driver              queue.Driver
	checkURL            string
	executeStepURL      string
	delay               time.Duration
	maxRecoveryAttempts int
	logger              *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithDelay(d time.Duration) Option     { return func(s *Service) { s.delay = d } }
func WithMaxRecoveryAttempts(n int) Option { return func(s *Service) { s.maxRecoveryAttempts = n } }
func WithLogger(l *slog.Logger) Option     { return func(s *Service) { s.logger = l } }

// New builds a Service. checkURL is the heartbeat-check endpoint the
// deferred webhook targets; executeStepURL is where recovery re-enqueues
// (spec §4.10: "recovery = re-enqueue from expectedNextStepIndex"), i.e.
// back into the workflow machine, not back into this check endpoint.
func New(st store.Store, driver queue.Driver, checkURL, executeStepURL string, opts ...Option) *Service {
	s := &Service{
		store:               st,
		driver:              driver,
		checkURL:            checkURL,
		executeStepURL:      executeStepURL,
		delay:               DefaultDelay,
		maxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm schedules a heartbeat for executionID expecting progress to reach
// expectedNextStepIndex by the time the deferred check fires.
func (s *Service) Arm(ctx context.Context, executionID string, expectedNextStepIndex int) error {
	now := time.Now()
	hb := model.Heartbeat{
		ExecutionID:           executionID,
		ExpectedNextStepIndex: expectedNextStepIndex,
		ScheduledAt:           now,
		CheckAt:               now.Add(s.delay),
		Status:                model.HeartbeatScheduled,
	}
	if err := store.PutJSON(ctx, s.store, store.KeyHeartbeat(executionID), &hb, 24*time.Hour); err != nil {
		return fmt.Errorf("persist heartbeat: %w", err)
	}

	body, err := json.Marshal(checkPayload{ExecutionID: executionID})
	if err != nil {
		return fmt.Errorf("marshal heartbeat check: %w", err)
	}
	_, err = s.driver.Publish(ctx, queue.Message{URL: s.checkURL, Body: body, Delay: s.delay})
	if err != nil {
		return fmt.Errorf("schedule heartbeat check: %w", err)
	}
	return nil
}

// Outcome summarizes what Check did.
type Outcome string

const (
	OutcomeProgressed Outcome = "progressed"
	OutcomeRecovered  Outcome = "recovered"
	OutcomeEscalated  Outcome = "escalated"
	OutcomeNoop       Outcome = "noop"
)

// Check reads the execution's current next-step index; if it has reached
// or passed the heartbeat's expectation, the heartbeat is cleared. Otherwise
// it attempts recovery by re-enqueuing from the expected index, counting
// the attempt, and escalates once maxRecoveryAttempts is exhausted.
func (s *Service) Check(ctx context.Context, executionID string) (Outcome, error) {
	var hb model.Heartbeat
	if err := store.GetJSON(ctx, s.store, store.KeyHeartbeat(executionID), &hb); err != nil {
		if store.IsNotFound(err) {
			return OutcomeNoop, nil
		}
		return "", err
	}

	var exec model.Execution
	if err := store.GetJSON(ctx, s.store, store.KeyTask(executionID), &exec); err != nil {
		return "", err
	}

	currentIndex := currentNextStepIndex(&exec)
	if exec.Status.IsTerminal() || currentIndex >= hb.ExpectedNextStepIndex {
		hb.Status = model.HeartbeatOK
		if err := s.store.Del(ctx, store.KeyHeartbeat(executionID)); err != nil {
			return "", err
		}
		return OutcomeProgressed, nil
	}

	hb.Attempts++
	if hb.Attempts > s.maxRecoveryAttempts {
		hb.Status = model.HeartbeatEscalated
		if err := store.PutJSON(ctx, s.store, store.KeyHeartbeat(executionID), &hb, 24*time.Hour); err != nil {
			return "", err
		}
		s.logger.Warn("heartbeat escalated", "execution_id", executionID, "attempts", hb.Attempts)
		return OutcomeEscalated, nil
	}

	hb.Status = model.HeartbeatMissed
	if err := store.PutJSON(ctx, s.store, store.KeyHeartbeat(executionID), &hb, 24*time.Hour); err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]any{"executionId": executionID, "startStepIndex": hb.ExpectedNextStepIndex})
	if err != nil {
		return "", fmt.Errorf("marshal recovery enqueue: %w", err)
	}
	if _, err := s.driver.Publish(ctx, queue.Message{URL: s.executeStepURL, Body: body}); err != nil {
		return "", fmt.Errorf("re-enqueue recovery: %w", err)
	}

	s.logger.Info("heartbeat recovery attempted", "execution_id", executionID, "attempt", hb.Attempts)
	return OutcomeRecovered, nil
}

// currentNextStepIndex returns the plan index of the next eligible step
// (NextPendingStep), or len(plan) when no step is eligible, which includes
// the case where every step is done.
func currentNextStepIndex(exec *model.Execution) int {
	step, ok := exec.NextPendingStep()
	if !ok {
		return len(exec.Plan)
	}
	return step.Index
}
