// Package workflow implements the workflow machine (C7): the core
// single-step executor. One call to ExecuteStep runs exactly one plan
// step to completion, suspension, or failure and then yields — there is
// no in-process scheduler loop; progress across steps comes from the
// queue driver re-entering the orchestrator (§5).
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/confirm"
	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/event"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/failover"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/heartbeat"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/lock"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/model"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/queue"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/tool"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/trace"
)

// DefaultStepTimeout is used when a PlanStep doesn't specify its own
// (spec §6 step.timeoutMs default).
const DefaultStepTimeout = 8500 * time.Millisecond

// Outcome summarizes what one ExecuteStep call did, for the HTTP surface
// to render into a response body.
type Outcome string

const (
	OutcomeStepCompleted   Outcome = "step_completed"
	OutcomeIdempotentSkip  Outcome = "idempotent_skip"
	OutcomeYieldedConfirm  Outcome = "yielded_confirmation"
	OutcomeSagaCompleted   Outcome = "saga_completed"
	OutcomeRetryScheduled  Outcome = "retry_scheduled"
	OutcomeReplanScheduled Outcome = "replan_scheduled"
	OutcomeCompensating    Outcome = "compensating"
	OutcomeSagaFailed      Outcome = "saga_failed"
	OutcomeEscalated       Outcome = "escalated"
)

// StepResult is ExecuteStep's return value.
type StepResult struct {
	ExecutionID       string
	Outcome           Outcome
	StepID            string
	NextStepTriggered bool
	ConfirmationToken string
}

// Machine wires together the components an execute-step invocation calls
// into: the lock service, the state store, the tool invoker, the
// confirmation gate, the failover policy engine, the queue driver for
// enqueueing the next step, the event bus for progress events, and the
// heartbeat service armed on every yield.
type Machine struct {
	store      store.Store
	locks      *lock.Service
	invoker    *tool.Invoker
	confirms   *confirm.Service
	policy     *failover.Engine
	queueDrv   queue.Driver
	bus        event.Bus
	heartbeats *heartbeat.Service

	executeStepURL string
	highRiskTools  map[string]bool
	maxAttempts    int
	logger         *slog.Logger
	spans          trace.SpanManager
}

// Option configures a Machine.
type Option func(*Machine)

func WithEventBus(b event.Bus) Option           { return func(m *Machine) { m.bus = b } }
func WithHeartbeats(h *heartbeat.Service) Option { return func(m *Machine) { m.heartbeats = h } }
func WithHighRiskTools(names ...string) Option {
	return func(m *Machine) {
		for _, n := range names {
			m.highRiskTools[n] = true
		}
	}
}
func WithMaxAttempts(n int) Option                { return func(m *Machine) { m.maxAttempts = n } }
func WithLogger(l *slog.Logger) Option            { return func(m *Machine) { m.logger = l } }
func WithSpanManager(s trace.SpanManager) Option   { return func(m *Machine) { m.spans = s } }

// New builds a Machine. executeStepURL is the queue target for
// re-enqueueing the next step.
func New(st store.Store, locks *lock.Service, invoker *tool.Invoker, confirms *confirm.Service, policy *failover.Engine, queueDrv queue.Driver, executeStepURL string, opts ...Option) *Machine {
	m := &Machine{
		store:          st,
		locks:          locks,
		invoker:        invoker,
		confirms:       confirms,
		policy:         policy,
		queueDrv:       queueDrv,
		executeStepURL: executeStepURL,
		highRiskTools:  map[string]bool{},
		maxAttempts:    3,
		logger:         slog.Default(),
		spans:          trace.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ExecuteStep runs the §4.7 nine-step contract once, then yields: it
// never loops over multiple steps itself. startStepIndex, when given, is
// the plan index the caller believes is next; it is used only to detect a
// stale redelivery of a message whose step already finished (S4), never to
// pick which step actually runs.
func (m *Machine) ExecuteStep(ctx context.Context, executionID string, startStepIndex *int) (StepResult, error) {
	ctx, span := m.spans.StartEntrySpan(ctx, "execute-step", executionID)
	var stepErr error
	defer func() { m.spans.EndSpanWithError(span, stepErr) }()

	l, err := m.locks.Acquire(ctx, lock.ExecutionLockKey(executionID), "execute-step")
	if err != nil {
		stepErr = err
		return StepResult{}, err
	}
	if l == nil {
		stepErr = &sagaerrors.ConflictError{Reason: "execution lock held"}
		return StepResult{}, stepErr
	}
	defer func() {
		if releaseErr := m.locks.Release(context.Background(), l); releaseErr != nil {
			m.logger.Error("lock release failed", "execution_id", executionID, "error", releaseErr)
		}
	}()

	var exec model.Execution
	if err := store.GetJSON(ctx, m.store, store.KeyTask(executionID), &exec); err != nil {
		if store.IsNotFound(err) {
			stepErr = &sagaerrors.NotFoundError{Kind: "execution", ID: executionID}
			return StepResult{}, stepErr
		}
		stepErr = err
		return StepResult{}, err
	}

	result, err := m.runOneStep(ctx, &exec, startStepIndex)
	stepErr = err
	return result, err
}

// runOneStep implements the nine-step §4.7 contract against an
// already-locked, already-loaded execution.
func (m *Machine) runOneStep(ctx context.Context, exec *model.Execution, startStepIndex *int) (StepResult, error) {
	// 1. Guard.
	if exec.Status != model.StatusPlanned && exec.Status != model.StatusExecuting {
		return StepResult{}, &sagaerrors.IllegalTransitionError{From: string(exec.Status), To: string(model.StatusExecuting)}
	}

	// Stale redelivery guard: a message naming a step that already reached a
	// terminal per-step status is a duplicate of one whose real work already
	// happened (S4) — report the same observable outcome without touching
	// any other step, so a second execute-step call for the same
	// (executionId, startStepIndex) leaves persisted state unchanged.
	if startStepIndex != nil {
		if planStep := exec.PlanStepByIndex(*startStepIndex); planStep != nil {
			if state := exec.StepByID(planStep.ID); state != nil &&
				(state.Status == model.StepCompleted || state.Status == model.StepSkipped) {
				return StepResult{ExecutionID: exec.ExecutionID, Outcome: OutcomeIdempotentSkip, StepID: planStep.ID}, nil
			}
		}
	}

	// 2. Select step.
	step, ok := exec.NextPendingStep()
	if !ok {
		if exec.AllStepsDone() {
			return m.completeSaga(ctx, exec)
		}
		return StepResult{}, &sagaerrors.StalledSagaError{ExecutionID: exec.ExecutionID, InactiveFor: time.Since(exec.UpdatedAt).String()}
	}

	if exec.Status != model.StatusExecuting {
		if err := m.transition(exec, model.StatusExecuting); err != nil {
			return StepResult{}, err
		}
	}

	// 3. Risk gate.
	requiresConfirmation := step.RequiresConfirmation != nil && *step.RequiresConfirmation
	risk := confirm.AssessRisk(confirm.RiskInput{
		ToolName:      step.ToolName,
		HighRiskTools: m.highRiskTools,
		IsFinancialOp: isFinancialTool(step.ToolName),
		Confidence:    exec.Intent.Confidence,
		StepCount:     len(exec.Plan),
	})
	if requiresConfirmation || confirm.RequiresConfirmation(risk) {
		return m.yieldForConfirmation(ctx, exec, step, risk)
	}

	// 4. Idempotency mark. The marker is write-once and never released, so
	// any redelivery that finds it already set must not reach the invoker
	// again (invariant: at most one real tool invocation per step absent an
	// explicit retry) — a step stuck at StepRunning because a prior attempt
	// crashed before completing is a reconciler concern, not something this
	// path silently retries.
	state := exec.StepByID(step.ID)
	err := m.locks.MarkStepAttempted(ctx, exec.ExecutionID, step.Index)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyAttempted) {
			return m.onIdempotentSkip(ctx, exec, step, state)
		}
		return StepResult{}, err
	}

	// 5. Invoke.
	state.Status = model.StepRunning
	state.Attempts++
	state.StartedAt = time.Now()
	timeout := time.Duration(step.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	result := m.invoker.Invoke(ctx, step.ToolName, step.Parameters, int(timeout.Milliseconds()), exec.ExecutionID, step.ID)
	state.EndedAt = time.Now()

	if result.Success {
		return m.onStepSuccess(ctx, exec, step, state, result)
	}
	return m.onStepFailure(ctx, exec, step, state, result)
}

// onStepSuccess implements contract step 6.
func (m *Machine) onStepSuccess(ctx context.Context, exec *model.Execution, step *model.PlanStep, state *model.StepState, result tool.Result) (StepResult, error) {
	if result.Compensation != nil {
		exec.CompensationsRegistered = append(exec.CompensationsRegistered, model.CompensationEntry{
			StepID:               step.ID,
			CompensationToolName: result.Compensation.Tool,
			Parameters:           result.Compensation.Parameters,
		})
	}
	state.Status = model.StepCompleted
	state.Output = result.Output
	exec.UpdatedAt = time.Now()

	if err := m.persist(ctx, exec); err != nil {
		return StepResult{}, err
	}
	m.publish(ctx, exec, "StepCompleted", map[string]any{"stepId": step.ID})

	if exec.AllStepsDone() {
		return m.completeSaga(ctx, exec)
	}

	if err := m.enqueueNext(ctx, exec); err != nil {
		return StepResult{}, err
	}
	m.armHeartbeat(ctx, exec)

	return StepResult{ExecutionID: exec.ExecutionID, Outcome: OutcomeStepCompleted, StepID: step.ID, NextStepTriggered: true}, nil
}

// onIdempotentSkip implements contract step 4's "already set ⇒ no-op
// success, proceed to next index" rule: a prior attempt got far enough to
// set the marker before crashing, so this invocation treats the step as
// having completed with no recoverable output and falls through to the
// same persist/enqueue/complete path a real success would take.
func (m *Machine) onIdempotentSkip(ctx context.Context, exec *model.Execution, step *model.PlanStep, state *model.StepState) (StepResult, error) {
	result, err := m.onStepSuccess(ctx, exec, step, state, tool.Result{Success: true})
	if err != nil {
		return StepResult{}, err
	}
	if result.Outcome == OutcomeStepCompleted {
		result.Outcome = OutcomeIdempotentSkip
	}
	return result, nil
}

// onStepFailure implements contract step 7.
func (m *Machine) onStepFailure(ctx context.Context, exec *model.Execution, step *model.PlanStep, state *model.StepState, result tool.Result) (StepResult, error) {
	state.Status = model.StepFailed
	state.Error = result.Error
	exec.UpdatedAt = time.Now()

	decision, policyErr := m.policy.Evaluate(failover.Input{
		IntentType:    exec.Intent.Type,
		FailureReason: result.Error,
		Confidence:    exec.Intent.Confidence,
		AttemptCount:  state.Attempts,
	})
	if policyErr != nil {
		decision = failover.Decision{Best: failover.ScoredAction{Action: failover.ActionEscalateToHuman}}
	}

	switch decision.Best.Action {
	case failover.ActionRetryWithBackoff:
		if state.Attempts >= m.maxAttempts {
			return m.beginCompensation(ctx, exec, step, result)
		}
		state.Status = model.StepPending
		if err := m.persist(ctx, exec); err != nil {
			return StepResult{}, err
		}
		if err := m.enqueueRetry(ctx, exec, step); err != nil {
			return StepResult{}, err
		}
		return StepResult{ExecutionID: exec.ExecutionID, Outcome: OutcomeRetryScheduled, StepID: step.ID}, nil

	case failover.ActionEscalateToHuman, failover.ActionAbortAndRefund:
		return m.beginCompensation(ctx, exec, step, result)

	default:
		if err := store.PutJSON(ctx, m.store, store.KeyReplanMarker(exec.ExecutionID), decision, 24*time.Hour); err != nil {
			return StepResult{}, err
		}
		if err := m.transition(exec, model.StatusPlanning); err != nil {
			return StepResult{}, err
		}
		if err := m.persist(ctx, exec); err != nil {
			return StepResult{}, err
		}
		return StepResult{ExecutionID: exec.ExecutionID, Outcome: OutcomeReplanScheduled, StepID: step.ID}, nil
	}
}

// beginCompensation transitions into COMPENSATING and runs the
// compensation loop (contract step 8) to completion within this
// invocation, since compensations are bounded and synchronous here.
func (m *Machine) beginCompensation(ctx context.Context, exec *model.Execution, failedStep *model.PlanStep, result tool.Result) (StepResult, error) {
	if err := m.transition(exec, model.StatusCompensating); err != nil {
		return StepResult{}, err
	}
	exec.Error = &model.ExecutionError{Code: result.Error, Message: sagaerrors.UserFriendlyMessage(result.Error), StepID: failedStep.ID}

	partial := false
	for len(exec.CompensationsRegistered) > 0 {
		last := len(exec.CompensationsRegistered) - 1
		entry := exec.CompensationsRegistered[last]
		exec.CompensationsRegistered = exec.CompensationsRegistered[:last]

		compResult := m.invoker.Invoke(ctx, entry.CompensationToolName, entry.Parameters, int(DefaultStepTimeout.Milliseconds()), exec.ExecutionID, entry.StepID)
		if !compResult.Success {
			partial = true
			m.logger.Error("compensation failed", "execution_id", exec.ExecutionID, "step_id", entry.StepID, "tool", entry.CompensationToolName, "error", compResult.Error)
			continue
		}
		m.publish(ctx, exec, "CompensationApplied", map[string]any{"stepId": entry.StepID, "tool": entry.CompensationToolName})
	}

	if partial {
		if exec.Context == nil {
			exec.Context = map[string]any{}
		}
		exec.Context["compensationStatus"] = model.CompensationPartial
		if err := m.transition(exec, model.StatusFailed); err != nil {
			return StepResult{}, err
		}
		if err := m.persist(ctx, exec); err != nil {
			return StepResult{}, err
		}
		return StepResult{ExecutionID: exec.ExecutionID, Outcome: OutcomeEscalated, StepID: failedStep.ID}, nil
	}

	if err := m.transition(exec, model.StatusFailed); err != nil {
		return StepResult{}, err
	}
	if err := m.persist(ctx, exec); err != nil {
		return StepResult{}, err
	}
	m.publish(ctx, exec, "SagaFailed", map[string]any{"stepId": failedStep.ID, "reason": result.Error})

	return StepResult{ExecutionID: exec.ExecutionID, Outcome: OutcomeSagaFailed, StepID: failedStep.ID}, nil
}

// yieldForConfirmation implements contract step 3: the step is high-risk,
// so the saga suspends and a confirmation token is issued instead of
// invoking the tool.
func (m *Machine) yieldForConfirmation(ctx context.Context, exec *model.Execution, step *model.PlanStep, risk model.RiskAssessment) (StepResult, error) {
	if err := m.transition(exec, model.StatusAwaitingConfirm); err != nil {
		return StepResult{}, err
	}
	state := exec.StepByID(step.ID)
	state.Status = model.StepAwaitingConfirmation

	actor, _ := exec.Intent.Parameters["actorId"].(string)
	tok, err := m.confirms.Create(ctx, exec.ExecutionID, step.ID, step.Parameters, risk, actor)
	if err != nil {
		return StepResult{}, err
	}

	if err := m.persist(ctx, exec); err != nil {
		return StepResult{}, err
	}
	m.publish(ctx, exec, "AwaitingConfirmation", map[string]any{"stepId": step.ID, "token": tok.Token})
	m.armHeartbeat(ctx, exec)

	return StepResult{ExecutionID: exec.ExecutionID, Outcome: OutcomeYieldedConfirm, StepID: step.ID, ConfirmationToken: tok.Token}, nil
}

// Resume implements §4.8's resume: given a validated, not-yet-consumed
// confirmation token, it resets the gated step to pending, transitions
// back to EXECUTING, and enqueues the next invocation. The caller is
// responsible for having already called confirm.Service.Validate and
// Consume around this.
func (m *Machine) Resume(ctx context.Context, tok *model.ConfirmationToken) (StepResult, error) {
	l, err := m.locks.Acquire(ctx, lock.ExecutionLockKey(tok.ExecutionID), "confirm-resume")
	if err != nil {
		return StepResult{}, err
	}
	if l == nil {
		return StepResult{}, &sagaerrors.ConflictError{Reason: "execution lock held"}
	}
	defer func() {
		if releaseErr := m.locks.Release(context.Background(), l); releaseErr != nil {
			m.logger.Error("lock release failed", "execution_id", tok.ExecutionID, "error", releaseErr)
		}
	}()

	var exec model.Execution
	if err := store.GetJSON(ctx, m.store, store.KeyTask(tok.ExecutionID), &exec); err != nil {
		if store.IsNotFound(err) {
			return StepResult{}, &sagaerrors.NotFoundError{Kind: "execution", ID: tok.ExecutionID}
		}
		return StepResult{}, err
	}

	if exec.Status != model.StatusSuspended && exec.Status != model.StatusAwaitingConfirm {
		return StepResult{}, &sagaerrors.IllegalTransitionError{From: string(exec.Status), To: string(model.StatusExecuting)}
	}

	state := exec.StepByID(tok.StepID)
	if state != nil {
		state.Status = model.StepPending
	}
	if exec.Context == nil {
		exec.Context = map[string]any{}
	}
	exec.Context["confirmedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

	if err := m.transition(&exec, model.StatusExecuting); err != nil {
		return StepResult{}, err
	}
	if err := m.persist(ctx, &exec); err != nil {
		return StepResult{}, err
	}
	m.publish(ctx, &exec, "ConfirmationAccepted", map[string]any{"stepId": tok.StepID})

	if err := m.enqueueNext(ctx, &exec); err != nil {
		return StepResult{}, err
	}

	return StepResult{ExecutionID: exec.ExecutionID, Outcome: OutcomeStepCompleted, StepID: tok.StepID, NextStepTriggered: true}, nil
}

func (m *Machine) completeSaga(ctx context.Context, exec *model.Execution) (StepResult, error) {
	if err := m.transition(exec, model.StatusCompleted); err != nil {
		return StepResult{}, err
	}
	now := time.Now()
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	if err := m.persist(ctx, exec); err != nil {
		return StepResult{}, err
	}
	m.publish(ctx, exec, "SagaCompleted", map[string]any{})
	return StepResult{ExecutionID: exec.ExecutionID, Outcome: OutcomeSagaCompleted}, nil
}

// transition enforces the §4.7 transition table, logging the attempt via
// the shared trace conventions.
func (m *Machine) transition(exec *model.Execution, to model.Status) error {
	if !model.CanTransition(exec.Status, to) {
		return &sagaerrors.IllegalTransitionError{From: string(exec.Status), To: string(to)}
	}
	trace.LogTransition(m.logger, string(exec.Status), string(to))
	exec.Status = to
	exec.UpdatedAt = time.Now()
	return nil
}

func (m *Machine) persist(ctx context.Context, exec *model.Execution) error {
	if err := store.PutJSON(ctx, m.store, store.KeyTask(exec.ExecutionID), exec, 24*time.Hour); err != nil {
		return fmt.Errorf("persist execution: %w", err)
	}
	return nil
}

func (m *Machine) enqueueNext(ctx context.Context, exec *model.Execution) error {
	var nextIndex *int
	if next, ok := exec.NextPendingStep(); ok {
		idx := next.Index
		nextIndex = &idx
	}
	body, err := encodeExecuteStepBody(exec.ExecutionID, nextIndex)
	if err != nil {
		return err
	}
	_, err = m.queueDrv.Publish(ctx, queue.Message{URL: m.executeStepURL, Body: body})
	if err != nil {
		return fmt.Errorf("enqueue next step: %w", err)
	}
	return nil
}

func (m *Machine) enqueueRetry(ctx context.Context, exec *model.Execution, step *model.PlanStep) error {
	stepIndex := step.Index
	body, err := encodeExecuteStepBody(exec.ExecutionID, &stepIndex)
	if err != nil {
		return err
	}
	state := exec.StepByID(step.ID)
	attempts := 1
	if state != nil {
		attempts = state.Attempts
	}
	backoff := time.Duration(attempts) * time.Second
	_, err = m.queueDrv.Publish(ctx, queue.Message{URL: m.executeStepURL, Body: body, Delay: backoff})
	if err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

func (m *Machine) armHeartbeat(ctx context.Context, exec *model.Execution) {
	if m.heartbeats == nil {
		return
	}
	step, ok := exec.NextPendingStep()
	if !ok {
		return
	}
	if err := m.heartbeats.Arm(ctx, exec.ExecutionID, step.Index); err != nil {
		m.logger.Warn("heartbeat arm failed", "execution_id", exec.ExecutionID, "error", err)
	}
}

func (m *Machine) publish(ctx context.Context, exec *model.Execution, name string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	payload["executionId"] = exec.ExecutionID
	if err := m.bus.Publish(ctx, "saga."+exec.ExecutionID, name, payload, event.PublishOptions{EnableOrdering: true}); err != nil {
		m.logger.Warn("event publish failed", "execution_id", exec.ExecutionID, "event", name, "error", err)
	}
}

func isFinancialTool(toolName string) bool {
	switch toolName {
	case "charge_card", "process_payment", "refund", "issue_refund":
		return true
	default:
		return false
	}
}

// executeStepBody is the payload a re-enqueued execute-step message
// carries: enough to look the execution back up and to let the recipient
// recognize a stale redelivery of the same step.
type executeStepBody struct {
	ExecutionID    string `json:"executionId"`
	StartStepIndex *int   `json:"startStepIndex,omitempty"`
}

func encodeExecuteStepBody(executionID string, startStepIndex *int) ([]byte, error) {
	body, err := json.Marshal(executeStepBody{ExecutionID: executionID, StartStepIndex: startStepIndex})
	if err != nil {
		return nil, fmt.Errorf("encode execute-step body: %w", err)
	}
	return body, nil
}
