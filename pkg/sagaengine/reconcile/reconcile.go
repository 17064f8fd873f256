// Package reconcile implements the reconciler (C11): a periodic cursor
// scan over saga state that finds executions which have neither
// progressed nor terminated, classifies each, and drives repair,
// compensation retry, or resumption.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/event"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/model"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/queue"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
)

// alertEventManualIntervention is the alert event name published when a
// stalled saga is classified ESCALATE. The DLQ attempt count does not
// trigger it: no maximum number of recovery attempts is checked.
const alertEventManualIntervention = "SAGA_MANUAL_INTERVENTION_REQUIRED"

// compensationRetryEvent is the event name published when a stalled
// COMPENSATING saga is found with compensations still registered.
const compensationRetryEvent = "COMPENSATION_RETRY"

// StallThreshold is how long an execution may go without activity before
// the reconciler considers it a candidate (spec §4.11).
const StallThreshold = 5 * time.Minute

// MaxPerCycle caps how many stalled sagas one scan acts on, oldest-first.
const MaxPerCycle = 1000

// scanBudget bounds how many task:* keys a single Scan call will read
// before giving up on finding more candidates, independent of how many
// it ultimately acts on.
const scanBudget = 20000

// Classification is the reconciler's verdict for one stalled execution.
type Classification string

const (
	ClassificationRepair            Classification = "REPAIR"
	ClassificationEscalate          Classification = "ESCALATE"
	ClassificationCompensationRetry Classification = "COMPENSATION_RETRY"
	ClassificationWorkflowResume    Classification = "WORKFLOW_RESUME"
)

// RepairFunc attempts the analyze -> propose -> dry-run-validate -> apply
// path for a failed step. It returns safe=false when the repair should not
// be applied (escalate instead). A nil RepairFunc always treats repair as
// unsafe, matching "attempts exhausted -> escalate" for a caller with no
// repair strategy configured.
type RepairFunc func(ctx context.Context, exec *model.Execution) (safe bool, err error)

// Finding is one execution's classification from a scan.
type Finding struct {
	ExecutionID    string
	Classification Classification
	Status         model.Status
	InactiveFor    time.Duration
	Reason         string
}

// Result aggregates one scan cycle.
type Result struct {
	Findings    []Finding
	ScannedKeys int
	Capped      bool
}

// Reconciler scans the state store for stalled sagas.
type Reconciler struct {
	store          store.Store
	queueDrv       queue.Driver
	bus            event.Bus
	executeStepURL string
	repair         RepairFunc
	logger         *slog.Logger
	now            func() time.Time
	stallAfter     time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithRepairFunc(fn RepairFunc) Option { return func(r *Reconciler) { r.repair = fn } }
func WithLogger(l *slog.Logger) Option    { return func(r *Reconciler) { r.logger = l } }
func WithStallThreshold(d time.Duration) Option {
	return func(r *Reconciler) { r.stallAfter = d }
}

// WithQueueDriver wires the queue driver a WORKFLOW_RESUME classification
// re-enqueues execute-step through. Without it, resume findings are
// recorded but no recovery actually fires.
func WithQueueDriver(d queue.Driver) Option { return func(r *Reconciler) { r.queueDrv = d } }

// WithExecuteStepURL sets the execute-step endpoint WORKFLOW_RESUME
// re-enqueues to.
func WithExecuteStepURL(url string) Option { return func(r *Reconciler) { r.executeStepURL = url } }

// WithEventBus wires the event bus COMPENSATION_RETRY and escalation
// alerts publish through.
func WithEventBus(b event.Bus) Option { return func(r *Reconciler) { r.bus = b } }

// New builds a Reconciler.
func New(st store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:      st,
		logger:     slog.Default(),
		now:        time.Now,
		stallAfter: StallThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scan walks task:* keys, classifies stalled executions, and updates DLQ
// bookkeeping for each. Results are capped at MaxPerCycle, oldest (longest
// inactive) first.
func (r *Reconciler) Scan(ctx context.Context) (Result, error) {
	keys, err := r.collectKeys(ctx)
	if err != nil {
		return Result{}, err
	}

	type candidate struct {
		exec        model.Execution
		inactiveFor time.Duration
	}
	var candidates []candidate

	for _, key := range keys {
		var exec model.Execution
		if err := store.GetJSON(ctx, r.store, key, &exec); err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return Result{}, fmt.Errorf("load %s: %w", key, err)
		}
		if exec.Status.IsTerminal() {
			continue
		}
		inactiveFor := r.now().Sub(exec.UpdatedAt)
		if inactiveFor < r.stallAfter {
			continue
		}
		candidates = append(candidates, candidate{exec: exec, inactiveFor: inactiveFor})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].inactiveFor > candidates[j].inactiveFor
	})

	capped := false
	if len(candidates) > MaxPerCycle {
		candidates = candidates[:MaxPerCycle]
		capped = true
	}

	findings := make([]Finding, 0, len(candidates))
	for _, c := range candidates {
		finding, err := r.classify(ctx, &c.exec, c.inactiveFor)
		if err != nil {
			return Result{}, err
		}
		findings = append(findings, finding)
	}

	if capped {
		r.logger.Warn("reconciler scan capped", "scanned", len(keys), "acted_on", MaxPerCycle)
	}

	return Result{Findings: findings, ScannedKeys: len(keys), Capped: capped}, nil
}

func (r *Reconciler) collectKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.store.Scan(ctx, cursor, "task:", 200)
		if err != nil {
			return nil, fmt.Errorf("scan task keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 || len(keys) >= scanBudget {
			break
		}
	}
	return keys, nil
}

func (r *Reconciler) classify(ctx context.Context, exec *model.Execution, inactiveFor time.Duration) (Finding, error) {
	hasFailedStep := false
	for _, s := range exec.StepStates {
		if s.Status == model.StepFailed {
			hasFailedStep = true
			break
		}
	}

	var classification Classification
	var reason string

	switch {
	case hasFailedStep:
		safe := false
		var err error
		if r.repair != nil {
			safe, err = r.repair(ctx, exec)
			if err != nil {
				return Finding{}, fmt.Errorf("repair %s: %w", exec.ExecutionID, err)
			}
		}
		if safe {
			classification = ClassificationRepair
			reason = "failed step repaired"
		} else {
			classification = ClassificationEscalate
			reason = "failed step unsafe to repair"
		}
	case exec.Status == model.StatusCompensating && len(exec.CompensationsRegistered) > 0:
		classification = ClassificationCompensationRetry
		reason = "compensation stalled"
	default:
		classification = ClassificationWorkflowResume
		reason = "no forward progress"
	}

	if err := r.recordDLQ(ctx, exec, classification, reason); err != nil {
		return Finding{}, err
	}
	if err := r.act(ctx, exec, classification); err != nil {
		return Finding{}, err
	}

	return Finding{
		ExecutionID:    exec.ExecutionID,
		Classification: classification,
		Status:         exec.Status,
		InactiveFor:    inactiveFor,
		Reason:         reason,
	}, nil
}

// act drives the real recovery/escalation work a classification implies.
// Each branch is nil-safe: a Reconciler built without a queue driver or
// event bus (e.g. in unit tests) simply records the finding without acting,
// matching the rest of the codebase's optional-collaborator convention.
func (r *Reconciler) act(ctx context.Context, exec *model.Execution, classification Classification) error {
	switch classification {
	case ClassificationWorkflowResume:
		return r.enqueueResume(ctx, exec)
	case ClassificationCompensationRetry:
		return r.publish(ctx, exec, compensationRetryEvent)
	case ClassificationEscalate:
		return r.publish(ctx, exec, alertEventManualIntervention)
	default:
		return nil
	}
}

// enqueueResume re-enqueues execute-step from the execution's current next
// pending step index (spec §4.11/S5: "enqueues execute-step(E, i=1)").
func (r *Reconciler) enqueueResume(ctx context.Context, exec *model.Execution) error {
	if r.queueDrv == nil || r.executeStepURL == "" {
		return nil
	}
	step, ok := exec.NextPendingStep()
	if !ok {
		return nil
	}
	body, err := json.Marshal(struct {
		ExecutionID    string `json:"executionId"`
		StartStepIndex int    `json:"startStepIndex"`
	}{ExecutionID: exec.ExecutionID, StartStepIndex: step.Index})
	if err != nil {
		return fmt.Errorf("encode resume enqueue: %w", err)
	}
	if _, err := r.queueDrv.Publish(ctx, queue.Message{URL: r.executeStepURL, Body: body}); err != nil {
		return fmt.Errorf("enqueue resume: %w", err)
	}
	return nil
}

func (r *Reconciler) publish(ctx context.Context, exec *model.Execution, name string) error {
	if r.bus == nil {
		return nil
	}
	payload := map[string]any{"executionId": exec.ExecutionID}
	if err := r.bus.Publish(ctx, "saga."+exec.ExecutionID, name, payload, event.PublishOptions{}); err != nil {
		r.logger.Warn("reconciler event publish failed", "execution_id", exec.ExecutionID, "event", name, "error", err)
	}
	return nil
}

// dlqTTL is how long DLQ entries are retained (spec §4.11: 7 days).
const dlqTTL = 7 * 24 * time.Hour

func (r *Reconciler) recordDLQ(ctx context.Context, exec *model.Execution, classification Classification, reason string) error {
	var entry model.DLQEntry
	err := store.GetJSON(ctx, r.store, store.KeyDLQRecord(exec.ExecutionID), &entry)
	switch {
	case err == nil:
		entry.Attempts++
	case store.IsNotFound(err):
		entry = model.DLQEntry{ExecutionID: exec.ExecutionID, DetectedAt: r.now(), Attempts: 1}
	default:
		return fmt.Errorf("load dlq entry: %w", err)
	}
	entry.LastState = exec.Status
	entry.Reason = reason
	if classification == ClassificationEscalate {
		parkedAt := r.now()
		entry.ParkedAt = &parkedAt
	}

	if err := store.PutJSON(ctx, r.store, store.KeyDLQRecord(exec.ExecutionID), &entry, dlqTTL); err != nil {
		return fmt.Errorf("persist dlq entry: %w", err)
	}
	if err := r.store.ZAdd(ctx, store.KeyDLQIndex, float64(entry.DetectedAt.Unix()), exec.ExecutionID); err != nil {
		return fmt.Errorf("index dlq entry: %w", err)
	}
	return nil
}
