package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/event"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/model"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/queue"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
)

type stubDriver struct {
	published []queue.Message
}

func (d *stubDriver) Publish(_ context.Context, msg queue.Message) (string, error) {
	d.published = append(d.published, msg)
	return "m", nil
}

type stubBus struct {
	published []string
}

func (b *stubBus) Publish(_ context.Context, _ string, name string, _ any, _ event.PublishOptions) error {
	b.published = append(b.published, name)
	return nil
}

func seed(t *testing.T, st store.Store, id string, status model.Status, updatedAt time.Time, stepStates []model.StepState, comps []model.CompensationEntry) {
	t.Helper()
	exec := model.Execution{
		ExecutionID:             id,
		Status:                  status,
		UpdatedAt:               updatedAt,
		StepStates:              stepStates,
		CompensationsRegistered: comps,
	}
	require.NoError(t, store.PutJSON(context.Background(), st, store.KeyTask(id), &exec, time.Hour))
}

func TestScanSkipsTerminalAndFreshExecutions(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "done", model.StatusCompleted, time.Now().Add(-time.Hour), nil, nil)
	seed(t, st, "fresh", model.StatusExecuting, time.Now(), nil, nil)

	r := New(st)
	result, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Findings)
}

func TestScanClassifiesFailedStepAsEscalateWithoutRepairFunc(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "stuck", model.StatusExecuting, time.Now().Add(-10*time.Minute),
		[]model.StepState{{StepID: "s1", Status: model.StepFailed}}, nil)

	r := New(st)
	result, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	require.Equal(t, ClassificationEscalate, result.Findings[0].Classification)

	var entry model.DLQEntry
	require.NoError(t, store.GetJSON(context.Background(), st, store.KeyDLQRecord("stuck"), &entry))
	require.True(t, entry.Parked())
}

func TestScanClassifiesFailedStepAsRepairWhenSafe(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "stuck", model.StatusExecuting, time.Now().Add(-10*time.Minute),
		[]model.StepState{{StepID: "s1", Status: model.StepFailed}}, nil)

	r := New(st, WithRepairFunc(func(ctx context.Context, exec *model.Execution) (bool, error) {
		return true, nil
	}))
	result, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, ClassificationRepair, result.Findings[0].Classification)
}

func TestScanClassifiesStalledCompensationAsRetry(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "compensating", model.StatusCompensating, time.Now().Add(-10*time.Minute), nil,
		[]model.CompensationEntry{{StepID: "s1", CompensationToolName: "refund"}})

	r := New(st)
	result, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, ClassificationCompensationRetry, result.Findings[0].Classification)
}

func TestScanClassifiesOtherwiseAsWorkflowResume(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "idle", model.StatusExecuting, time.Now().Add(-10*time.Minute), nil, nil)

	r := New(st)
	result, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, ClassificationWorkflowResume, result.Findings[0].Classification)
}

func seedWithPlan(t *testing.T, st store.Store, id string, status model.Status, updatedAt time.Time, plan []model.PlanStep, stepStates []model.StepState, comps []model.CompensationEntry) {
	t.Helper()
	exec := model.Execution{
		ExecutionID:             id,
		Status:                  status,
		UpdatedAt:               updatedAt,
		Plan:                    plan,
		StepStates:              stepStates,
		CompensationsRegistered: comps,
	}
	require.NoError(t, store.PutJSON(context.Background(), st, store.KeyTask(id), &exec, time.Hour))
}

func TestScanWorkflowResumeEnqueuesExecuteStep(t *testing.T) {
	st := store.NewMemoryStore()
	plan := []model.PlanStep{{ID: "s0", Index: 0}, {ID: "s1", Index: 1, Dependencies: []string{"s0"}}}
	states := []model.StepState{
		{StepID: "s0", Status: model.StepCompleted},
		{StepID: "s1", Status: model.StepPending},
	}
	seedWithPlan(t, st, "idle", model.StatusExecuting, time.Now().Add(-10*time.Minute), plan, states, nil)

	drv := &stubDriver{}
	r := New(st, WithQueueDriver(drv), WithExecuteStepURL("http://engine.local/engine/execute-step"))
	result, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, ClassificationWorkflowResume, result.Findings[0].Classification)

	require.Len(t, drv.published, 1)
	require.Equal(t, "http://engine.local/engine/execute-step", drv.published[0].URL)
	require.Contains(t, string(drv.published[0].Body), `"startStepIndex":1`)
}

func TestScanCompensationRetryPublishesEvent(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "compensating", model.StatusCompensating, time.Now().Add(-10*time.Minute), nil,
		[]model.CompensationEntry{{StepID: "s1", CompensationToolName: "refund"}})

	bus := &stubBus{}
	r := New(st, WithEventBus(bus))
	result, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, ClassificationCompensationRetry, result.Findings[0].Classification)

	require.Equal(t, []string{compensationRetryEvent}, bus.published)
}

func TestScanEscalatePublishesAlert(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "stuck", model.StatusExecuting, time.Now().Add(-10*time.Minute),
		[]model.StepState{{StepID: "s1", Status: model.StepFailed}}, nil)

	bus := &stubBus{}
	r := New(st, WithEventBus(bus))
	result, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, ClassificationEscalate, result.Findings[0].Classification)

	require.Equal(t, []string{alertEventManualIntervention}, bus.published)
}

func TestScanOrdersOldestFirst(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "a", model.StatusExecuting, time.Now().Add(-6*time.Minute), nil, nil)
	seed(t, st, "b", model.StatusExecuting, time.Now().Add(-60*time.Minute), nil, nil)

	r := New(st)
	result, err := r.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Findings, 2)
	require.Equal(t, "b", result.Findings[0].ExecutionID)
	require.Equal(t, "a", result.Findings[1].ExecutionID)
}
