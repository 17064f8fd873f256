package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/model"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/queue"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
)

type stubDriver struct {
	calls int
	fn    func(ctx context.Context, msg queue.Message) (string, error)
}

func (d *stubDriver) Publish(ctx context.Context, msg queue.Message) (string, error) {
	d.calls++
	if d.fn != nil {
		return d.fn(ctx, msg)
	}
	return "m", nil
}

func seedExecution(t *testing.T, st store.Store, executionID string, completedSteps int, status model.Status) {
	t.Helper()
	plan := []model.PlanStep{
		{ID: "s0", Index: 0}, {ID: "s1", Index: 1}, {ID: "s2", Index: 2},
	}
	states := make([]model.StepState, len(plan))
	for i := range plan {
		st := model.StepPending
		if i < completedSteps {
			st = model.StepCompleted
		}
		states[i] = model.StepState{StepID: plan[i].ID, Status: st}
	}
	exec := model.Execution{ExecutionID: executionID, Status: status, Plan: plan, StepStates: states}
	require.NoError(t, store.PutJSON(context.Background(), st, store.KeyTask(executionID), &exec, time.Hour))
}

func TestArmSchedulesHeartbeatAndDeferredCheck(t *testing.T) {
	st := store.NewMemoryStore()
	drv := &stubDriver{}
	svc := New(st, drv, "http://engine.local/engine/heartbeat-check", "http://engine.local/engine/execute-step")

	require.NoError(t, svc.Arm(context.Background(), "exec-1", 2))
	require.Equal(t, 1, drv.calls)

	var hb model.Heartbeat
	require.NoError(t, store.GetJSON(context.Background(), st, store.KeyHeartbeat("exec-1"), &hb))
	require.Equal(t, 2, hb.ExpectedNextStepIndex)
}

func TestCheckClearsHeartbeatWhenProgressed(t *testing.T) {
	st := store.NewMemoryStore()
	drv := &stubDriver{}
	svc := New(st, drv, "http://engine.local/engine/heartbeat-check", "http://engine.local/engine/execute-step")

	seedExecution(t, st, "exec-1", 2, model.StatusExecuting)
	require.NoError(t, svc.Arm(context.Background(), "exec-1", 2))

	outcome, err := svc.Check(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeProgressed, outcome)

	var hb model.Heartbeat
	err = store.GetJSON(context.Background(), st, store.KeyHeartbeat("exec-1"), &hb)
	require.True(t, store.IsNotFound(err))
}

func TestCheckRecoversWhenStalled(t *testing.T) {
	st := store.NewMemoryStore()
	var publishedURL string
	drv := &stubDriver{fn: func(ctx context.Context, msg queue.Message) (string, error) {
		publishedURL = msg.URL
		return "m", nil
	}}
	svc := New(st, drv, "http://engine.local/engine/heartbeat-check", "http://engine.local/engine/execute-step")

	seedExecution(t, st, "exec-1", 1, model.StatusExecuting)
	require.NoError(t, svc.Arm(context.Background(), "exec-1", 2))
	drv.calls = 0

	outcome, err := svc.Check(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeRecovered, outcome)
	require.Equal(t, 1, drv.calls)
	require.Equal(t, "http://engine.local/engine/execute-step", publishedURL)

	var hb model.Heartbeat
	require.NoError(t, store.GetJSON(context.Background(), st, store.KeyHeartbeat("exec-1"), &hb))
	require.Equal(t, 1, hb.Attempts)
}

func TestCheckEscalatesAfterMaxRecoveryAttempts(t *testing.T) {
	st := store.NewMemoryStore()
	drv := &stubDriver{}
	svc := New(st, drv, "http://engine.local/engine/heartbeat-check", "http://engine.local/engine/execute-step", WithMaxRecoveryAttempts(1))

	seedExecution(t, st, "exec-1", 1, model.StatusExecuting)
	require.NoError(t, svc.Arm(context.Background(), "exec-1", 2))

	outcome, err := svc.Check(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeRecovered, outcome)

	outcome, err = svc.Check(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalated, outcome)
}

func TestCheckIsNoopWhenNoHeartbeatExists(t *testing.T) {
	st := store.NewMemoryStore()
	svc := New(st, &stubDriver{}, "http://engine.local/engine/heartbeat-check", "http://engine.local/engine/execute-step")

	outcome, err := svc.Check(context.Background(), "ghost")
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)
}
