package model

import "testing"

func newTestExecution() *Execution {
	return &Execution{
		ExecutionID: "exec-1",
		Status:      StatusExecuting,
		Plan: []PlanStep{
			{ID: "s1", Index: 0, ToolName: "lookup_order"},
			{ID: "s2", Index: 1, ToolName: "charge_card", Dependencies: []string{"s1"}},
			{ID: "s3", Index: 2, ToolName: "notify_customer", Dependencies: []string{"s2"}},
		},
		StepStates: []StepState{
			{StepID: "s1", Status: StepCompleted},
			{StepID: "s2", Status: StepPending},
			{StepID: "s3", Status: StepPending},
		},
		Context: map[string]any{"orderId": "o-1"},
	}
}

func TestNextPendingStepRespectsDependencies(t *testing.T) {
	e := newTestExecution()
	step, ok := e.NextPendingStep()
	if !ok {
		t.Fatal("expected an eligible step")
	}
	if step.ID != "s2" {
		t.Errorf("NextPendingStep() = %s, want s2", step.ID)
	}
}

func TestNextPendingStepBlockedByIncompleteDependency(t *testing.T) {
	e := newTestExecution()
	e.StepStates[0].Status = StepRunning
	_, ok := e.NextPendingStep()
	if ok {
		t.Fatal("expected no eligible step while s1 is still running")
	}
}

func TestAllStepsDone(t *testing.T) {
	e := newTestExecution()
	if e.AllStepsDone() {
		t.Fatal("expected not all steps done")
	}
	e.StepStates[1].Status = StepCompleted
	e.StepStates[2].Status = StepSkipped
	if !e.AllStepsDone() {
		t.Fatal("expected all steps done")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	e := newTestExecution()
	clone := e.Clone()

	clone.Context["orderId"] = "mutated"
	clone.StepStates[0].Status = StepFailed
	clone.Plan[0].ToolName = "mutated"

	if e.Context["orderId"] != "o-1" {
		t.Error("mutating clone context leaked into original")
	}
	if e.StepStates[0].Status != StepCompleted {
		t.Error("mutating clone step states leaked into original")
	}
	if e.Plan[0].ToolName != "lookup_order" {
		t.Error("mutating clone plan leaked into original")
	}
}

func TestStepByIDMissing(t *testing.T) {
	e := newTestExecution()
	if e.StepByID("nope") != nil {
		t.Error("expected nil for missing step id")
	}
}
