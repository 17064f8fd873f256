package errors

import (
	"errors"
	"testing"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{CategoryEscalatable, "escalatable"},
		{CategoryHumanRequired, "human_required"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"store unavailable", &StoreUnavailableError{Cause: errors.New("conn refused")}, CategoryTransient},
		{"queue unavailable", &QueueUnavailableError{Cause: errors.New("timeout")}, CategoryTransient},
		{"bus unavailable", &BusUnavailableError{Cause: errors.New("timeout")}, CategoryTransient},
		{"timeout error", &TimeoutError{Operation: "tool call", Duration: "8500ms"}, CategoryTransient},
		{"tool failure", &ToolFailureError{ToolName: "charge_card", Reason: "PAYMENT_FAILED"}, CategoryEscalatable},
		{"illegal transition", &IllegalTransitionError{From: "COMPLETED", To: "EXECUTING"}, CategoryPermanent},
		{"validation error", &ValidationError{Message: "missing executionId"}, CategoryPermanent},
		{"auth error", &AuthError{Reason: "bad signature"}, CategoryPermanent},
		{"not found", &NotFoundError{Kind: "execution", ID: "e-1"}, CategoryPermanent},
		{"expired", &ExpiredError{Kind: "token", ID: "t-1"}, CategoryPermanent},
		{"stalled saga", &StalledSagaError{ExecutionID: "e-1", InactiveFor: "6m"}, CategoryHumanRequired},
		{"categorized error", &CategorizedError{Category: CategoryTransient}, CategoryTransient},
		{"unknown error", errors.New("boom"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestCategorizedErrorMessage(t *testing.T) {
	t.Run("with context", func(t *testing.T) {
		err := NewCategorized(errors.New("failed"), CategoryTransient, "state store put")
		expected := "state store put: failed (category: transient, attempts: 0)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("without context", func(t *testing.T) {
		err := NewCategorized(errors.New("failed"), CategoryPermanent, "")
		expected := "failed (category: permanent, attempts: 0)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})
}

func TestWithRetryContextSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result := WithRetry(RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 0,
		MaxBackoff:     0,
		BackoffFactor:  1,
	}, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, &StoreUnavailableError{Cause: errors.New("flaky")}
		}
		return 42, nil
	})

	if result.Err != nil {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if result.Value != 42 {
		t.Fatalf("expected 42, got %d", result.Value)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	result := WithRetry(DefaultRetry, func() (int, error) {
		attempts++
		return 0, &ValidationError{Message: "bad input"}
	})

	if result.Err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected no retries on a permanent error, got %d attempts", attempts)
	}
}
