package trace

import (
	"log/slog"
	"time"
)

// EnrichLogger attaches the engine's resident attributes to a logger:
// execution id, trace id, and correlation id. Never returns nil — defaults
// to slog.Default() if logger is nil.
func EnrichLogger(logger *slog.Logger, executionID, traceID, correlationID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(
		slog.String("execution_id", executionID),
		slog.String("trace_id", traceID),
		slog.String("correlation_id", correlationID),
	)
}

// LogStepStart logs the start of a step's tool invocation.
func LogStepStart(logger *slog.Logger, stepID, toolName string) {
	if logger == nil {
		return
	}
	logger.Debug("step starting", slog.String("step_id", stepID), slog.String("tool_name", toolName))
}

// LogStepComplete logs successful step completion.
func LogStepComplete(logger *slog.Logger, stepID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("step completed", slog.String("step_id", stepID), slog.Float64("duration_ms", durationMs))
}

// LogStepError logs step execution failure.
func LogStepError(logger *slog.Logger, stepID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("step failed", slog.String("step_id", stepID), slog.String("error", err.Error()))
}

// LogTransition logs a saga status transition.
func LogTransition(logger *slog.Logger, from, to string) {
	if logger == nil {
		return
	}
	logger.Info("status transition", slog.String("from", from), slog.String("to", to))
}

// LogCompensation logs a compensation invocation.
func LogCompensation(logger *slog.Logger, stepID, toolName string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Error("compensation failed",
			slog.String("step_id", stepID), slog.String("tool_name", toolName), slog.String("error", err.Error()))
		return
	}
	logger.Info("compensation applied", slog.String("step_id", stepID), slog.String("tool_name", toolName))
}

// TimedOperation measures the duration of an operation. Returns a function
// that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 { return float64(time.Since(start).Milliseconds()) }
}
