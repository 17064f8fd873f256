// Package tool implements the timed, cancellable tool invoker (C6): it
// remaps parameter aliases, dispatches to either an in-process handler or
// a remote HTTP tool, and normalizes every outcome to a Result.
package tool

import (
	"context"
	"encoding/json"
	"time"
)

// Spec describes one callable tool's name, description, and JSON-Schema
// parameter shape — the same shape an LLM function-calling tool
// definition would carry, reused here for plan-step dispatch instead.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Call is one invocation request.
type Call struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Compensation is the optional compensation a tool declares on success, to
// be pushed onto the saga's compensation stack.
type Compensation struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// Result is the normalized outcome of one invocation: non-success
// responses and transport exceptions both collapse to Success=false with
// a human-readable Error, so callers never branch on error type.
type Result struct {
	Success      bool          `json:"success"`
	Output       any           `json:"output,omitempty"`
	Error        string        `json:"error,omitempty"`
	LatencyMs    int64         `json:"latencyMs"`
	Compensation *Compensation `json:"compensation,omitempty"`
}

// Handler is a local, in-process tool implementation.
type Handler func(ctx context.Context, args map[string]any) (Result, error)
