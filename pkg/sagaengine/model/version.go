package model

import (
	"encoding/json"
	"time"
)

// VersionFingerprint captures the orchestrator and tool-schema versions in
// effect at the moment an execution yields, so the resume path can detect
// drift (§4.12) before trusting a stale plan against a changed tool surface.
// ToolSchemas retains the raw schema alongside its hash so resume-time drift
// classification can tell an added-required-field change from a merely
// cosmetic one instead of only knowing "something changed".
type VersionFingerprint struct {
	OrchestratorVersionID string                     `json:"orchestratorVersionId"`
	ToolHashes            map[string]string          `json:"toolHashes"`
	ToolSchemas           map[string]json.RawMessage `json:"toolSchemas,omitempty"`
	CapturedAt            time.Time                  `json:"capturedAt"`
}

// DriftClass classifies how far a current fingerprint has drifted from one
// captured at suspend time.
type DriftClass string

const (
	DriftNone     DriftClass = "none"
	DriftMinor    DriftClass = "minor"
	DriftMajor    DriftClass = "major"
	DriftBreaking DriftClass = "breaking"
)
