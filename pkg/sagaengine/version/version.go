// Package version implements the schema-version guard (C12): it
// snapshots a fingerprint of the orchestrator version and every tool's
// parameter schema at yield, and classifies drift against that snapshot
// on resume.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/model"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
)

// Guard captures and checks version fingerprints.
type Guard struct {
	store store.Store
	ttl   time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

func WithTTL(ttl time.Duration) Option { return func(g *Guard) { g.ttl = ttl } }

// DefaultTTL mirrors the execution TTL: a fingerprint outlives its saga.
const DefaultTTL = 24 * time.Hour

// New builds a Guard.
func New(st store.Store, opts ...Option) *Guard {
	g := &Guard{store: st, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Capture persists a fingerprint of orchestratorVersionID and schemas for
// executionID, to be checked again on resume.
func (g *Guard) Capture(ctx context.Context, executionID, orchestratorVersionID string, schemas map[string]json.RawMessage) error {
	hashes := make(map[string]string, len(schemas))
	for name, schema := range schemas {
		hashes[name] = hashSchema(schema)
	}
	fp := model.VersionFingerprint{
		OrchestratorVersionID: orchestratorVersionID,
		ToolHashes:            hashes,
		ToolSchemas:           schemas,
		CapturedAt:            time.Now(),
	}
	if err := store.PutJSON(ctx, g.store, store.KeyVersionFingerprint(executionID), &fp, g.ttl); err != nil {
		return fmt.Errorf("persist version fingerprint: %w", err)
	}
	return nil
}

func hashSchema(schema json.RawMessage) string {
	sum := sha256.Sum256(schema)
	return hex.EncodeToString(sum[:])
}

// CheckResult is the guard's resume-time verdict.
type CheckResult struct {
	Drift               model.DriftClass
	OrchestratorChanged bool
	ChangedTools        []string
	RequiresReplan      bool
}

// CheckOnResume recomputes the fingerprint and classifies drift against
// the one captured at executionID's last yield.
func (g *Guard) CheckOnResume(ctx context.Context, executionID, currentOrchestratorVersionID string, currentSchemas map[string]json.RawMessage) (CheckResult, error) {
	var captured model.VersionFingerprint
	if err := store.GetJSON(ctx, g.store, store.KeyVersionFingerprint(executionID), &captured); err != nil {
		if store.IsNotFound(err) {
			return CheckResult{Drift: model.DriftNone}, nil
		}
		return CheckResult{}, err
	}

	orchestratorChanged := captured.OrchestratorVersionID != currentOrchestratorVersionID

	worst := model.DriftNone
	var changedTools []string

	for name, oldSchema := range captured.ToolSchemas {
		newSchema, stillExists := currentSchemas[name]
		if !stillExists {
			worst = worsen(worst, model.DriftBreaking)
			changedTools = append(changedTools, name)
			continue
		}
		if hashSchema(newSchema) == hashSchema(oldSchema) {
			continue
		}
		drift := classifySchemaDrift(oldSchema, newSchema)
		if drift != model.DriftNone {
			changedTools = append(changedTools, name)
		}
		worst = worsen(worst, drift)
	}

	result := CheckResult{
		Drift:               worst,
		OrchestratorChanged: orchestratorChanged,
		ChangedTools:        changedTools,
		RequiresReplan:      orchestratorChanged || worst == model.DriftBreaking || worst == model.DriftMajor,
	}
	return result, nil
}

// worsen returns the more severe of two drift classes.
func worsen(a, b model.DriftClass) model.DriftClass {
	rank := map[model.DriftClass]int{
		model.DriftNone:     0,
		model.DriftMinor:    1,
		model.DriftMajor:    2,
		model.DriftBreaking: 3,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// schema is the minimal JSON-Schema shape the classifier inspects:
// property names and which ones are required.
type schema struct {
	Properties map[string]json.RawMessage `json:"properties"`
	Required   []string                   `json:"required"`
}

// classifySchemaDrift compares two tool parameter schemas per spec §4.12:
// a removed field is breaking, a newly required field is major, and a
// purely additive optional field is minor. Anything the minimal shape
// can't parse is treated as breaking (fail safe: force replanning rather
// than silently trusting a shape we can't verify).
func classifySchemaDrift(oldRaw, newRaw json.RawMessage) model.DriftClass {
	var oldSchema, newSchema schema
	if err := json.Unmarshal(oldRaw, &oldSchema); err != nil {
		return model.DriftBreaking
	}
	if err := json.Unmarshal(newRaw, &newSchema); err != nil {
		return model.DriftBreaking
	}

	oldRequired := toSet(oldSchema.Required)
	newRequired := toSet(newSchema.Required)

	for field := range oldSchema.Properties {
		if _, ok := newSchema.Properties[field]; !ok {
			return model.DriftBreaking
		}
	}

	worst := model.DriftNone
	for field := range newSchema.Properties {
		_, existedBefore := oldSchema.Properties[field]
		if !existedBefore {
			if newRequired[field] {
				worst = worsen(worst, model.DriftMajor)
			} else {
				worst = worsen(worst, model.DriftMinor)
			}
			continue
		}
		if !oldRequired[field] && newRequired[field] {
			worst = worsen(worst, model.DriftMajor)
		}
	}

	return worst
}

func toSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
