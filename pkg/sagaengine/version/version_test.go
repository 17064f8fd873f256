package version

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/model"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
)

func schemaJSON(t *testing.T, properties []string, required []string) json.RawMessage {
	t.Helper()
	props := map[string]any{}
	for _, p := range properties {
		props[p] = map[string]any{"type": "string"}
	}
	data, err := json.Marshal(map[string]any{"properties": props, "required": required})
	require.NoError(t, err)
	return data
}

func TestCheckOnResumeNoDriftWhenUnchanged(t *testing.T) {
	st := store.NewMemoryStore()
	g := New(st)
	schemas := map[string]json.RawMessage{
		"charge_card": schemaJSON(t, []string{"amount"}, []string{"amount"}),
	}
	require.NoError(t, g.Capture(context.Background(), "exec-1", "v1", schemas))

	result, err := g.CheckOnResume(context.Background(), "exec-1", "v1", schemas)
	require.NoError(t, err)
	require.Equal(t, model.DriftNone, result.Drift)
	require.False(t, result.RequiresReplan)
}

func TestCheckOnResumeMissingToolIsBreaking(t *testing.T) {
	st := store.NewMemoryStore()
	g := New(st)
	schemas := map[string]json.RawMessage{
		"charge_card": schemaJSON(t, []string{"amount"}, []string{"amount"}),
	}
	require.NoError(t, g.Capture(context.Background(), "exec-1", "v1", schemas))

	result, err := g.CheckOnResume(context.Background(), "exec-1", "v1", map[string]json.RawMessage{})
	require.NoError(t, err)
	require.Equal(t, model.DriftBreaking, result.Drift)
	require.True(t, result.RequiresReplan)
}

func TestCheckOnResumeRemovedFieldIsBreaking(t *testing.T) {
	st := store.NewMemoryStore()
	g := New(st)
	old := map[string]json.RawMessage{
		"charge_card": schemaJSON(t, []string{"amount", "currency"}, []string{"amount"}),
	}
	require.NoError(t, g.Capture(context.Background(), "exec-1", "v1", old))

	newSchemas := map[string]json.RawMessage{
		"charge_card": schemaJSON(t, []string{"amount"}, []string{"amount"}),
	}
	result, err := g.CheckOnResume(context.Background(), "exec-1", "v1", newSchemas)
	require.NoError(t, err)
	require.Equal(t, model.DriftBreaking, result.Drift)
}

func TestCheckOnResumeNewRequiredFieldIsMajor(t *testing.T) {
	st := store.NewMemoryStore()
	g := New(st)
	old := map[string]json.RawMessage{
		"charge_card": schemaJSON(t, []string{"amount"}, []string{"amount"}),
	}
	require.NoError(t, g.Capture(context.Background(), "exec-1", "v1", old))

	newSchemas := map[string]json.RawMessage{
		"charge_card": schemaJSON(t, []string{"amount", "currency"}, []string{"amount", "currency"}),
	}
	result, err := g.CheckOnResume(context.Background(), "exec-1", "v1", newSchemas)
	require.NoError(t, err)
	require.Equal(t, model.DriftMajor, result.Drift)
	require.True(t, result.RequiresReplan)
}

func TestCheckOnResumeAdditiveOptionalFieldIsMinor(t *testing.T) {
	st := store.NewMemoryStore()
	g := New(st)
	old := map[string]json.RawMessage{
		"charge_card": schemaJSON(t, []string{"amount"}, []string{"amount"}),
	}
	require.NoError(t, g.Capture(context.Background(), "exec-1", "v1", old))

	newSchemas := map[string]json.RawMessage{
		"charge_card": schemaJSON(t, []string{"amount", "memo"}, []string{"amount"}),
	}
	result, err := g.CheckOnResume(context.Background(), "exec-1", "v1", newSchemas)
	require.NoError(t, err)
	require.Equal(t, model.DriftMinor, result.Drift)
	require.False(t, result.RequiresReplan)
}

func TestCheckOnResumeOrchestratorChangeForcesReplan(t *testing.T) {
	st := store.NewMemoryStore()
	g := New(st)
	schemas := map[string]json.RawMessage{
		"charge_card": schemaJSON(t, []string{"amount"}, []string{"amount"}),
	}
	require.NoError(t, g.Capture(context.Background(), "exec-1", "v1", schemas))

	result, err := g.CheckOnResume(context.Background(), "exec-1", "v2", schemas)
	require.NoError(t, err)
	require.True(t, result.OrchestratorChanged)
	require.True(t, result.RequiresReplan)
}

func TestCheckOnResumeNoCaptureIsNoDrift(t *testing.T) {
	st := store.NewMemoryStore()
	g := New(st)
	result, err := g.CheckOnResume(context.Background(), "never-captured", "v1", nil)
	require.NoError(t, err)
	require.Equal(t, model.DriftNone, result.Drift)
}
