package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineDefaults(t *testing.T) {
	e := config.NewEngine(config.New(nil))

	assert.Equal(t, "", e.InternalSystemKey())
	assert.Equal(t, 300_000*time.Millisecond, e.ReconcileMinInactive())
	assert.Equal(t, 3, e.ReconcileMaxRecoveryAttempts())
	assert.Equal(t, 30*time.Second, e.HeartbeatDelay())
	assert.Equal(t, 8500*time.Millisecond, e.StepTimeout())
	assert.Equal(t, 900*time.Second, e.ConfirmationTTL())
	assert.Equal(t, 30*time.Second, e.LockTTL())
	assert.Equal(t, 5*time.Second, e.LockGrace())
	assert.False(t, e.Production())
}

func TestEngineOverrides(t *testing.T) {
	e := config.NewEngine(config.New(map[string]any{
		"step.timeoutMs":    5000,
		"heartbeat.delaySec": "45s",
		"production":        true,
	}))

	assert.Equal(t, 5000*time.Millisecond, e.StepTimeout())
	assert.Equal(t, 45*time.Second, e.HeartbeatDelay())
	assert.True(t, e.Production())
}

func TestValidateProduction(t *testing.T) {
	t.Run("rejects short internal system key", func(t *testing.T) {
		c := config.New(map[string]any{"internalSystemKey": "too-short"})
		require.Error(t, c.ValidateProduction())
	})

	t.Run("rejects missing queue credentials", func(t *testing.T) {
		c := config.New(map[string]any{
			"internalSystemKey": "01234567890123456789012345678901",
		})
		require.Error(t, c.ValidateProduction())
	})

	t.Run("accepts complete production config", func(t *testing.T) {
		c := config.New(map[string]any{
			"internalSystemKey":       "01234567890123456789012345678901",
			"queue.token":             "tok",
			"queue.signingKeyCurrent": "sig",
		})
		require.NoError(t, c.ValidateProduction())
	})
}

func TestFromFileMergesEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("step.timeoutMs: 6000\n"), 0o600))

	t.Setenv("SAGAENGINE_INTERNAL_SYSTEM_KEY", "01234567890123456789012345678901")

	cfg, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "01234567890123456789012345678901", cfg.String("internalSystemKey", ""))
}
