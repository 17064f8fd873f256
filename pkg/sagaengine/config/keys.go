package config

import "time"

// Engine collects the typed, defaulted accessors for every configuration
// key spec §6 enumerates. It is a thin, read-only view over a Config.
type Engine struct {
	c Config
}

// NewEngine wraps a Config with the saga engine's typed key accessors.
func NewEngine(c Config) Engine { return Engine{c: c} }

// InternalSystemKey authenticates internal callers of /engine/execute-step
// via the x-internal-system-key header. Required (>=32 chars) in production.
func (e Engine) InternalSystemKey() string { return e.c.String("internalSystemKey", "") }

// QueueToken authenticates outbound calls to the queue driver's transport.
func (e Engine) QueueToken() string { return e.c.String("queue.token", "") }

// QueueSigningKeyCurrent and QueueSigningKeyNext support signing-key
// rotation: envelopes are signed with Current and verified against either.
func (e Engine) QueueSigningKeyCurrent() string { return e.c.String("queue.signingKeyCurrent", "") }
func (e Engine) QueueSigningKeyNext() string    { return e.c.String("queue.signingKeyNext", "") }

// EventBusAPIKey authenticates event bus publish calls.
func (e Engine) EventBusAPIKey() string { return e.c.String("eventBus.apiKey", "") }

// StateStoreURL and StateStoreToken configure the production (Redis) state
// store backend. Empty URL selects the local SQLite/in-memory backend.
func (e Engine) StateStoreURL() string   { return e.c.String("stateStore.url", "") }
func (e Engine) StateStoreToken() string { return e.c.String("stateStore.token", "") }

// ReconcileMinInactive is how long an execution must sit without activity
// before the reconciler (C11) considers it a zombie. Default 300000ms.
func (e Engine) ReconcileMinInactive() time.Duration {
	return e.c.DurationMillis("reconcile.minInactiveMs", 300_000*time.Millisecond)
}

// ReconcileMaxRecoveryAttempts bounds recovery attempts before escalation.
func (e Engine) ReconcileMaxRecoveryAttempts() int {
	return e.c.Int("reconcile.maxRecoveryAttempts", 3)
}

// HeartbeatDelay is the delay before a scheduled heartbeat check fires
// after a yield. Default 30s.
func (e Engine) HeartbeatDelay() time.Duration {
	return e.c.Duration("heartbeat.delaySec", 30*time.Second)
}

// StepTimeout bounds a single tool call. Default 8500ms.
func (e Engine) StepTimeout() time.Duration {
	return e.c.DurationMillis("step.timeoutMs", 8500*time.Millisecond)
}

// ConfirmationTTL bounds how long a confirmation token remains valid.
// Default 900s (15 minutes).
func (e Engine) ConfirmationTTL() time.Duration {
	return e.c.Duration("confirmation.ttlSec", 900*time.Second)
}

// LockTTL and LockGrace bound the execution lock's lease and the extra
// grace period before a lock is considered stale. Defaults 30s and 5s.
func (e Engine) LockTTL() time.Duration   { return e.c.Duration("lock.ttlSec", 30*time.Second) }
func (e Engine) LockGrace() time.Duration { return e.c.Duration("lock.graceSec", 5*time.Second) }

// Production reports whether the engine is configured for a production
// environment (affects the fatal-misconfiguration checks in loader.go and
// whether direct-trigger loopback is permitted for the queue driver).
func (e Engine) Production() bool { return e.c.Bool("production", false) }
