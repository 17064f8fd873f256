// Package store implements the durable key-value layer (C1) behind saga
// state, locks, idempotency markers, confirmation tokens, heartbeats, and
// the DLQ index. It exposes a small operation set — get/put/del,
// setIfAbsent, incr/expire, sorted-set ops, and a cursored scan — over the
// key schema every other component shares.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
)

// Store is the typed CRUD + TTL contract every backend (memory, SQLite,
// Redis) implements identically, so callers never know which one is behind
// the interface.
type Store interface {
	// Get returns the value at key, or a NotFoundError if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes key unconditionally. ttl <= 0 means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// SetIfAbsent is SET-NX-EX: writes key only if not already present (and
	// not expired), returning true if the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Incr atomically increments the integer stored at key (treating an
	// absent key as 0) and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets or refreshes a key's TTL without touching its value.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ZAdd adds member to the sorted set at key with the given score,
	// updating the score if member is already present.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRange returns members of the sorted set at key in ascending score
	// order, inclusive of start..stop (Redis-style indices; negative counts
	// from the end).
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ZRem removes member from the sorted set at key.
	ZRem(ctx context.Context, key string, member string) error

	// ZRemRangeByScore removes members scored within [min, max].
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// Scan returns up to count keys matching prefix starting at cursor,
	// along with the cursor to resume from (0 when exhausted).
	Scan(ctx context.Context, cursor uint64, prefix string, count int64) (keys []string, nextCursor uint64, err error)

	// Close releases any underlying resources (connections, file handles).
	Close() error
}

// notFound builds the NotFoundError every backend returns from Get for a
// missing or expired key.
func notFound(key string) error {
	return &sagaerrors.NotFoundError{Kind: "key", ID: key}
}

// IsNotFound reports whether err is (or wraps) a key-not-found condition.
func IsNotFound(err error) bool {
	var nf *sagaerrors.NotFoundError
	return errors.As(err, &nf)
}

// PutJSON marshals v and writes it to key via store.Put.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data, ttl)
}

// GetJSON reads key via store.Get and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// SetIfAbsentJSON marshals v and writes it only if key is absent.
func SetIfAbsentJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.SetIfAbsent(ctx, key, data, ttl)
}

// Key schema (spec §4.1) — every other component builds keys exclusively
// through these helpers so the schema lives in one place.
func KeyTask(executionID string) string { return "task:" + executionID }

func KeyExecLock(executionID string) string { return "exec:" + executionID + ":lock" }

func KeyStepDone(executionID string, index int) string {
	return fmt.Sprintf("exec:%s:step:%d:done", executionID, index)
}

func KeyConfirmationByToken(token string) string { return "confirmation:" + token }

func KeyConfirmationByExec(executionID string) string { return "confirmation:exec:" + executionID }

func KeyReplanMarker(executionID string) string { return "exec:" + executionID + ":replan" }

func KeyFailoverSnapshot(executionID string) string { return "exec:" + executionID + ":failover" }

func KeyDLQRecord(executionID string) string { return "dlq:saga:" + executionID }

const KeyDLQIndex = "dlq:index"

func KeyHeartbeat(executionID string) string { return "heartbeat:" + executionID }

func KeySequence(scope string) string { return "seq:" + scope }

func KeyVersionFingerprint(executionID string) string {
	return "schema_versioning:checkpoint:" + executionID
}
