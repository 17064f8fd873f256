// Package lock implements the distributed, ownership-tracked lock (C2)
// guarding mutual exclusion on an execution, plus the separate step
// idempotency marker used to detect at-most-once step attempts.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/sagaengine/pkg/sagaengine/model"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
)

// DefaultTTL and DefaultGrace are the fallback lock lifetime and stale
// recovery grace period when the caller doesn't override them (spec §6
// lock.ttlSec / lock.graceSec defaults).
const (
	DefaultTTL   = 30 * time.Second
	DefaultGrace = 5 * time.Second

	// stepMarkerTTL is long because the marker is never explicitly released;
	// it exists purely to prove a step index was attempted within one
	// execution's lifetime.
	stepMarkerTTL = time.Hour
)

// Service acquires and releases execution-level locks and records
// step-attempt idempotency markers.
type Service struct {
	store  store.Store
	logger *slog.Logger
	ttl    time.Duration
	grace  time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithTTL(ttl time.Duration) Option   { return func(s *Service) { s.ttl = ttl } }
func WithGrace(grace time.Duration) Option { return func(s *Service) { s.grace = grace } }
func WithLogger(l *slog.Logger) Option   { return func(s *Service) { s.logger = l } }

// New builds a lock Service over the given state store.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		logger: slog.Default(),
		ttl:    DefaultTTL,
		grace:  DefaultGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire attempts to take ownership of key. On contention it checks
// whether the current holder is stale (acquiredAt+ttl+grace < now); if so
// it force-releases ("stale recovery") and retries once before giving up.
func (s *Service) Acquire(ctx context.Context, key, operation string) (*model.Lock, error) {
	lock, ok, err := s.tryAcquire(ctx, key, operation)
	if err != nil {
		return nil, err
	}
	if ok {
		return lock, nil
	}

	current, err := s.read(ctx, key)
	if err != nil && !store.IsNotFound(err) {
		return nil, err
	}
	if current != nil && current.Stale(time.Now(), s.grace) {
		s.logger.Warn("stale lock recovery",
			slog.String("key", key), slog.String("previousOwner", current.Owner))
		if delErr := s.store.Del(ctx, key); delErr != nil {
			return nil, delErr
		}
		lock, ok, err = s.tryAcquire(ctx, key, operation)
		if err != nil {
			return nil, err
		}
		if ok {
			return lock, nil
		}
	}
	return nil, nil
}

func (s *Service) tryAcquire(ctx context.Context, key, operation string) (*model.Lock, bool, error) {
	l := &model.Lock{
		Key:        key,
		Owner:      uuid.NewString(),
		AcquiredAt: time.Now(),
		TTLSec:     int(s.ttl / time.Second),
		Operation:  operation,
	}
	ok, err := store.SetIfAbsentJSON(ctx, s.store, key, l, s.ttl+s.grace)
	if err != nil {
		return nil, false, err
	}
	return l, ok, nil
}

func (s *Service) read(ctx context.Context, key string) (*model.Lock, error) {
	var l model.Lock
	if err := store.GetJSON(ctx, s.store, key, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Release deletes the lock only if owner matches the current holder
// (compare-and-delete). A mismatched owner is a no-op, logged as a warning,
// since it means the lock was already reclaimed by stale recovery.
func (s *Service) Release(ctx context.Context, l *model.Lock) error {
	current, err := s.read(ctx, l.Key)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	if current.Owner != l.Owner {
		s.logger.Warn("lock release owner mismatch, ignoring",
			slog.String("key", l.Key), slog.String("expected", l.Owner), slog.String("actual", current.Owner))
		return nil
	}
	return s.store.Del(ctx, l.Key)
}

// IsLocked reports whether key currently holds an unexpired lock.
func (s *Service) IsLocked(ctx context.Context, key string) (bool, error) {
	_, err := s.read(ctx, key)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ErrAlreadyAttempted is returned by MarkStepAttempted when the step index
// was already marked, so the caller can treat it as an idempotent no-op.
var ErrAlreadyAttempted = errors.New("step already attempted")

// MarkStepAttempted sets the one-shot, never-released marker proving
// executionID's stepIndex was attempted. Returns ErrAlreadyAttempted if the
// marker was already present, matching invariant 6: at most one marker per
// (executionId, stepIndex) per real attempt.
func (s *Service) MarkStepAttempted(ctx context.Context, executionID string, stepIndex int) error {
	key := store.KeyStepDone(executionID, stepIndex)
	ok, err := s.store.SetIfAbsent(ctx, key, []byte("1"), stepMarkerTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyAttempted
	}
	return nil
}

// StepAttempted reports whether executionID's stepIndex already has a
// marker, without setting one.
func (s *Service) StepAttempted(ctx context.Context, executionID string, stepIndex int) (bool, error) {
	key := store.KeyStepDone(executionID, stepIndex)
	_, err := s.store.Get(ctx, key)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ExecutionLockKey returns the key schema's execution lock key, exported so
// callers don't need to import the store package just to name it.
func ExecutionLockKey(executionID string) string { return store.KeyExecLock(executionID) }
