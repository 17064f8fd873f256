package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
)

// RedisStore is the production Store backend: every instance of the engine
// sees the same locks, idempotency markers, and execution state through a
// shared Redis deployment. Wraps calls in a small circuit breaker so a
// degraded Redis doesn't pile up latency across every in-flight step.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	circuitOpenUntil    time.Time

	cbThreshold int
	cbCooldown  time.Duration
}

// RedisOption configures a RedisStore at construction.
type RedisOption func(*RedisStore)

// WithLogger overrides the default slog.Logger.
func WithLogger(l *slog.Logger) RedisOption {
	return func(s *RedisStore) { s.logger = l }
}

// WithCircuitBreaker sets the consecutive-failure threshold and cooldown
// before the breaker trips and starts fast-failing calls.
func WithCircuitBreaker(threshold int, cooldown time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.cbThreshold = threshold
		s.cbCooldown = cooldown
	}
}

// NewRedisStore connects to redisURL (a redis://... connection string) and
// verifies connectivity with a bounded ping.
func NewRedisStore(redisURL string, opts ...RedisOption) (*RedisStore, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	s := &RedisStore{
		client:      redis.NewClient(parsed),
		logger:      slog.Default(),
		cbThreshold: 5,
		cbCooldown:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return s, nil
}

// circuitOpen reports whether the breaker is currently tripped.
func (s *RedisStore) circuitOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.circuitOpenUntil)
}

func (s *RedisStore) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
}

func (s *RedisStore) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= s.cbThreshold {
		s.circuitOpenUntil = time.Now().Add(s.cbCooldown)
		s.logger.Warn("state store circuit breaker tripped",
			slog.Int("consecutiveFailures", s.consecutiveFailures),
			slog.Duration("cooldown", s.cbCooldown))
	}
}

// guard wraps a Redis call with the circuit breaker and surfaces
// StoreUnavailableError uniformly so callers never see a raw redis error.
func (s *RedisStore) guard(fn func() error) error {
	if s.circuitOpen() {
		return &sagaerrors.StoreUnavailableError{Cause: fmt.Errorf("circuit open")}
	}
	err := fn()
	if err != nil && err != redis.Nil {
		s.recordFailure()
		return &sagaerrors.StoreUnavailableError{Cause: err}
	}
	s.recordSuccess()
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.circuitOpen() {
		return nil, &sagaerrors.StoreUnavailableError{Cause: fmt.Errorf("circuit open")}
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.recordSuccess()
		return nil, notFound(key)
	}
	if err != nil {
		s.recordFailure()
		return nil, &sagaerrors.StoreUnavailableError{Cause: err}
	}
	s.recordSuccess()
	return val, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.guard(func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.guard(func() error {
		return s.client.Del(ctx, key).Err()
	})
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.circuitOpen() {
		return false, &sagaerrors.StoreUnavailableError{Cause: fmt.Errorf("circuit open")}
	}
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		s.recordFailure()
		return false, &sagaerrors.StoreUnavailableError{Cause: err}
	}
	s.recordSuccess()
	return ok, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	if s.circuitOpen() {
		return 0, &sagaerrors.StoreUnavailableError{Cause: fmt.Errorf("circuit open")}
	}
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.recordFailure()
		return 0, &sagaerrors.StoreUnavailableError{Cause: err}
	}
	s.recordSuccess()
	return n, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if s.circuitOpen() {
		return &sagaerrors.StoreUnavailableError{Cause: fmt.Errorf("circuit open")}
	}
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		s.recordFailure()
		return &sagaerrors.StoreUnavailableError{Cause: err}
	}
	s.recordSuccess()
	if !ok {
		return notFound(key)
	}
	return nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.guard(func() error {
		return s.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
	})
}

func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if s.circuitOpen() {
		return nil, &sagaerrors.StoreUnavailableError{Cause: fmt.Errorf("circuit open")}
	}
	members, err := s.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		s.recordFailure()
		return nil, &sagaerrors.StoreUnavailableError{Cause: err}
	}
	s.recordSuccess()
	return members, nil
}

func (s *RedisStore) ZRem(ctx context.Context, key string, member string) error {
	return s.guard(func() error {
		return s.client.ZRem(ctx, key, member).Err()
	})
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return s.guard(func() error {
		return s.client.ZRemRangeByScore(ctx, key, fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Err()
	})
}

func (s *RedisStore) Scan(ctx context.Context, cursor uint64, prefix string, count int64) ([]string, uint64, error) {
	if s.circuitOpen() {
		return nil, 0, &sagaerrors.StoreUnavailableError{Cause: fmt.Errorf("circuit open")}
	}
	keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", count).Result()
	if err != nil {
		s.recordFailure()
		return nil, 0, &sagaerrors.StoreUnavailableError{Cause: err}
	}
	s.recordSuccess()
	return keys, next, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLiteStore)(nil)
