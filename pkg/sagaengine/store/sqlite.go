package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo
)

// SQLiteStore persists engine state to a local SQLite file. Suitable for
// single-process development and for deployments that don't need a shared
// Redis instance. Not suitable for multi-instance production use, since
// locks and idempotency markers must be visible across all instances.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path, or
// ":memory:" for an ephemeral store. The file is created with 0600
// permissions before sql.Open touches it, since saga state can carry
// sensitive parameters.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if createErr == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Warn("failed to close state store file after creation",
						slog.String("path", path), slog.String("error", closeErr.Error()))
				}
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key     TEXT PRIMARY KEY,
			value   BLOB NOT NULL,
			expires INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS zsets (
			key    TEXT NOT NULL,
			member TEXT NOT NULL,
			score  REAL NOT NULL,
			PRIMARY KEY (key, member)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create zsets table: %w", err)
	}

	if path != ":memory:" {
		if err := os.Chmod(path, 0600); err != nil {
			slog.Warn("failed to set restrictive permissions on state store file",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	return &SQLiteStore{db: db}, nil
}

func expiresAtUnix(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixMilli()
}

func isExpired(expires int64) bool {
	return expires != 0 && time.Now().UnixMilli() > expires
}

func (s *SQLiteStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("state store closed")
	}

	var value []byte
	var expires int64
	err := s.db.QueryRow(`SELECT value, expires FROM kv WHERE key = ?`, key).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if isExpired(expires) {
		_, _ = s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
		return nil, notFound(key)
	}
	return value, nil
}

func (s *SQLiteStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store closed")
	}

	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, expires) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires = excluded.expires
	`, key, value, expiresAtUnix(ttl))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store closed")
	}

	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	if _, err := s.db.Exec(`DELETE FROM zsets WHERE key = ?`, key); err != nil {
		return fmt.Errorf("del zset %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("state store closed")
	}

	var expires int64
	err := s.db.QueryRow(`SELECT expires FROM kv WHERE key = ?`, key).Scan(&expires)
	switch {
	case err == sql.ErrNoRows:
		// fall through to insert
	case err != nil:
		return false, fmt.Errorf("setIfAbsent %s: %w", key, err)
	case !isExpired(expires):
		return false, nil
	}

	_, err = s.db.Exec(`
		INSERT INTO kv (key, value, expires) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires = excluded.expires
	`, key, value, expiresAtUnix(ttl))
	if err != nil {
		return false, fmt.Errorf("setIfAbsent %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("state store closed")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	defer tx.Rollback()

	var current int64
	var raw []byte
	err = tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if err == nil {
		fmt.Sscanf(string(raw), "%d", &current)
	}
	current++

	_, err = tx.Exec(`
		INSERT INTO kv (key, value, expires) VALUES (?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, []byte(fmt.Sprintf("%d", current)))
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return current, nil
}

func (s *SQLiteStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store closed")
	}

	res, err := s.db.Exec(`UPDATE kv SET expires = ? WHERE key = ?`, expiresAtUnix(ttl), key)
	if err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound(key)
	}
	return nil
}

func (s *SQLiteStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store closed")
	}

	_, err := s.db.Exec(`
		INSERT INTO zsets (key, member, score) VALUES (?, ?, ?)
		ON CONFLICT(key, member) DO UPDATE SET score = excluded.score
	`, key, member, score)
	if err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("state store closed")
	}

	rows, err := s.db.Query(`SELECT member FROM zsets WHERE key = ? ORDER BY score ASC, member ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("zrange %s: %w", key, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("zrange %s: %w", key, err)
		}
		members = append(members, m)
	}

	lo, hi, ok := sliceBounds(len(members), start, stop)
	if !ok {
		return []string{}, nil
	}
	return members[lo:hi], nil
}

func (s *SQLiteStore) ZRem(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store closed")
	}

	if _, err := s.db.Exec(`DELETE FROM zsets WHERE key = ? AND member = ?`, key, member); err != nil {
		return fmt.Errorf("zrem %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store closed")
	}

	if _, err := s.db.Exec(`DELETE FROM zsets WHERE key = ? AND score >= ? AND score <= ?`, key, min, max); err != nil {
		return fmt.Errorf("zremrangebyscore %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Scan(_ context.Context, cursor uint64, prefix string, count int64) ([]string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, fmt.Errorf("state store closed")
	}

	rows, err := s.db.Query(`
		SELECT key, expires FROM kv WHERE key LIKE ? || '%' ORDER BY key
	`, prefix)
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var k string
		var expires int64
		if err := rows.Scan(&k, &expires); err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", prefix, err)
		}
		if !isExpired(expires) {
			all = append(all, k)
		}
	}

	if cursor >= uint64(len(all)) {
		return []string{}, 0, nil
	}
	end := cursor + uint64(count)
	next := end
	if end >= uint64(len(all)) {
		end = uint64(len(all))
		next = 0
	}
	return all[cursor:end], next, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
