package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// MemoryStore is an in-process Store implementation for tests and
// single-instance development, mirroring the key-value/sorted-set
// semantics of the Redis backend without a network round trip.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]entry
	zsets  map[string]map[string]float64
	closed bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]entry),
		zsets: make(map[string]map[string]float64),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok || e.expired(time.Now()) {
		delete(s.data, key)
		return nil, notFound(key)
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = s.newEntry(value, ttl)
	return nil
}

func (s *MemoryStore) newEntry(value []byte, ttl time.Duration) entry {
	v := make([]byte, len(value))
	copy(v, value)
	e := entry{value: v}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	return e
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	delete(s.zsets, key)
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.data[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	s.data[key] = s.newEntry(value, ttl)
	return true, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if e, ok := s.data[key]; ok && !e.expired(time.Now()) {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err == nil {
			n = parsed
		}
	}
	n++
	s.data[key] = entry{value: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return notFound(key)
	}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	} else {
		e.expires = time.Time{}
	}
	s.data[key] = e
	return nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.zsets[key]
	if !ok {
		set = make(map[string]float64)
		s.zsets[key] = set
	}
	set[member] = score
	return nil
}

func (s *MemoryStore) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := sortedMembers(s.zsets[key])
	lo, hi, ok := sliceBounds(len(members), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo)
	copy(out, members[lo:hi])
	return out, nil
}

func (s *MemoryStore) ZRem(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.zsets[key], member)
	return nil
}

func (s *MemoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.zsets[key]
	for member, score := range set {
		if score >= min && score <= max {
			delete(set, member)
		}
	}
	return nil
}

func (s *MemoryStore) Scan(_ context.Context, cursor uint64, prefix string, count int64) ([]string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			all = append(all, k)
		}
	}
	sort.Strings(all)

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

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func sortedMembers(set map[string]float64) []string {
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := set[members[i]], set[members[j]]
		if si == sj {
			return members[i] < members[j]
		}
		return si < sj
	})
	return members
}

// sliceBounds converts Redis-style (possibly negative) ZRANGE indices into
// Go slice bounds, reporting ok=false when the range is empty.
func sliceBounds(n int, start, stop int64) (lo, hi int, ok bool) {
	if n == 0 {
		return 0, 0, false
	}
	norm := func(i int64) int {
		if i < 0 {
			i += int64(n)
		}
		if i < 0 {
			i = 0
		}
		if i > int64(n) {
			i = int64(n)
		}
		return int(i)
	}
	lo = norm(start)
	hi = norm(stop) + 1
	if hi > n {
		hi = n
	}
	if lo >= hi {
		return 0, 0, false
	}
	return lo, hi, true
}
