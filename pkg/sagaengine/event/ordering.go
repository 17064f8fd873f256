package event

import (
	"sync"
	"time"
)

// OrderConfig tunes the gap-tolerant reorder buffer used when a
// subscription requests enableOrdering=true.
type OrderConfig struct {
	// MaxWait is how long an out-of-order gap may persist before the
	// buffer gives up waiting and releases in sequence order regardless
	// (default 5s, spec §4.4).
	MaxWait time.Duration
	// MaxBufferSize caps how many held-back events accumulate before the
	// same forced release happens (default 100).
	MaxBufferSize int
}

// DefaultOrderConfig matches spec §4.4's defaults.
var DefaultOrderConfig = OrderConfig{
	MaxWait:       5 * time.Second,
	MaxBufferSize: 100,
}

// OnGap is invoked when the buffer force-releases past a persistent gap.
type OnGap func(scope string, expectedSeq, releasedSeq uint64)

// OrderedBuffer releases events for one scope (e.g. a channel) in strictly
// increasing sequence order, holding out-of-order arrivals in a small map
// until the gap fills, a size cap is hit, or MaxWait elapses.
type OrderedBuffer struct {
	cfg      OrderConfig
	onGap    OnGap
	mu       sync.Mutex
	lastSeq  map[string]uint64
	pending  map[string]map[uint64]Event
	firstSeen map[string]time.Time
}

// NewOrderedBuffer builds a buffer with cfg (zero-valued fields fall back
// to DefaultOrderConfig).
func NewOrderedBuffer(cfg OrderConfig, onGap OnGap) *OrderedBuffer {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultOrderConfig.MaxWait
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultOrderConfig.MaxBufferSize
	}
	return &OrderedBuffer{
		cfg:       cfg,
		onGap:     onGap,
		lastSeq:   make(map[string]uint64),
		pending:   make(map[string]map[uint64]Event),
		firstSeen: make(map[string]time.Time),
	}
}

// Admit offers evt for scope and returns the events now eligible for
// delivery in sequence order. Duplicates (seq <= last released) are
// discarded (returns nil, false).
func (b *OrderedBuffer) Admit(scope string, evt Event) ([]Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, seen := b.lastSeq[scope]
	if seen && evt.Seq <= last {
		return nil, false // duplicate
	}

	bucket, ok := b.pending[scope]
	if !ok {
		bucket = make(map[uint64]Event)
		b.pending[scope] = bucket
	}
	bucket[evt.Seq] = evt
	if _, ok := b.firstSeen[scope]; !ok {
		b.firstSeen[scope] = time.Now()
	}

	released := b.drain(scope, last, seen)
	if len(released) == 0 && b.shouldForceRelease(scope) {
		released = b.forceRelease(scope, last, seen)
	}
	if len(bucket) == 0 {
		delete(b.firstSeen, scope)
	}
	return released, len(released) > 0
}

// drain releases the contiguous run starting at last+1 (seq 1 if nothing
// has been released for this scope yet).
func (b *OrderedBuffer) drain(scope string, last uint64, seen bool) []Event {
	bucket := b.pending[scope]
	var out []Event
	next := last + 1
	if !seen {
		// Nothing released yet: nothing goes out until seq 1 is pending.
		if _, ok := bucket[next]; !ok {
			return nil
		}
	}
	for {
		evt, ok := bucket[next]
		if !ok {
			break
		}
		out = append(out, evt)
		delete(bucket, next)
		b.lastSeq[scope] = next
		next++
	}
	return out
}

func (b *OrderedBuffer) shouldForceRelease(scope string) bool {
	bucket := b.pending[scope]
	if len(bucket) >= b.cfg.MaxBufferSize {
		return true
	}
	if first, ok := b.firstSeen[scope]; ok && time.Since(first) > b.cfg.MaxWait {
		return true
	}
	return false
}

// forceRelease releases every buffered event for scope in sequence order,
// regardless of gaps, recording the jump via onGap.
func (b *OrderedBuffer) forceRelease(scope string, last uint64, seen bool) []Event {
	bucket := b.pending[scope]
	if len(bucket) == 0 {
		return nil
	}

	seqs := make([]uint64, 0, len(bucket))
	for seq := range bucket {
		seqs = append(seqs, seq)
	}
	sortUint64s(seqs)

	expected := last + 1
	out := make([]Event, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, bucket[seq])
		delete(bucket, seq)
		b.lastSeq[scope] = seq
	}
	if b.onGap != nil && (!seen || seqs[0] != expected) {
		b.onGap(scope, expected, seqs[0])
	}
	delete(b.firstSeen, scope)
	return out
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
