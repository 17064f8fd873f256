package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOrderedBufferReleasesInOrderWhenNoGaps(t *testing.T) {
	buf := NewOrderedBuffer(OrderConfig{}, nil)

	released, ok := buf.Admit("ch", Event{Seq: 1})
	require.True(t, ok)
	require.Len(t, released, 1)

	released, ok = buf.Admit("ch", Event{Seq: 2})
	require.True(t, ok)
	require.Equal(t, uint64(2), released[0].Seq)
}

func TestOrderedBufferHoldsOutOfOrderUntilGapFills(t *testing.T) {
	buf := NewOrderedBuffer(OrderConfig{}, nil)

	_, ok := buf.Admit("ch", Event{Seq: 2})
	require.False(t, ok, "seq 2 should be held waiting for seq 1")

	released, ok := buf.Admit("ch", Event{Seq: 1})
	require.True(t, ok)
	require.Len(t, released, 2)
	require.Equal(t, uint64(1), released[0].Seq)
	require.Equal(t, uint64(2), released[1].Seq)
}

func TestOrderedBufferDiscardsDuplicates(t *testing.T) {
	buf := NewOrderedBuffer(OrderConfig{}, nil)

	_, ok := buf.Admit("ch", Event{Seq: 1})
	require.True(t, ok)

	_, ok = buf.Admit("ch", Event{Seq: 1})
	require.False(t, ok, "duplicate seq must be discarded")
}

func TestOrderedBufferForceReleasesOnMaxBufferSize(t *testing.T) {
	buf := NewOrderedBuffer(OrderConfig{MaxBufferSize: 2, MaxWait: time.Hour}, nil)

	_, ok := buf.Admit("ch", Event{Seq: 5})
	require.False(t, ok)
	released, ok := buf.Admit("ch", Event{Seq: 9})
	require.True(t, ok, "expected force release once buffer size cap hit")
	require.Len(t, released, 2)
}

func TestOrderedBufferForceReleasesAfterMaxWait(t *testing.T) {
	var gapScope string
	buf := NewOrderedBuffer(OrderConfig{MaxWait: 10 * time.Millisecond, MaxBufferSize: 100}, func(scope string, expected, releasedSeq uint64) {
		gapScope = scope
	})

	_, ok := buf.Admit("ch", Event{Seq: 7})
	require.False(t, ok)

	time.Sleep(30 * time.Millisecond)

	released, ok := buf.Admit("ch", Event{Seq: 8})
	require.True(t, ok)
	require.NotEmpty(t, released)
	require.Equal(t, "ch", gapScope)
}
