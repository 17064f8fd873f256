package event

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	bus := NewBus(Config{SigningKeyCurrent: "k"})
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	bus.Subscribe("saga.exec-1", func(evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt.Name)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), "saga.exec-1", "StepCompleted", map[string]any{"stepId": "s1"}, PublishOptions{}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"StepCompleted"}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(Config{SigningKeyCurrent: "k"})
	defer bus.Close()

	count := 0
	sub := bus.Subscribe("ch", func(evt Event) error {
		count++
		return nil
	})
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), "ch", "x", nil, PublishOptions{}))
	require.Equal(t, 0, count)
}

func TestOrderedDeliveryInSequence(t *testing.T) {
	bus := NewBus(Config{SigningKeyCurrent: "k"})
	defer bus.Close()

	var mu sync.Mutex
	var seqs []uint64
	bus.Subscribe("ch", func(evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, evt.Seq)
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), "ch", "e", i, PublishOptions{EnableOrdering: true}))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

func TestPublishAfterCloseErrors(t *testing.T) {
	bus := NewBus(Config{SigningKeyCurrent: "k"})
	require.NoError(t, bus.Close())
	err := bus.Publish(context.Background(), "ch", "x", nil, PublishOptions{})
	require.Error(t, err)
}
