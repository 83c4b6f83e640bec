package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishDeliversToAllSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer func() { _ = b.Close() }()

	var got1, got2 []Message
	unsub1 := b.Subscribe(nil, nil, func(m Message) { got1 = append(got1, m) })
	unsub2 := b.Subscribe(nil, nil, func(m Message) { got2 = append(got2, m) })
	defer unsub1()
	defer unsub2()

	msg := Message{ServerID: "node-a", MessageID: "m1", Timestamp: 1, Payload: json.RawMessage(`{}`)}
	require.NoError(t, b.Publish(context.Background(), msg))

	require.Len(t, got1, 1)
	require.Len(t, got2, 1)
	assert.Equal(t, "m1", got1[0].MessageID)
	assert.Equal(t, "node-a", got2[0].ServerID)
}

func TestMemoryBus_DeliveryInSubscriptionOrder(t *testing.T) {
	b := NewMemoryBus()
	defer func() { _ = b.Close() }()

	var order []string
	b.Subscribe(nil, nil, func(Message) { order = append(order, "first") })
	b.Subscribe(nil, nil, func(Message) { order = append(order, "second") })
	b.Subscribe(nil, nil, func(Message) { order = append(order, "third") })

	require.NoError(t, b.Publish(context.Background(), Message{MessageID: "m1"}))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer func() { _ = b.Close() }()

	count := 0
	unsub := b.Subscribe(nil, nil, func(Message) { count++ })

	require.NoError(t, b.Publish(context.Background(), Message{MessageID: "m1"}))
	unsub()
	require.NoError(t, b.Publish(context.Background(), Message{MessageID: "m2"}))

	assert.Equal(t, 1, count)
}

func TestMemoryBus_ContextCancelUnsubscribes(t *testing.T) {
	b := NewMemoryBus()
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	count := 0
	b.Subscribe(ctx, &wg, func(Message) { count++ })

	cancel()
	wg.Wait()

	require.NoError(t, b.Publish(context.Background(), Message{MessageID: "m1"}))
	assert.Equal(t, 0, count)
}

func TestMemoryBus_CloseDropsSubscribers(t *testing.T) {
	b := NewMemoryBus()

	count := 0
	b.Subscribe(nil, nil, func(Message) { count++ })

	require.NoError(t, b.Close())
	require.NoError(t, b.Publish(context.Background(), Message{MessageID: "m1"}))
	assert.Equal(t, 0, count)
}

func TestMemoryBus_NilReceiverIsNoop(t *testing.T) {
	var b *MemoryBus
	assert.NoError(t, b.Publish(context.Background(), Message{}))
	assert.NotPanics(t, func() { b.Subscribe(nil, nil, func(Message) {})() })
	assert.NoError(t, b.Close())
}

func TestMemoryBus_Ping(t *testing.T) {
	b := NewMemoryBus()
	defer func() { _ = b.Close() }()
	assert.NoError(t, b.Ping(context.Background()))
}
