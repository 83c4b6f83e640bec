package bus

import (
	"context"
	"sort"
	"sync"
)

// MemoryBus is the in-process Bus implementation. Multiple server
// instances inside one process (typically tests and single-binary
// multi-node setups) share a MemoryBus to observe a single logical
// conversation. Delivery is loopback: publishers also receive their own
// messages, mirroring Redis pub/sub, so echo suppression gets exercised
// the same way on both implementations.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Message)
	closed bool
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]func(Message))}
}

// Publish delivers the message to every subscriber synchronously in
// subscription order. Handlers hand off to their own locking, so a
// synchronous walk keeps delivery deterministic for tests.
func (b *MemoryBus) Publish(ctx context.Context, m Message) error {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	handlers := make([]func(Message), 0, len(b.subs))
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(m)
	}
	return nil
}

// Subscribe registers a handler. The returned function removes it;
// cancelling ctx does the same.
func (b *MemoryBus) Subscribe(ctx context.Context, wg *sync.WaitGroup, handler func(Message)) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	remove := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}

	if ctx != nil && ctx.Done() != nil {
		if wg != nil {
			wg.Add(1)
		}
		go func() {
			if wg != nil {
				defer wg.Done()
			}
			<-ctx.Done()
			remove()
		}()
	}

	return remove
}

// Ping reports whether the bus accepts messages.
func (b *MemoryBus) Ping(ctx context.Context) error {
	return nil
}

// Close drops all subscribers and rejects further publishes.
func (b *MemoryBus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]func(Message))
	return nil
}
