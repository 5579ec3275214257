package messaging

import (
	"context"
	"sync"

	"github.com/plaenen/iamcore/pkg/domain"
)

// MemoryBus is an in-process EventBus. Used in tests and single-node
// deployments without NATS.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*memorySubscription
	closed bool
}

type memorySubscription struct {
	bus     *MemoryBus
	id      int
	filter  EventFilter
	handler EventHandler
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySubscription)}
}

// Publish delivers events synchronously to all matching subscribers.
// Handler errors are ignored: delivery is best effort, subscribers recover
// via their positions.
func (b *MemoryBus) Publish(_ context.Context, events []*domain.Event) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, event := range events {
		for _, sub := range subs {
			if sub.filter.Matches(event) {
				_ = sub.handler(event)
			}
		}
	}
	return nil
}

// Subscribe registers a handler for matching events.
func (b *MemoryBus) Subscribe(filter EventFilter, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memorySubscription{bus: b, id: b.nextID, filter: filter, handler: handler}
	b.subs[b.nextID] = sub
	b.nextID++
	return sub, nil
}

// Close drops all subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = map[int]*memorySubscription{}
	b.closed = true
	return nil
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}
