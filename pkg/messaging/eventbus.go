// Package messaging carries freshly appended events to in-process and
// cross-process subscribers. The event log remains the source of truth;
// subscribers that miss notifications catch up from their positions.
package messaging

import (
	"context"

	"github.com/plaenen/iamcore/pkg/domain"
)

// EventBus defines the interface for publishing and subscribing to events.
type EventBus interface {
	// Publish publishes events to all subscribers.
	Publish(ctx context.Context, events []*domain.Event) error

	// Subscribe subscribes to events matching the filter.
	Subscribe(filter EventFilter, handler EventHandler) (Subscription, error)

	// Close closes the event bus and releases resources.
	Close() error
}

// EventFilter defines criteria for filtering events.
type EventFilter struct {
	// InstanceID filters by tenant (empty = all instances)
	InstanceID string

	// AggregateTypes filters by aggregate type (empty = all types)
	AggregateTypes []domain.AggregateType

	// EventTypes filters by event type (empty = all types)
	EventTypes []domain.EventType
}

// Matches reports whether the filter selects the event.
func (f EventFilter) Matches(e *domain.Event) bool {
	if f.InstanceID != "" && e.InstanceID != f.InstanceID {
		return false
	}
	if len(f.AggregateTypes) > 0 {
		found := false
		for _, t := range f.AggregateTypes {
			if t == e.AggregateType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// EventHandler processes one published event.
type EventHandler func(event *domain.Event) error

// Subscription represents an active event subscription.
type Subscription interface {
	// Unsubscribe stops receiving events and cleans up resources.
	Unsubscribe() error
}
