package eventstore

import (
	"github.com/plaenen/iamcore/pkg/domain"
)

// Filter selects events from the log. Zero-valued fields are ignored.
type Filter struct {
	// InstanceID scopes to one tenant. Empty matches all instances; only
	// system-internal callers (projection engine) may leave it empty.
	InstanceID string

	AggregateTypes []domain.AggregateType
	AggregateIDs   []string
	EventTypes     []domain.EventType
	ResourceOwner  string

	// FromPosition is exclusive: only events strictly after it match.
	FromPosition domain.Position

	// Limit caps the result size. 0 means no limit.
	Limit uint32

	// Descending reverses the (position, inPositionOrder) order.
	Descending bool
}

// SearchQuery is a disjunction of filters with UNION semantics.
type SearchQuery struct {
	Filters []*Filter

	// Limit caps the merged result size. 0 means no limit.
	Limit uint32
}

// matches reports whether the event satisfies the filter, ignoring position
// and limit. Shared by the in-memory store.
func (f *Filter) matches(e *domain.Event) bool {
	if f.InstanceID != "" && e.InstanceID != f.InstanceID {
		return false
	}
	if f.ResourceOwner != "" && e.ResourceOwner != f.ResourceOwner {
		return false
	}
	if len(f.AggregateTypes) > 0 && !containsAggregateType(f.AggregateTypes, e.AggregateType) {
		return false
	}
	if len(f.AggregateIDs) > 0 && !containsString(f.AggregateIDs, e.AggregateID) {
		return false
	}
	if len(f.EventTypes) > 0 && !containsEventType(f.EventTypes, e.EventType) {
		return false
	}
	if !f.FromPosition.IsZero() && !e.Position.After(f.FromPosition) {
		return false
	}
	return true
}

func containsAggregateType(haystack []domain.AggregateType, needle domain.AggregateType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsEventType(haystack []domain.EventType, needle domain.EventType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
