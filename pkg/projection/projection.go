// Package projection keeps read-model tables in sync with the event log.
// Each projection owns its tables and a set of reducers; the handler drives
// them through catch-up into live tailing, coordinating across replicas with
// transaction-scoped advisory locks.
package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
)

// Projection is one read model fed from the event log.
type Projection interface {
	// Name uniquely identifies the projection; it keys the position cursor
	// and the advisory lock.
	Name() string

	// Init creates the projection's tables. Must be idempotent.
	Init(ctx context.Context, ex database.Executor) error

	// Reducers declares which events the projection consumes and how each
	// reduces to a statement.
	Reducers() []AggregateReducer
}

// Resetter is implemented by projections that support a rebuild: Reset drops
// the projected rows so the handler can replay from the beginning.
type Resetter interface {
	Reset(ctx context.Context, ex database.Executor) error
}

// AggregateReducer groups the event reducers of one aggregate type.
type AggregateReducer struct {
	Aggregate     domain.AggregateType
	EventReducers []EventReducer
}

// EventReducer maps one event type to its reduce function.
type EventReducer struct {
	Event  domain.EventType
	Reduce ReduceFunc
}

// ReduceFunc turns an event into the statement that applies it to the read
// model. Reducers must not touch the database.
type ReduceFunc func(event *domain.Event) (*Statement, error)

// reducerIndex is the lookup table the handler builds from Reducers().
type reducerIndex map[domain.AggregateType]map[domain.EventType]ReduceFunc

func buildReducerIndex(reducers []AggregateReducer) reducerIndex {
	idx := make(reducerIndex, len(reducers))
	for _, ar := range reducers {
		events, ok := idx[ar.Aggregate]
		if !ok {
			events = make(map[domain.EventType]ReduceFunc, len(ar.EventReducers))
			idx[ar.Aggregate] = events
		}
		for _, er := range ar.EventReducers {
			events[er.Event] = er.Reduce
		}
	}
	return idx
}

func (idx reducerIndex) reduce(event *domain.Event) (ReduceFunc, bool) {
	events, ok := idx[event.AggregateType]
	if !ok {
		return nil, false
	}
	fn, ok := events[event.EventType]
	return fn, ok
}

func (idx reducerIndex) aggregateTypes() []domain.AggregateType {
	types := make([]domain.AggregateType, 0, len(idx))
	for t := range idx {
		types = append(types, t)
	}
	return types
}
