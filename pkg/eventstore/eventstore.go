// Package eventstore provides the append-only, strictly-ordered event log
// with optimistic concurrency control on aggregates.
package eventstore

import (
	"context"
	"time"

	"github.com/plaenen/iamcore/pkg/domain"
)

// Eventstore is the contract the command layer and projection engine build
// on. Two implementations exist: the PostgreSQL store and an in-memory store
// used in tests; both are exercised by the same conformance suite.
type Eventstore interface {
	// Push appends a single command as an event without a version check.
	Push(ctx context.Context, cmd *domain.Command) (*domain.Event, error)

	// PushMany appends a batch of commands for a single aggregate atomically.
	// All commands must target the same aggregate; the batch is capped at
	// the configured maxPushBatchSize.
	PushMany(ctx context.Context, cmds []*domain.Command) ([]*domain.Event, error)

	// PushWithConcurrencyCheck appends like PushMany but fails with a
	// domain.ConcurrencyError when the aggregate's current version differs
	// from expectedVersion.
	PushWithConcurrencyCheck(ctx context.Context, cmds []*domain.Command, expectedVersion uint64) ([]*domain.Event, error)

	// Query returns events matching the filter in (position, inPositionOrder)
	// order, descending when the filter requests it.
	Query(ctx context.Context, filter *Filter) ([]*domain.Event, error)

	// LatestEvent returns the newest event of an aggregate, or nil.
	LatestEvent(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string) (*domain.Event, error)

	// Aggregate loads the aggregate's history. untilVersion of 0 loads all.
	Aggregate(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string, untilVersion uint64) (*domain.Aggregate, error)

	// EventsAfterPosition returns up to limit events strictly after pos in
	// ascending (position, inPositionOrder) order.
	EventsAfterPosition(ctx context.Context, pos domain.Position, limit uint32) ([]*domain.Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter *Filter) (int64, error)

	// Search returns the union of events matching any of the query's filters.
	Search(ctx context.Context, query *SearchQuery) ([]*domain.Event, error)

	// LatestPosition returns the position of the newest event in the log.
	LatestPosition(ctx context.Context) (domain.Position, error)

	// Health reports whether the store can serve requests.
	Health(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// config holds eventstore configuration.
type config struct {
	maxPushBatchSize int
	pushTimeout      time.Duration
}

func defaultConfig() config {
	return config{
		maxPushBatchSize: 100,
		pushTimeout:      30 * time.Second,
	}
}

// Option configures an eventstore implementation.
type Option func(*config)

// WithMaxPushBatchSize caps the number of commands in one push.
func WithMaxPushBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPushBatchSize = n
		}
	}
}

// WithPushTimeout bounds the duration of one push transaction.
func WithPushTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pushTimeout = d
		}
	}
}

// validatePush checks the invariants shared by all push variants.
func (c config) validatePush(cmds []*domain.Command) error {
	if len(cmds) == 0 {
		return domain.NewValidationError("commands", "at least one command is required")
	}
	if len(cmds) > c.maxPushBatchSize {
		return domain.NewValidationError("commands", "batch exceeds max push batch size")
	}
	first := cmds[0]
	for _, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			return err
		}
		if cmd.AggregateType != first.AggregateType || cmd.AggregateID != first.AggregateID {
			return domain.NewValidationError("commands", "all commands in a batch must target the same aggregate")
		}
		if cmd.InstanceID != first.InstanceID {
			return domain.NewValidationError("commands", "all commands in a batch must share the instance")
		}
	}
	return nil
}
