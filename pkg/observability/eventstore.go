package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/eventstore"
)

// InstrumentedEventstore wraps an eventstore with tracing and metrics.
// Push paths get full spans; read paths record latency only, they are
// too hot for per-call span overhead.
type InstrumentedEventstore struct {
	next   eventstore.Eventstore
	tracer trace.Tracer
	m      *Metrics
}

// InstrumentEventstore wraps next with the telemetry stack.
func InstrumentEventstore(next eventstore.Eventstore, tel *Telemetry) *InstrumentedEventstore {
	return &InstrumentedEventstore{
		next:   next,
		tracer: tel.Tracer("iamcore.eventstore"),
		m:      tel.Metrics,
	}
}

func (s *InstrumentedEventstore) Push(ctx context.Context, cmd *domain.Command) (*domain.Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.push",
		trace.WithAttributes(AggregateAttrs(cmd.AggregateID, string(cmd.AggregateType), 0)...),
	)
	start := time.Now()
	event, err := s.next.Push(ctx, cmd)
	if s.m != nil {
		s.m.RecordPush(ctx, string(cmd.AggregateType), time.Since(start), 1, err)
	}
	EndSpan(span, err)
	return event, err
}

func (s *InstrumentedEventstore) PushMany(ctx context.Context, cmds []*domain.Command) ([]*domain.Event, error) {
	return s.pushBatch(ctx, "eventstore.push_many", cmds, func(ctx context.Context) ([]*domain.Event, error) {
		return s.next.PushMany(ctx, cmds)
	})
}

func (s *InstrumentedEventstore) PushWithConcurrencyCheck(ctx context.Context, cmds []*domain.Command, expectedVersion uint64) ([]*domain.Event, error) {
	return s.pushBatch(ctx, "eventstore.push_checked", cmds, func(ctx context.Context) ([]*domain.Event, error) {
		return s.next.PushWithConcurrencyCheck(ctx, cmds, expectedVersion)
	})
}

func (s *InstrumentedEventstore) pushBatch(ctx context.Context, name string, cmds []*domain.Command, push func(context.Context) ([]*domain.Event, error)) ([]*domain.Event, error) {
	aggregateType := ""
	if len(cmds) > 0 {
		aggregateType = string(cmds[0].AggregateType)
	}
	ctx, span := s.tracer.Start(ctx, name,
		trace.WithAttributes(
			AttrAggregateType.String(aggregateType),
			AttrEventCount.Int(len(cmds)),
		),
	)
	start := time.Now()
	events, err := push(ctx)
	if s.m != nil {
		s.m.RecordPush(ctx, aggregateType, time.Since(start), len(events), err)
	}
	EndSpan(span, err)
	return events, err
}

func (s *InstrumentedEventstore) Query(ctx context.Context, filter *eventstore.Filter) ([]*domain.Event, error) {
	start := time.Now()
	events, err := s.next.Query(ctx, filter)
	if s.m != nil {
		s.m.RecordQuery(ctx, "query", time.Since(start))
	}
	return events, err
}

func (s *InstrumentedEventstore) LatestEvent(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string) (*domain.Event, error) {
	start := time.Now()
	event, err := s.next.LatestEvent(ctx, instanceID, aggregateType, aggregateID)
	if s.m != nil {
		s.m.RecordQuery(ctx, "latest_event", time.Since(start))
	}
	return event, err
}

func (s *InstrumentedEventstore) Aggregate(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string, untilVersion uint64) (*domain.Aggregate, error) {
	start := time.Now()
	agg, err := s.next.Aggregate(ctx, instanceID, aggregateType, aggregateID, untilVersion)
	if s.m != nil {
		s.m.RecordQuery(ctx, "aggregate", time.Since(start))
	}
	return agg, err
}

func (s *InstrumentedEventstore) EventsAfterPosition(ctx context.Context, pos domain.Position, limit uint32) ([]*domain.Event, error) {
	start := time.Now()
	events, err := s.next.EventsAfterPosition(ctx, pos, limit)
	if s.m != nil {
		s.m.RecordQuery(ctx, "events_after_position", time.Since(start))
	}
	return events, err
}

func (s *InstrumentedEventstore) Count(ctx context.Context, filter *eventstore.Filter) (int64, error) {
	start := time.Now()
	count, err := s.next.Count(ctx, filter)
	if s.m != nil {
		s.m.RecordQuery(ctx, "count", time.Since(start))
	}
	return count, err
}

func (s *InstrumentedEventstore) Search(ctx context.Context, query *eventstore.SearchQuery) ([]*domain.Event, error) {
	start := time.Now()
	events, err := s.next.Search(ctx, query)
	if s.m != nil {
		s.m.RecordQuery(ctx, "search", time.Since(start))
	}
	return events, err
}

func (s *InstrumentedEventstore) LatestPosition(ctx context.Context) (domain.Position, error) {
	return s.next.LatestPosition(ctx)
}

func (s *InstrumentedEventstore) Health(ctx context.Context) error {
	return s.next.Health(ctx)
}

func (s *InstrumentedEventstore) Close() error {
	return s.next.Close()
}
