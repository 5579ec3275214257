package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the IAM core.
type Metrics struct {
	// Command metrics
	CommandDuration metric.Float64Histogram
	CommandTotal    metric.Int64Counter
	CommandErrors   metric.Int64Counter

	// Eventstore metrics
	EventsAppended metric.Int64Counter
	PushLatency    metric.Float64Histogram
	QueryLatency   metric.Float64Histogram

	// Projection metrics
	ProjectionLag    metric.Float64Gauge
	ProjectionEvents metric.Int64Counter
	ProjectionErrors metric.Int64Counter

	// Permission metrics
	PermissionChecks      metric.Int64Counter
	PermissionCacheHits   metric.Int64Counter
	PermissionCacheMisses metric.Int64Counter

	// Auth metrics
	AuthAttempts  metric.Int64Counter
	TokensIssued  metric.Int64Counter
	SessionEvents metric.Int64Counter
}

// NewMetrics creates all metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandDuration, err = meter.Float64Histogram(
		"iamcore.command.duration",
		metric.WithDescription("Command execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.duration: %w", err)
	}

	m.CommandTotal, err = meter.Int64Counter(
		"iamcore.command.total",
		metric.WithDescription("Total commands executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.total: %w", err)
	}

	m.CommandErrors, err = meter.Int64Counter(
		"iamcore.command.errors",
		metric.WithDescription("Total command errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.errors: %w", err)
	}

	m.EventsAppended, err = meter.Int64Counter(
		"iamcore.events.appended",
		metric.WithDescription("Total events appended to the event log"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	m.PushLatency, err = meter.Float64Histogram(
		"iamcore.eventstore.push.latency",
		metric.WithDescription("Push transaction latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating eventstore.push.latency: %w", err)
	}

	m.QueryLatency, err = meter.Float64Histogram(
		"iamcore.eventstore.query.latency",
		metric.WithDescription("Event query latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating eventstore.query.latency: %w", err)
	}

	m.ProjectionLag, err = meter.Float64Gauge(
		"iamcore.projection.lag",
		metric.WithDescription("Seconds a projection trails the head of the event log"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.lag: %w", err)
	}

	m.ProjectionEvents, err = meter.Int64Counter(
		"iamcore.projection.events",
		metric.WithDescription("Events reduced into read models"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.events: %w", err)
	}

	m.ProjectionErrors, err = meter.Int64Counter(
		"iamcore.projection.errors",
		metric.WithDescription("Projection reducer failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	m.PermissionChecks, err = meter.Int64Counter(
		"iamcore.permission.checks",
		metric.WithDescription("Permission checks evaluated"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating permission.checks: %w", err)
	}

	m.PermissionCacheHits, err = meter.Int64Counter(
		"iamcore.permission.cache.hits",
		metric.WithDescription("Role mapping cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating permission.cache.hits: %w", err)
	}

	m.PermissionCacheMisses, err = meter.Int64Counter(
		"iamcore.permission.cache.misses",
		metric.WithDescription("Role mapping cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating permission.cache.misses: %w", err)
	}

	m.AuthAttempts, err = meter.Int64Counter(
		"iamcore.auth.attempts",
		metric.WithDescription("Authentication attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating auth.attempts: %w", err)
	}

	m.TokensIssued, err = meter.Int64Counter(
		"iamcore.tokens.issued",
		metric.WithDescription("Access and refresh tokens issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tokens.issued: %w", err)
	}

	m.SessionEvents, err = meter.Int64Counter(
		"iamcore.sessions.events",
		metric.WithDescription("Session lifecycle events by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sessions.events: %w", err)
	}

	return m, nil
}

// RecordCommand records one command execution.
func (m *Metrics) RecordCommand(ctx context.Context, commandType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		AttrCommandType.String(commandType),
	}

	m.CommandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.CommandTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil {
		errorAttrs := append(attrs, AttrErrorType.String(fmt.Sprintf("%T", err)))
		m.CommandErrors.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
	}
}

// RecordPush records one push transaction against the event log.
func (m *Metrics) RecordPush(ctx context.Context, aggregateType string, duration time.Duration, eventCount int, err error) {
	attrs := []attribute.KeyValue{
		AttrAggregateType.String(aggregateType),
	}

	m.PushLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if err == nil {
		m.EventsAppended.Add(ctx, int64(eventCount), metric.WithAttributes(attrs...))
	}
}

// RecordQuery records one read against the event log.
func (m *Metrics) RecordQuery(ctx context.Context, operation string, duration time.Duration) {
	m.QueryLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordProjection records a projection batch and its lag behind the log head.
func (m *Metrics) RecordProjection(ctx context.Context, name string, events int, lagSeconds float64) {
	attrs := []attribute.KeyValue{AttrProjection.String(name)}
	m.ProjectionEvents.Add(ctx, int64(events), metric.WithAttributes(attrs...))
	m.ProjectionLag.Record(ctx, lagSeconds, metric.WithAttributes(attrs...))
}

// RecordProjectionError records a reducer failure.
func (m *Metrics) RecordProjectionError(ctx context.Context, name string, errorType string) {
	m.ProjectionErrors.Add(ctx, 1, metric.WithAttributes(
		AttrProjection.String(name),
		AttrErrorType.String(errorType),
	))
}

// RecordPermissionCheck records one permission evaluation.
func (m *Metrics) RecordPermissionCheck(ctx context.Context, permission string, granted, cacheHit bool) {
	attrs := []attribute.KeyValue{
		attribute.String("permission", permission),
		attribute.Bool("granted", granted),
	}
	m.PermissionChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
	if cacheHit {
		m.PermissionCacheHits.Add(ctx, 1)
	} else {
		m.PermissionCacheMisses.Add(ctx, 1)
	}
}

// RecordAuthAttempt records one authentication attempt.
func (m *Metrics) RecordAuthAttempt(ctx context.Context, result string) {
	m.AuthAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordTokensIssued records issued token pairs.
func (m *Metrics) RecordTokensIssued(ctx context.Context, grant string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant", grant),
	))
}

// RecordSessionEvent records a session lifecycle transition.
func (m *Metrics) RecordSessionEvent(ctx context.Context, kind string) {
	m.SessionEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}
