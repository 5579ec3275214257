package projection

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
)

// stateSchema holds the engine's bookkeeping tables: one cursor row per
// projection and a quarantine table for events whose reduction keeps failing.
const stateSchema = `
CREATE SCHEMA IF NOT EXISTS projections;

CREATE TABLE IF NOT EXISTS projections.current_states (
	projection_name TEXT PRIMARY KEY,
	position NUMERIC NOT NULL DEFAULT 0,
	in_position_order INTEGER NOT NULL DEFAULT 0,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS projections.failed_events (
	projection_name TEXT NOT NULL,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	position NUMERIC NOT NULL,
	in_position_order INTEGER NOT NULL,
	failure_count INTEGER NOT NULL DEFAULT 1,
	last_error TEXT NOT NULL,
	last_failed TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (projection_name, event_id)
);
`

// InitStateTables creates the engine's bookkeeping tables.
func InitStateTables(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, stateSchema); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

// currentPosition reads the projection's cursor. A projection without a
// cursor row starts at the zero position.
func currentPosition(ctx context.Context, ex database.Executor, name string) (domain.Position, error) {
	var (
		position decimal.Decimal
		order    uint32
	)
	err := ex.QueryRow(ctx,
		"SELECT position, in_position_order FROM projections.current_states WHERE projection_name = $1",
		name,
	).Scan(&position, &order)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, nil
	}
	if err != nil {
		return domain.Position{}, domain.NewIntegrationError(err)
	}
	return domain.Position{Position: position, InPositionOrder: order}, nil
}

// savePosition writes the projection's cursor. Called inside the batch
// transaction, so statements and cursor commit atomically.
func savePosition(ctx context.Context, ex database.Executor, name string, pos domain.Position) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO projections.current_states (projection_name, position, in_position_order, last_updated)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (projection_name) DO UPDATE
		SET position = EXCLUDED.position,
			in_position_order = EXCLUDED.in_position_order,
			last_updated = EXCLUDED.last_updated`,
		name, pos.Position, pos.InPositionOrder,
	)
	if err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

// resetPosition drops the projection's cursor so it replays from the start.
func resetPosition(ctx context.Context, ex database.Executor, name string) error {
	_, err := ex.Exec(ctx,
		"DELETE FROM projections.current_states WHERE projection_name = $1", name)
	if err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

// Cursor is the persisted position of one projection.
type Cursor struct {
	ProjectionName string
	Position       domain.Position
	LastUpdated    time.Time
}

// Cursors lists the persisted positions of all projections. Projections that
// never ran have no cursor row.
func Cursors(ctx context.Context, ex database.Executor) ([]*Cursor, error) {
	rows, err := ex.Query(ctx, `
		SELECT projection_name, position, in_position_order, last_updated
		FROM projections.current_states
		ORDER BY projection_name`,
	)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var cursors []*Cursor
	for rows.Next() {
		c := new(Cursor)
		var (
			position decimal.Decimal
			order    uint32
		)
		if err := rows.Scan(&c.ProjectionName, &position, &order, &c.LastUpdated); err != nil {
			return nil, domain.NewIntegrationError(err)
		}
		c.Position = domain.Position{Position: position, InPositionOrder: order}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return cursors, nil
}

// FailedEvent is a quarantined event: its reduction failed repeatedly and the
// projection moved on. Operators inspect and resolve these out of band.
type FailedEvent struct {
	ProjectionName string
	EventID        string
	EventType      domain.EventType
	AggregateType  domain.AggregateType
	AggregateID    string
	InstanceID     string
	Position       domain.Position
	FailureCount   int
	LastError      string
	LastFailed     time.Time
}

// recordFailure upserts the failure row for the event and returns the new
// failure count.
func recordFailure(ctx context.Context, ex database.Executor, name string, event *domain.Event, failure error) (int, error) {
	var count int
	err := ex.QueryRow(ctx, `
		INSERT INTO projections.failed_events
			(projection_name, event_id, event_type, aggregate_type, aggregate_id, instance_id, position, in_position_order, failure_count, last_error, last_failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, now())
		ON CONFLICT (projection_name, event_id) DO UPDATE
		SET failure_count = projections.failed_events.failure_count + 1,
			last_error = EXCLUDED.last_error,
			last_failed = EXCLUDED.last_failed
		RETURNING failure_count`,
		name, event.ID, string(event.EventType), string(event.AggregateType), event.AggregateID,
		event.InstanceID, event.Position.Position, event.Position.InPositionOrder, failure.Error(),
	).Scan(&count)
	if err != nil {
		return 0, domain.NewIntegrationError(err)
	}
	return count, nil
}

// FailedEvents lists the quarantined events of one projection, oldest first.
func FailedEvents(ctx context.Context, ex database.Executor, name string) ([]*FailedEvent, error) {
	rows, err := ex.Query(ctx, `
		SELECT projection_name, event_id, event_type, aggregate_type, aggregate_id, instance_id,
			position, in_position_order, failure_count, last_error, last_failed
		FROM projections.failed_events
		WHERE projection_name = $1
		ORDER BY position, in_position_order`,
		name,
	)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var failed []*FailedEvent
	for rows.Next() {
		fe := new(FailedEvent)
		var (
			eventType     string
			aggregateType string
			position      decimal.Decimal
			order         uint32
		)
		if err := rows.Scan(
			&fe.ProjectionName, &fe.EventID, &eventType, &aggregateType, &fe.AggregateID,
			&fe.InstanceID, &position, &order, &fe.FailureCount, &fe.LastError, &fe.LastFailed,
		); err != nil {
			return nil, domain.NewIntegrationError(err)
		}
		fe.EventType = domain.EventType(eventType)
		fe.AggregateType = domain.AggregateType(aggregateType)
		fe.Position = domain.Position{Position: position, InPositionOrder: order}
		failed = append(failed, fe)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return failed, nil
}

// ClearFailedEvents removes the quarantine rows of one projection, typically
// before a rebuild.
func ClearFailedEvents(ctx context.Context, ex database.Executor, name string) error {
	_, err := ex.Exec(ctx,
		"DELETE FROM projections.failed_events WHERE projection_name = $1", name)
	if err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}
