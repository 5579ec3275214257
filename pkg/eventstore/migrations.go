package eventstore

import (
	"context"

	"github.com/plaenen/iamcore/pkg/domain"
)

// migrationStatements is idempotent DDL for the event log. Projection tables
// live in the projections schema and are owned by their reducers.
var migrationStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS eventstore`,

	`CREATE SEQUENCE IF NOT EXISTS eventstore.position_seq`,

	`CREATE TABLE IF NOT EXISTS eventstore.events (
		id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		aggregate_version BIGINT NOT NULL,
		event_data JSONB,
		editor_user TEXT NOT NULL DEFAULT '',
		resource_owner TEXT NOT NULL DEFAULT '',
		instance_id TEXT NOT NULL,
		position NUMERIC NOT NULL,
		in_position_order INT NOT NULL,
		creation_date TIMESTAMPTZ NOT NULL,
		revision SMALLINT NOT NULL DEFAULT 1,
		PRIMARY KEY (id),
		UNIQUE (instance_id, aggregate_type, aggregate_id, aggregate_version),
		UNIQUE (position, in_position_order)
	)`,

	`CREATE INDEX IF NOT EXISTS events_position_idx
		ON eventstore.events (position, in_position_order)`,

	`CREATE INDEX IF NOT EXISTS events_aggregate_idx
		ON eventstore.events (instance_id, aggregate_type, aggregate_id, aggregate_version)`,

	`CREATE INDEX IF NOT EXISTS events_type_idx
		ON eventstore.events (instance_id, event_type)`,

	`CREATE TABLE IF NOT EXISTS eventstore.unique_constraints (
		instance_id TEXT NOT NULL,
		index_name TEXT NOT NULL,
		unique_value TEXT NOT NULL,
		PRIMARY KEY (instance_id, index_name, unique_value)
	)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	return s.pool.WithTransaction(ctx, func(ctx context.Context) error {
		for _, stmt := range migrationStatements {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return domain.NewIntegrationError(err)
			}
		}
		return nil
	})
}
