package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/idgen"
	"github.com/plaenen/iamcore/pkg/messaging"
)

// PostgresStore is the production Eventstore on top of a database.Pool.
type PostgresStore struct {
	pool    *database.Pool
	idgen   *idgen.Snowflake
	bus     messaging.EventBus // nil when subscriptions are disabled
	config  config
}

// NewPostgresStore creates the store and ensures the schema exists. bus may
// be nil; when set, successfully pushed events are published after commit.
func NewPostgresStore(ctx context.Context, pool *database.Pool, gen *idgen.Snowflake, bus messaging.EventBus, opts ...Option) (*PostgresStore, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &PostgresStore{pool: pool, idgen: gen, bus: bus, config: cfg}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate eventstore schema: %w", err)
	}
	return s, nil
}

// Push appends a single command without a version check.
func (s *PostgresStore) Push(ctx context.Context, cmd *domain.Command) (*domain.Event, error) {
	events, err := s.PushMany(ctx, []*domain.Command{cmd})
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

// PushMany appends a batch without a version check.
func (s *PostgresStore) PushMany(ctx context.Context, cmds []*domain.Command) ([]*domain.Event, error) {
	return s.push(ctx, cmds, nil)
}

// PushWithConcurrencyCheck appends a batch, requiring the aggregate to be at
// expectedVersion.
func (s *PostgresStore) PushWithConcurrencyCheck(ctx context.Context, cmds []*domain.Command, expectedVersion uint64) ([]*domain.Event, error) {
	return s.push(ctx, cmds, &expectedVersion)
}

// push runs the append algorithm in one transaction: serialize writers on the
// aggregate via an advisory xact lock, read the current version, assign the
// next global position, insert the batch, maintain unique constraints.
func (s *PostgresStore) push(ctx context.Context, cmds []*domain.Command, expectedVersion *uint64) ([]*domain.Event, error) {
	if err := s.config.validatePush(cmds); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.pushTimeout)
	defer cancel()

	first := cmds[0]
	events := make([]*domain.Event, len(cmds))

	err := s.pool.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.lockAggregate(ctx, first); err != nil {
			return err
		}

		currentVersion, err := s.currentVersion(ctx, first)
		if err != nil {
			return err
		}
		if expectedVersion != nil && currentVersion != *expectedVersion {
			return domain.NewConcurrencyError(*expectedVersion, currentVersion)
		}

		var position decimal.Decimal
		if err := s.pool.QueryRow(ctx, "SELECT nextval('eventstore.position_seq')::numeric").Scan(&position); err != nil {
			return domain.NewIntegrationError(err)
		}

		now := domain.Now()
		for i, cmd := range cmds {
			var payload []byte
			if cmd.Payload != nil {
				payload, err = json.Marshal(cmd.Payload)
				if err != nil {
					return domain.NewValidationError("payload", "payload is not serializable: "+err.Error())
				}
			}
			revision := cmd.Revision
			if revision == 0 {
				revision = 1
			}
			events[i] = &domain.Event{
				ID:               s.idgen.NextString(),
				EventType:        cmd.EventType,
				AggregateType:    cmd.AggregateType,
				AggregateID:      cmd.AggregateID,
				AggregateVersion: currentVersion + uint64(i) + 1,
				Payload:          payload,
				Editor:           cmd.Editor,
				ResourceOwner:    cmd.ResourceOwner,
				InstanceID:       cmd.InstanceID,
				Position:         domain.Position{Position: position, InPositionOrder: uint32(i)},
				CreationDate:     now,
				Revision:         revision,
			}
		}

		if err := s.insertEvents(ctx, events); err != nil {
			return err
		}
		return s.handleUniqueConstraints(ctx, cmds)
	})
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		// Best effort: the log is the source of truth, subscribers catch up
		// from positions on reconnect.
		_ = s.bus.Publish(ctx, events)
	}
	return events, nil
}

// lockAggregate serializes concurrent writers of one aggregate. The advisory
// lock also covers the first event of a new aggregate, which a row lock on
// the events table cannot.
func (s *PostgresStore) lockAggregate(ctx context.Context, cmd *domain.Command) error {
	h := fnv.New64a()
	h.Write([]byte(cmd.InstanceID))
	h.Write([]byte{0})
	h.Write([]byte(cmd.AggregateType))
	h.Write([]byte{0})
	h.Write([]byte(cmd.AggregateID))
	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(h.Sum64())); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (s *PostgresStore) currentVersion(ctx context.Context, cmd *domain.Command) (uint64, error) {
	var version uint64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0)
		   FROM eventstore.events
		  WHERE instance_id = $1 AND aggregate_type = $2 AND aggregate_id = $3`,
		cmd.InstanceID, cmd.AggregateType, cmd.AggregateID,
	).Scan(&version)
	if err != nil {
		return 0, domain.NewIntegrationError(err)
	}
	return version, nil
}

func (s *PostgresStore) insertEvents(ctx context.Context, events []*domain.Event) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO eventstore.events (
		id, event_type, aggregate_type, aggregate_id, aggregate_version,
		event_data, editor_user, resource_owner, instance_id,
		position, in_position_order, creation_date, revision
	) VALUES `)

	args := make([]any, 0, len(events)*13)
	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 13
		sb.WriteString("(")
		for j := 1; j <= 13; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")
		args = append(args,
			e.ID, e.EventType, e.AggregateType, e.AggregateID, e.AggregateVersion,
			e.Payload, e.Editor, e.ResourceOwner, e.InstanceID,
			e.Position.Position, e.Position.InPositionOrder, e.CreationDate, e.Revision,
		)
	}

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

// handleUniqueConstraints claims and releases unique values in the push
// transaction. A duplicate claim aborts the whole push.
func (s *PostgresStore) handleUniqueConstraints(ctx context.Context, cmds []*domain.Command) error {
	for _, cmd := range cmds {
		for _, constraint := range cmd.UniqueConstraints {
			switch constraint.Operation {
			case domain.ConstraintClaim:
				_, err := s.pool.Exec(ctx,
					`INSERT INTO eventstore.unique_constraints (instance_id, index_name, unique_value) VALUES ($1, $2, $3)`,
					cmd.InstanceID, constraint.IndexName, constraint.Value,
				)
				if err != nil {
					if isUniqueViolation(err) {
						field := constraint.Field
						if field == "" {
							field = constraint.IndexName
						}
						return domain.NewValidationError(field, "already taken")
					}
					return domain.NewIntegrationError(err)
				}
			case domain.ConstraintRelease:
				_, err := s.pool.Exec(ctx,
					`DELETE FROM eventstore.unique_constraints WHERE instance_id = $1 AND index_name = $2 AND unique_value = $3`,
					cmd.InstanceID, constraint.IndexName, constraint.Value,
				)
				if err != nil {
					return domain.NewIntegrationError(err)
				}
			}
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Query returns events matching the filter.
func (s *PostgresStore) Query(ctx context.Context, filter *Filter) ([]*domain.Event, error) {
	query, args := buildFilterSQL(filter, selectColumns, 0)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Count returns the number of matching events.
func (s *PostgresStore) Count(ctx context.Context, filter *Filter) (int64, error) {
	f := *filter
	f.Limit = 0
	f.Descending = false
	query, args := buildFilterSQL(&f, "SELECT COUNT(*) FROM eventstore.events", 0)
	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, domain.NewIntegrationError(err)
	}
	return count, nil
}

// Search returns the union of events matching any filter, ascending.
func (s *PostgresStore) Search(ctx context.Context, search *SearchQuery) ([]*domain.Event, error) {
	if len(search.Filters) == 0 {
		return nil, domain.NewValidationError("filters", "at least one filter is required")
	}

	var sb strings.Builder
	args := make([]any, 0, 8)
	for i, filter := range search.Filters {
		f := *filter
		f.Limit = 0
		f.Descending = false
		if i > 0 {
			sb.WriteString(" UNION ")
		}
		sb.WriteString("(")
		part, partArgs := buildFilterSQL(&f, selectColumns, len(args))
		sb.WriteString(part)
		sb.WriteString(")")
		args = append(args, partArgs...)
	}
	sb.WriteString(" ORDER BY position, in_position_order")
	if search.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", search.Limit)
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestEvent returns the newest event of the aggregate, or nil.
func (s *PostgresStore) LatestEvent(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string) (*domain.Event, error) {
	events, err := s.Query(ctx, &Filter{
		InstanceID:     instanceID,
		AggregateTypes: []domain.AggregateType{aggregateType},
		AggregateIDs:   []string{aggregateID},
		Descending:     true,
		Limit:          1,
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// Aggregate loads the full (or version-capped) history of an aggregate.
func (s *PostgresStore) Aggregate(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string, untilVersion uint64) (*domain.Aggregate, error) {
	events, err := s.Query(ctx, &Filter{
		InstanceID:     instanceID,
		AggregateTypes: []domain.AggregateType{aggregateType},
		AggregateIDs:   []string{aggregateID},
	})
	if err != nil {
		return nil, err
	}
	return newAggregate(instanceID, aggregateType, aggregateID, events, untilVersion), nil
}

// EventsAfterPosition returns up to limit events strictly after pos.
func (s *PostgresStore) EventsAfterPosition(ctx context.Context, pos domain.Position, limit uint32) ([]*domain.Event, error) {
	return s.Query(ctx, &Filter{FromPosition: pos, Limit: limit})
}

// LatestPosition returns the position of the newest event in the log.
func (s *PostgresStore) LatestPosition(ctx context.Context) (domain.Position, error) {
	var pos domain.Position
	err := s.pool.QueryRow(ctx,
		`SELECT position, in_position_order FROM eventstore.events ORDER BY position DESC, in_position_order DESC LIMIT 1`,
	).Scan(&pos.Position, &pos.InPositionOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{Position: decimal.Zero}, nil
	}
	if err != nil {
		return pos, domain.NewIntegrationError(err)
	}
	return pos, nil
}

// Health reports database reachability.
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Health(ctx)
}

// Close closes the subscription bus. The pool is owned by the caller.
func (s *PostgresStore) Close() error {
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

const selectColumns = `SELECT id, event_type, aggregate_type, aggregate_id, aggregate_version,
	event_data, editor_user, resource_owner, instance_id,
	position, in_position_order, creation_date, revision
	FROM eventstore.events`

// buildFilterSQL compiles a filter to SQL with placeholders starting after
// argOffset, so parts can be combined into a UNION.
func buildFilterSQL(f *Filter, selectClause string, argOffset int) (string, []any) {
	var sb strings.Builder
	sb.WriteString(selectClause)

	var conditions []string
	var args []any
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", argOffset+len(args))
	}

	if f.InstanceID != "" {
		conditions = append(conditions, "instance_id = "+arg(f.InstanceID))
	}
	if f.ResourceOwner != "" {
		conditions = append(conditions, "resource_owner = "+arg(f.ResourceOwner))
	}
	if len(f.AggregateTypes) > 0 {
		types := make([]string, len(f.AggregateTypes))
		for i, t := range f.AggregateTypes {
			types[i] = string(t)
		}
		conditions = append(conditions, "aggregate_type = ANY("+arg(types)+")")
	}
	if len(f.AggregateIDs) > 0 {
		conditions = append(conditions, "aggregate_id = ANY("+arg(f.AggregateIDs)+")")
	}
	if len(f.EventTypes) > 0 {
		types := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			types[i] = string(t)
		}
		conditions = append(conditions, "event_type = ANY("+arg(types)+")")
	}
	if !f.FromPosition.IsZero() {
		conditions = append(conditions,
			"(position, in_position_order) > ("+arg(f.FromPosition.Position)+", "+arg(f.FromPosition.InPositionOrder)+")")
	}

	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}
	if strings.HasPrefix(selectClause, "SELECT COUNT") {
		return sb.String(), args
	}

	if f.Descending {
		sb.WriteString(" ORDER BY position DESC, in_position_order DESC")
	} else {
		sb.WriteString(" ORDER BY position, in_position_order")
	}
	if f.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", f.Limit)
	}
	return sb.String(), args
}

func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var events []*domain.Event
	for rows.Next() {
		e := new(domain.Event)
		err := rows.Scan(
			&e.ID, &e.EventType, &e.AggregateType, &e.AggregateID, &e.AggregateVersion,
			&e.Payload, &e.Editor, &e.ResourceOwner, &e.InstanceID,
			&e.Position.Position, &e.Position.InPositionOrder, &e.CreationDate, &e.Revision,
		)
		if err != nil {
			return nil, domain.NewIntegrationError(err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return events, nil
}

// newAggregate folds the identity fields of an event slice into an Aggregate.
func newAggregate(instanceID string, aggregateType domain.AggregateType, aggregateID string, events []*domain.Event, untilVersion uint64) *domain.Aggregate {
	agg := &domain.Aggregate{
		ID:         aggregateID,
		Type:       aggregateType,
		InstanceID: instanceID,
	}
	for _, e := range events {
		if untilVersion > 0 && e.AggregateVersion > untilVersion {
			break
		}
		agg.Events = append(agg.Events, e)
		agg.Version = e.AggregateVersion
		agg.ResourceOwner = e.ResourceOwner
	}
	return agg
}
