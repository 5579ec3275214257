package eventstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/idgen"
	"github.com/plaenen/iamcore/pkg/messaging"
)

// MemoryStore is the in-memory Eventstore used by tests and by the command
// layer's conformance suite. It honors the same ordering, versioning and
// uniqueness semantics as the PostgreSQL store.
type MemoryStore struct {
	mu           sync.Mutex
	events       []*domain.Event
	uniques      map[string]struct{} // instanceID/indexName/value
	lastPosition int64
	idgen        *idgen.Snowflake
	bus          messaging.EventBus
	config       config
	closed       bool
}

// NewMemoryStore creates an empty in-memory store. bus may be nil.
func NewMemoryStore(bus messaging.EventBus, opts ...Option) *MemoryStore {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	gen, err := idgen.NewSnowflake(0)
	if err != nil {
		panic(err)
	}
	return &MemoryStore{
		uniques: make(map[string]struct{}),
		idgen:   gen,
		bus:     bus,
		config:  cfg,
	}
}

func uniqueKey(instanceID, indexName, value string) string {
	return instanceID + "\x00" + indexName + "\x00" + value
}

// constraintOp records one mutation of the unique index within a push.
type constraintOp struct {
	key     string
	claimed bool
}

// undoConstraintsLocked reverts the batch's index mutations in reverse order.
func (s *MemoryStore) undoConstraintsLocked(ops []constraintOp) {
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].claimed {
			delete(s.uniques, ops[i].key)
		} else {
			s.uniques[ops[i].key] = struct{}{}
		}
	}
}

// Push appends a single command without a version check.
func (s *MemoryStore) Push(ctx context.Context, cmd *domain.Command) (*domain.Event, error) {
	events, err := s.PushMany(ctx, []*domain.Command{cmd})
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

// PushMany appends a batch without a version check.
func (s *MemoryStore) PushMany(ctx context.Context, cmds []*domain.Command) ([]*domain.Event, error) {
	return s.push(ctx, cmds, nil)
}

// PushWithConcurrencyCheck appends a batch with an optimistic version check.
func (s *MemoryStore) PushWithConcurrencyCheck(ctx context.Context, cmds []*domain.Command, expectedVersion uint64) ([]*domain.Event, error) {
	return s.push(ctx, cmds, &expectedVersion)
}

func (s *MemoryStore) push(ctx context.Context, cmds []*domain.Command, expectedVersion *uint64) ([]*domain.Event, error) {
	if err := s.config.validatePush(cmds); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()

	first := cmds[0]
	currentVersion := s.versionLocked(first.InstanceID, first.AggregateType, first.AggregateID)
	if expectedVersion != nil && currentVersion != *expectedVersion {
		s.mu.Unlock()
		return nil, domain.NewConcurrencyError(*expectedVersion, currentVersion)
	}

	// Constraints mutate the index in declaration order, so a release
	// followed by a claim of the same value works within one batch. Any
	// failure undoes the whole batch's mutations, mirroring the transaction
	// rollback of the PostgreSQL store.
	var constraintOps []constraintOp
	for _, cmd := range cmds {
		for _, constraint := range cmd.UniqueConstraints {
			key := uniqueKey(cmd.InstanceID, constraint.IndexName, constraint.Value)
			switch constraint.Operation {
			case domain.ConstraintClaim:
				if _, taken := s.uniques[key]; taken {
					s.undoConstraintsLocked(constraintOps)
					s.mu.Unlock()
					field := constraint.Field
					if field == "" {
						field = constraint.IndexName
					}
					return nil, domain.NewValidationError(field, "already taken")
				}
				s.uniques[key] = struct{}{}
				constraintOps = append(constraintOps, constraintOp{key: key, claimed: true})
			case domain.ConstraintRelease:
				if _, present := s.uniques[key]; present {
					delete(s.uniques, key)
					constraintOps = append(constraintOps, constraintOp{key: key})
				}
			}
		}
	}

	s.lastPosition++
	position := decimal.NewFromInt(s.lastPosition)
	now := domain.Now()

	events := make([]*domain.Event, len(cmds))
	for i, cmd := range cmds {
		var payload json.RawMessage
		if cmd.Payload != nil {
			data, err := json.Marshal(cmd.Payload)
			if err != nil {
				s.undoConstraintsLocked(constraintOps)
				s.mu.Unlock()
				return nil, domain.NewValidationError("payload", "payload is not serializable: "+err.Error())
			}
			payload = data
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
	s.events = append(s.events, events...)
	s.mu.Unlock()

	if s.bus != nil {
		_ = s.bus.Publish(ctx, events)
	}
	return events, nil
}

func (s *MemoryStore) versionLocked(instanceID string, aggregateType domain.AggregateType, aggregateID string) uint64 {
	var version uint64
	for _, e := range s.events {
		if e.InstanceID == instanceID && e.AggregateType == aggregateType && e.AggregateID == aggregateID && e.AggregateVersion > version {
			version = e.AggregateVersion
		}
	}
	return version
}

// Query returns events matching the filter.
func (s *MemoryStore) Query(ctx context.Context, filter *Filter) ([]*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Event
	for _, e := range s.events {
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if filter.Descending {
			return matched[j].Position.Compare(matched[i].Position) < 0
		}
		return matched[i].Position.Compare(matched[j].Position) < 0
	})
	if filter.Limit > 0 && len(matched) > int(filter.Limit) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of matching events.
func (s *MemoryStore) Count(ctx context.Context, filter *Filter) (int64, error) {
	f := *filter
	f.Limit = 0
	events, err := s.Query(ctx, &f)
	if err != nil {
		return 0, err
	}
	return int64(len(events)), nil
}

// Search returns the union of events matching any filter, ascending.
func (s *MemoryStore) Search(ctx context.Context, search *SearchQuery) ([]*domain.Event, error) {
	if len(search.Filters) == 0 {
		return nil, domain.NewValidationError("filters", "at least one filter is required")
	}

	seen := make(map[string]struct{})
	var merged []*domain.Event
	for _, filter := range search.Filters {
		f := *filter
		f.Limit = 0
		f.Descending = false
		events, err := s.Query(ctx, &f)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			merged = append(merged, e)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Position.Compare(merged[j].Position) < 0
	})
	if search.Limit > 0 && len(merged) > int(search.Limit) {
		merged = merged[:search.Limit]
	}
	return merged, nil
}

// LatestEvent returns the newest event of the aggregate, or nil.
func (s *MemoryStore) LatestEvent(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string) (*domain.Event, error) {
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

// Aggregate loads the aggregate's history.
func (s *MemoryStore) Aggregate(ctx context.Context, instanceID string, aggregateType domain.AggregateType, aggregateID string, untilVersion uint64) (*domain.Aggregate, error) {
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
func (s *MemoryStore) EventsAfterPosition(ctx context.Context, pos domain.Position, limit uint32) ([]*domain.Event, error) {
	return s.Query(ctx, &Filter{FromPosition: pos, Limit: limit})
}

// LatestPosition returns the position of the newest event.
func (s *MemoryStore) LatestPosition(ctx context.Context) (domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return domain.Position{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return domain.Position{Position: decimal.Zero}, nil
	}
	return s.events[len(s.events)-1].Position, nil
}

// Health always succeeds while the store is open.
func (s *MemoryStore) Health(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrIntegration
	}
	return nil
}

// Close marks the store unhealthy.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
