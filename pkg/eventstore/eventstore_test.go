package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
)

func newTestCommand(instanceID, aggregateID string, eventType domain.EventType) *domain.Command {
	return &domain.Command{
		InstanceID:    instanceID,
		AggregateType: domain.AggregateTypeUser,
		AggregateID:   aggregateID,
		ResourceOwner: "org-1",
		EventType:     eventType,
		Editor:        "editor-1",
	}
}

func TestPushAssignsVersionsAndPositions(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	first, err := store.Push(ctx, newTestCommand("i1", "u1", domain.UserHumanAddedType))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.AggregateVersion)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, uint8(1), first.Revision)
	assert.False(t, first.Position.IsZero())

	batch, err := store.PushMany(ctx, []*domain.Command{
		newTestCommand("i1", "u1", domain.UserHumanProfileChangedType),
		newTestCommand("i1", "u1", domain.UserDeactivatedType),
	})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, uint64(2), batch[0].AggregateVersion)
	assert.Equal(t, uint64(3), batch[1].AggregateVersion)

	// same transaction: same position, ordered by InPositionOrder
	assert.True(t, batch[0].Position.Position.Equal(batch[1].Position.Position))
	assert.Equal(t, uint32(0), batch[0].Position.InPositionOrder)
	assert.Equal(t, uint32(1), batch[1].Position.InPositionOrder)
	assert.True(t, batch[0].Position.After(first.Position))
	assert.True(t, batch[1].Position.After(batch[0].Position))
}

func TestPushWithConcurrencyCheck(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	_, err := store.PushWithConcurrencyCheck(ctx, []*domain.Command{
		newTestCommand("i1", "u1", domain.UserHumanAddedType),
	}, 0)
	require.NoError(t, err)

	_, err = store.PushWithConcurrencyCheck(ctx, []*domain.Command{
		newTestCommand("i1", "u1", domain.UserHumanProfileChangedType),
	}, 1)
	require.NoError(t, err)

	_, err = store.PushWithConcurrencyCheck(ctx, []*domain.Command{
		newTestCommand("i1", "u1", domain.UserDeactivatedType),
	}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConcurrency)

	var concurrencyErr *domain.ConcurrencyError
	require.ErrorAs(t, err, &concurrencyErr)
	assert.Equal(t, uint64(1), concurrencyErr.Expected)
	assert.Equal(t, uint64(2), concurrencyErr.Actual)
}

func TestPushBatchValidation(t *testing.T) {
	store := NewMemoryStore(nil, WithMaxPushBatchSize(2))
	defer store.Close()
	ctx := context.Background()

	_, err := store.PushMany(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = store.PushMany(ctx, []*domain.Command{
		newTestCommand("i1", "u1", domain.UserHumanAddedType),
		newTestCommand("i1", "u2", domain.UserHumanAddedType),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = store.PushMany(ctx, []*domain.Command{
		newTestCommand("i1", "u1", domain.UserHumanAddedType),
		newTestCommand("i1", "u1", domain.UserHumanProfileChangedType),
		newTestCommand("i1", "u1", domain.UserDeactivatedType),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	invalid := newTestCommand("i1", "u1", domain.UserHumanAddedType)
	invalid.EventType = ""
	_, err = store.Push(ctx, invalid)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUniqueConstraints(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	claim := newTestCommand("i1", "u1", domain.UserHumanAddedType)
	claim.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewClaim("usernames", "i1:alice", "username"),
	}
	_, err := store.Push(ctx, claim)
	require.NoError(t, err)

	// second claim of the same value fails and reports the input field
	conflict := newTestCommand("i1", "u2", domain.UserHumanAddedType)
	conflict.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewClaim("usernames", "i1:alice", "username"),
	}
	_, err = store.Push(ctx, conflict)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "username", validationErr.Field)

	// same value on another index is independent
	otherIndex := newTestCommand("i1", "u3", domain.UserHumanAddedType)
	otherIndex.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewClaim("org_domains", "i1:alice", "domain"),
	}
	_, err = store.Push(ctx, otherIndex)
	require.NoError(t, err)

	// release frees the value for a new claim
	release := newTestCommand("i1", "u1", domain.UserRemovedType)
	release.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewRelease("usernames", "i1:alice"),
	}
	_, err = store.Push(ctx, release)
	require.NoError(t, err)

	reclaim := newTestCommand("i1", "u2", domain.UserHumanAddedType)
	reclaim.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewClaim("usernames", "i1:alice", "username"),
	}
	_, err = store.Push(ctx, reclaim)
	require.NoError(t, err)
}

func TestFailedPushReleasesPartialClaims(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	taken := newTestCommand("i1", "u1", domain.UserHumanAddedType)
	taken.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewClaim("usernames", "i1:bob", "username"),
	}
	_, err := store.Push(ctx, taken)
	require.NoError(t, err)

	// the second claim collides, so the push fails as a whole and the first
	// claim must not stick
	partial := newTestCommand("i1", "u2", domain.UserHumanAddedType)
	partial.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewClaim("usernames", "i1:alice", "username"),
		domain.NewClaim("usernames", "i1:bob", "username"),
	}
	_, err = store.Push(ctx, partial)
	assert.ErrorIs(t, err, domain.ErrValidation)

	retry := newTestCommand("i1", "u3", domain.UserHumanAddedType)
	retry.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewClaim("usernames", "i1:alice", "username"),
	}
	_, err = store.Push(ctx, retry)
	require.NoError(t, err)
}

func TestReleaseThenClaimSameValueInOnePush(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	claim := newTestCommand("i1", "u1", domain.UserHumanAddedType)
	claim.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewClaim("usernames", "org1:alice", "username"),
	}
	_, err := store.Push(ctx, claim)
	require.NoError(t, err)

	// a rename that keeps the normalized value releases and re-claims it in
	// one batch; the release must apply before the claim
	rename := newTestCommand("i1", "u1", domain.UserUsernameChangedType)
	rename.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewRelease("usernames", "org1:alice"),
		domain.NewClaim("usernames", "org1:alice", "username"),
	}
	_, err = store.Push(ctx, rename)
	require.NoError(t, err)

	// the value stays claimed afterwards
	conflict := newTestCommand("i1", "u2", domain.UserHumanAddedType)
	conflict.UniqueConstraints = []*domain.UniqueConstraint{
		domain.NewClaim("usernames", "org1:alice", "username"),
	}
	_, err = store.Push(ctx, conflict)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUniqueConstraintsScopedPerInstance(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	for _, instanceID := range []string{"i1", "i2"} {
		cmd := newTestCommand(instanceID, "u1", domain.UserHumanAddedType)
		cmd.UniqueConstraints = []*domain.UniqueConstraint{
			domain.NewClaim("usernames", "alice", "username"),
		}
		_, err := store.Push(ctx, cmd)
		require.NoError(t, err, "instance %s", instanceID)
	}
}

func TestQueryFilters(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	seed := []*domain.Command{
		newTestCommand("i1", "u1", domain.UserHumanAddedType),
		newTestCommand("i1", "u2", domain.UserHumanAddedType),
		newTestCommand("i2", "u1", domain.UserHumanAddedType),
	}
	for _, cmd := range seed {
		_, err := store.Push(ctx, cmd)
		require.NoError(t, err)
	}
	orgCmd := newTestCommand("i1", "o1", domain.OrgAddedType)
	orgCmd.AggregateType = domain.AggregateTypeOrg
	_, err := store.Push(ctx, orgCmd)
	require.NoError(t, err)

	events, err := store.Query(ctx, &Filter{InstanceID: "i1"})
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = store.Query(ctx, &Filter{
		InstanceID:     "i1",
		AggregateTypes: []domain.AggregateType{domain.AggregateTypeUser},
	})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = store.Query(ctx, &Filter{
		InstanceID:   "i1",
		AggregateIDs: []string{"u2"},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "u2", events[0].AggregateID)

	events, err = store.Query(ctx, &Filter{
		InstanceID: "i1",
		EventTypes: []domain.EventType{domain.OrgAddedType},
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = store.Query(ctx, &Filter{InstanceID: "i1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = store.Query(ctx, &Filter{InstanceID: "i1", Descending: true})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.AggregateTypeOrg, events[0].AggregateType)

	count, err := store.Count(ctx, &Filter{InstanceID: "i1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestLatestEvent(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	latest, err := store.LatestEvent(ctx, "i1", domain.AggregateTypeUser, "u1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = store.Push(ctx, newTestCommand("i1", "u1", domain.UserHumanAddedType))
	require.NoError(t, err)
	_, err = store.Push(ctx, newTestCommand("i1", "u1", domain.UserHumanProfileChangedType))
	require.NoError(t, err)

	latest, err = store.LatestEvent(ctx, "i1", domain.AggregateTypeUser, "u1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, domain.UserHumanProfileChangedType, latest.EventType)
	assert.Equal(t, uint64(2), latest.AggregateVersion)
}

func TestAggregateUntilVersion(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	_, err := store.PushMany(ctx, []*domain.Command{
		newTestCommand("i1", "u1", domain.UserHumanAddedType),
		newTestCommand("i1", "u1", domain.UserHumanProfileChangedType),
		newTestCommand("i1", "u1", domain.UserDeactivatedType),
	})
	require.NoError(t, err)

	agg, err := store.Aggregate(ctx, "i1", domain.AggregateTypeUser, "u1", 0)
	require.NoError(t, err)
	assert.True(t, agg.Exists())
	assert.Equal(t, uint64(3), agg.Version)
	assert.Len(t, agg.Events, 3)
	assert.Equal(t, "org-1", agg.ResourceOwner)

	capped, err := store.Aggregate(ctx, "i1", domain.AggregateTypeUser, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), capped.Version)
	assert.Len(t, capped.Events, 2)

	missing, err := store.Aggregate(ctx, "i1", domain.AggregateTypeUser, "missing", 0)
	require.NoError(t, err)
	assert.False(t, missing.Exists())
	assert.Empty(t, missing.Events)
}

func TestEventsAfterPosition(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	first, err := store.Push(ctx, newTestCommand("i1", "u1", domain.UserHumanAddedType))
	require.NoError(t, err)
	batch, err := store.PushMany(ctx, []*domain.Command{
		newTestCommand("i1", "u1", domain.UserHumanProfileChangedType),
		newTestCommand("i1", "u1", domain.UserDeactivatedType),
	})
	require.NoError(t, err)

	// zero position reads from the beginning
	events, err := store.EventsAfterPosition(ctx, domain.Position{}, 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	// exclusive start: the boundary event is not repeated
	events, err = store.EventsAfterPosition(ctx, first.Position, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, batch[0].ID, events[0].ID)

	// InPositionOrder splits a transaction
	events, err = store.EventsAfterPosition(ctx, batch[0].Position, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, batch[1].ID, events[0].ID)

	events, err = store.EventsAfterPosition(ctx, domain.Position{}, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	latest, err := store.LatestPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, latest.Compare(batch[1].Position))
}

func TestSearchUnion(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	_, err := store.Push(ctx, newTestCommand("i1", "u1", domain.UserHumanAddedType))
	require.NoError(t, err)
	orgCmd := newTestCommand("i1", "o1", domain.OrgAddedType)
	orgCmd.AggregateType = domain.AggregateTypeOrg
	_, err = store.Push(ctx, orgCmd)
	require.NoError(t, err)
	_, err = store.Push(ctx, newTestCommand("i2", "u1", domain.UserHumanAddedType))
	require.NoError(t, err)

	events, err := store.Search(ctx, &SearchQuery{
		Filters: []*Filter{
			{InstanceID: "i1", AggregateTypes: []domain.AggregateType{domain.AggregateTypeUser}},
			{InstanceID: "i1", AggregateTypes: []domain.AggregateType{domain.AggregateTypeOrg}},
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	// ascending position order across the union
	assert.True(t, events[1].Position.After(events[0].Position))

	// overlapping filters do not duplicate events
	events, err = store.Search(ctx, &SearchQuery{
		Filters: []*Filter{
			{InstanceID: "i1"},
			{InstanceID: "i1", AggregateTypes: []domain.AggregateType{domain.AggregateTypeUser}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = store.Search(ctx, &SearchQuery{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPayloadRoundTrip(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	cmd := newTestCommand("i1", "u1", domain.UserHumanAddedType)
	cmd.Payload = &domain.HumanAddedPayload{
		Username:  "alice",
		FirstName: "Alice",
		LastName:  "Doe",
		Email:     "alice@example.com",
	}
	event, err := store.Push(ctx, cmd)
	require.NoError(t, err)

	payload, err := domain.UnmarshalPayload[domain.HumanAddedPayload](event)
	require.NoError(t, err)
	assert.Equal(t, "alice", payload.Username)
	assert.Equal(t, "alice@example.com", payload.Email)
}
