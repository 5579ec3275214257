package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
)

func newRedisManager(t *testing.T, opts ...Option) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	t.Cleanup(func() { store.Close() })
	return NewManager(store, opts...), mr
}

func TestCreateAndGet(t *testing.T) {
	m, _ := newRedisManager(t)

	created, err := m.Create(context.Background(), "user-1", "instance-1", map[string]string{"ip": "10.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, created.CreatedAt, created.LastActivityAt)
	assert.True(t, created.ExpiresAt.After(created.CreatedAt))

	got, err := m.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "instance-1", got.InstanceID)
	assert.Equal(t, map[string]string{"ip": "10.0.0.1"}, got.Metadata)
}

func TestCreateValidatesInput(t *testing.T) {
	m, _ := newRedisManager(t)

	_, err := m.Create(context.Background(), "", "instance-1", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = m.Create(context.Background(), "user-1", "", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetUnknownReturnsNil(t *testing.T) {
	m, _ := newRedisManager(t)

	got, err := m.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionExpiresWithTTL(t *testing.T) {
	m, mr := newRedisManager(t, WithTTL(time.Minute))

	created, err := m.Create(context.Background(), "user-1", "instance-1", nil)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	got, err := m.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	valid, err := m.IsValid(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestUpdateActivity(t *testing.T) {
	m, _ := newRedisManager(t)

	created, err := m.Create(context.Background(), "user-1", "instance-1", nil)
	require.NoError(t, err)

	require.NoError(t, m.UpdateActivity(context.Background(), created.ID))

	got, err := m.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.LastActivityAt.Before(created.LastActivityAt))
}

func TestUpdateActivityOnMissingSession(t *testing.T) {
	m, _ := newRedisManager(t)

	err := m.UpdateActivity(context.Background(), "gone")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestDeleteAllForUser(t *testing.T) {
	m, _ := newRedisManager(t)

	s1, err := m.Create(context.Background(), "user-1", "instance-1", nil)
	require.NoError(t, err)
	s2, err := m.Create(context.Background(), "user-1", "instance-1", nil)
	require.NoError(t, err)
	other, err := m.Create(context.Background(), "user-2", "instance-1", nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteAllForUser(context.Background(), "user-1"))

	for _, id := range []string{s1.ID, s2.ID} {
		got, err := m.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	got, err := m.Get(context.Background(), other.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMemoryStoreCleanup(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	m := NewManager(store, WithTTL(time.Minute))

	created, err := m.Create(context.Background(), "user-1", "instance-1", nil)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	require.NoError(t, m.CleanupExpired(context.Background()))

	ids, err := store.SessionIDsForUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	got, err := m.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
