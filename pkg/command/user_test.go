package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/eventstore"
)

func newCommands(t *testing.T) (*Commands, *eventstore.MemoryStore) {
	t.Helper()
	store := eventstore.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func testCtx() Context {
	return Context{InstanceID: "instance-1", OrgID: "org-1", UserID: "admin-1"}
}

func TestAddHumanUser(t *testing.T) {
	c, store := newCommands(t)

	result, err := c.AddHumanUser(context.Background(), testCtx(), AddHumanUser{
		Username:  "gigi",
		FirstName: "Gigi",
		LastName:  "Giraffe",
		Email:     "gigi@example.com",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.UserID)

	agg, err := store.Aggregate(context.Background(), "instance-1", domain.AggregateTypeUser, result.UserID, 0)
	require.NoError(t, err)
	require.Len(t, agg.Events, 1)
	assert.Equal(t, domain.UserHumanAddedType, agg.Events[0].EventType)
	assert.Equal(t, "org-1", agg.Events[0].ResourceOwner)
	assert.Equal(t, "admin-1", agg.Events[0].Editor)

	payload, err := domain.UnmarshalPayload[domain.HumanAddedPayload](agg.Events[0])
	require.NoError(t, err)
	assert.Equal(t, "gigi", payload.Username)
	assert.Empty(t, payload.PasswordHash)
}

func TestAddHumanUserValidation(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	_, err := c.AddHumanUser(ctx, testCtx(), AddHumanUser{FirstName: "G", LastName: "G", Email: "g@example.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.AddHumanUser(ctx, testCtx(), AddHumanUser{Username: "gigi", FirstName: "G", LastName: "G", Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.AddHumanUser(ctx, Context{InstanceID: "instance-1"}, AddHumanUser{Username: "gigi", FirstName: "G", LastName: "G", Email: "g@example.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAddHumanUserUsernameTaken(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	req := AddHumanUser{Username: "gigi", FirstName: "G", LastName: "G", Email: "g@example.com"}

	_, err := c.AddHumanUser(ctx, testCtx(), req)
	require.NoError(t, err)

	_, err = c.AddHumanUser(ctx, testCtx(), req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// same username in another org is fine
	other := testCtx()
	other.OrgID = "org-2"
	_, err = c.AddHumanUser(ctx, other, req)
	assert.NoError(t, err)
}

func TestAddHumanUserWeakPassword(t *testing.T) {
	c, _ := newCommands(t)

	_, err := c.AddHumanUser(context.Background(), testCtx(), AddHumanUser{
		Username:  "gigi",
		FirstName: "G",
		LastName:  "G",
		Email:     "g@example.com",
		Password:  "weak",
	})
	assert.ErrorIs(t, err, domain.ErrPasswordPolicy)
}

func TestChangeEmail(t *testing.T) {
	c, store := newCommands(t)
	ctx := context.Background()

	result, err := c.AddHumanUser(ctx, testCtx(), AddHumanUser{
		Username: "gigi", FirstName: "G", LastName: "G", Email: "old@example.com",
	})
	require.NoError(t, err)

	require.NoError(t, c.ChangeEmail(ctx, testCtx(), result.UserID, "new@example.com"))

	err = c.ChangeEmail(ctx, testCtx(), result.UserID, "new@example.com")
	assert.ErrorIs(t, err, domain.ErrValidation, "unchanged email is rejected")

	agg, err := store.Aggregate(ctx, "instance-1", domain.AggregateTypeUser, result.UserID, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), agg.Version)
	assert.Equal(t, domain.UserHumanEmailChangedType, agg.Events[1].EventType)
}

func TestChangeUsernameSwapsClaims(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	first, err := c.AddHumanUser(ctx, testCtx(), AddHumanUser{
		Username: "gigi", FirstName: "G", LastName: "G", Email: "g@example.com",
	})
	require.NoError(t, err)

	require.NoError(t, c.ChangeUsername(ctx, testCtx(), first.UserID, "gigi2"))

	// the old username is free again
	_, err = c.AddHumanUser(ctx, testCtx(), AddHumanUser{
		Username: "gigi", FirstName: "H", LastName: "H", Email: "h@example.com",
	})
	assert.NoError(t, err)

	// the new one is taken
	_, err = c.AddHumanUser(ctx, testCtx(), AddHumanUser{
		Username: "gigi2", FirstName: "I", LastName: "I", Email: "i@example.com",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUserLifecycle(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	result, err := c.AddHumanUser(ctx, testCtx(), AddHumanUser{
		Username: "gigi", FirstName: "G", LastName: "G", Email: "g@example.com",
	})
	require.NoError(t, err)
	userID := result.UserID

	require.NoError(t, c.DeactivateUser(ctx, testCtx(), userID))
	assert.ErrorIs(t, c.DeactivateUser(ctx, testCtx(), userID), domain.ErrValidation)
	require.NoError(t, c.ReactivateUser(ctx, testCtx(), userID))
	require.NoError(t, c.LockUser(ctx, testCtx(), userID))
	assert.ErrorIs(t, c.DeactivateUser(ctx, testCtx(), userID), domain.ErrValidation)
	require.NoError(t, c.UnlockUser(ctx, testCtx(), userID))
	require.NoError(t, c.RemoveUser(ctx, testCtx(), userID))

	assert.ErrorIs(t, c.DeactivateUser(ctx, testCtx(), userID), domain.ErrNotFound)

	// the removed user's username can be claimed again
	_, err = c.AddHumanUser(ctx, testCtx(), AddHumanUser{
		Username: "gigi", FirstName: "H", LastName: "H", Email: "h@example.com",
	})
	assert.NoError(t, err)
}

func TestOTPFlow(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	result, err := c.AddHumanUser(ctx, testCtx(), AddHumanUser{
		Username: "gigi", FirstName: "G", LastName: "G", Email: "g@example.com",
	})
	require.NoError(t, err)
	userID := result.UserID

	assert.ErrorIs(t, c.VerifyOTP(ctx, testCtx(), userID), domain.ErrNotFound)

	require.NoError(t, c.AddOTP(ctx, testCtx(), userID, "JBSWY3DPEHPK3PXP"))
	require.NoError(t, c.VerifyOTP(ctx, testCtx(), userID))
	assert.ErrorIs(t, c.VerifyOTP(ctx, testCtx(), userID), domain.ErrValidation)
	assert.ErrorIs(t, c.AddOTP(ctx, testCtx(), userID, "NEWSECRET"), domain.ErrValidation)
	require.NoError(t, c.RemoveOTP(ctx, testCtx(), userID))
	require.NoError(t, c.AddOTP(ctx, testCtx(), userID, "NEWSECRET"))
}

func TestMachineUserAndKeys(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	result, err := c.AddMachineUser(ctx, testCtx(), AddMachineUser{
		Username: "ci-bot", Name: "CI Bot",
	})
	require.NoError(t, err)

	// profile commands do not apply to machines
	assert.ErrorIs(t, c.ChangeEmail(ctx, testCtx(), result.UserID, "bot@example.com"), domain.ErrNotFound)

	key, err := c.AddMachineKey(ctx, testCtx(), result.UserID, AddMachineKey{
		Type:           "json",
		ExpirationDate: domain.Now().AddDate(1, 0, 0),
		PublicKey:      []byte("-----BEGIN PUBLIC KEY-----"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, key.KeyID)

	require.NoError(t, c.RemoveMachineKey(ctx, testCtx(), result.UserID, key.KeyID))
	assert.ErrorIs(t, c.RemoveMachineKey(ctx, testCtx(), result.UserID, key.KeyID), domain.ErrNotFound)
}
