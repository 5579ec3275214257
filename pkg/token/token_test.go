package token

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

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	t.Cleanup(func() { store.Close() })
	svc, err := NewService([]byte("test-signing-key"), store, opts...)
	require.NoError(t, err)
	return svc
}

func testPayload() Payload {
	return Payload{
		UserID:     "user-1",
		InstanceID: "instance-1",
		OrgID:      "org-1",
		Email:      "gigi@example.com",
		Roles:      []string{"ORG_OWNER"},
	}
}

func TestGenerateTokenPair(t *testing.T) {
	svc := newService(t)

	pair, err := svc.GenerateTokenPair(context.Background(), testPayload())
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.True(t, pair.RefreshExpiry.After(pair.AccessExpiry))

	access, err := svc.VerifyToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", access.Subject)
	assert.Equal(t, "instance-1", access.InstanceID)
	assert.Equal(t, "org-1", access.OrgID)
	assert.Equal(t, "gigi@example.com", access.Email)
	assert.Equal(t, []string{"ORG_OWNER"}, access.Roles)
	assert.Equal(t, TypeAccess, access.TokenType)

	refresh, err := svc.VerifyToken(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TypeRefresh, refresh.TokenType)
	assert.NotEqual(t, access.ID, refresh.ID)
}

func TestGenerateTokenPairValidatesPayload(t *testing.T) {
	svc := newService(t)

	_, err := svc.GenerateTokenPair(context.Background(), Payload{InstanceID: "instance-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.GenerateTokenPair(context.Background(), Payload{UserID: "user-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVerifyExpiredToken(t *testing.T) {
	svc := newService(t, WithAccessTTL(time.Minute))

	pair, err := svc.GenerateTokenPair(context.Background(), testPayload())
	require.NoError(t, err)

	svc.cfg.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = svc.VerifyToken(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestVerifyTamperedToken(t *testing.T) {
	svc := newService(t)

	pair, err := svc.GenerateTokenPair(context.Background(), testPayload())
	require.NoError(t, err)

	_, err = svc.VerifyToken(context.Background(), pair.AccessToken+"x")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestRefreshRotatesAndInvalidates(t *testing.T) {
	svc := newService(t)

	pair, err := svc.GenerateTokenPair(context.Background(), testPayload())
	require.NoError(t, err)

	next, err := svc.RefreshToken(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// single use: the consumed refresh token no longer works
	_, err = svc.RefreshToken(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	// the rotated pair does
	_, err = svc.RefreshToken(context.Background(), next.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc := newService(t)

	pair, err := svc.GenerateTokenPair(context.Background(), testPayload())
	require.NoError(t, err)

	_, err = svc.RefreshToken(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRevokeToken(t *testing.T) {
	svc := newService(t)

	pair, err := svc.GenerateTokenPair(context.Background(), testPayload())
	require.NoError(t, err)

	require.NoError(t, svc.RevokeToken(context.Background(), pair.AccessToken))

	_, err = svc.VerifyToken(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}
