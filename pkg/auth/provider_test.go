package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/password"
	"github.com/plaenen/iamcore/pkg/query"
	"github.com/plaenen/iamcore/pkg/session"
	"github.com/plaenen/iamcore/pkg/token"
)

type fakeUsers struct {
	byUsername map[string]*query.User
	byID       map[string]*query.User
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, _, username string) (*query.User, error) {
	return f.byUsername[username], nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, _, id string) (*query.User, error) {
	return f.byID[id], nil
}

func newProvider(t *testing.T, users *fakeUsers) *Provider {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := session.NewManager(session.NewRedisStore(client))
	tokens, err := token.NewService([]byte("test-key"), token.NewRedisStore(client))
	require.NoError(t, err)
	return NewProvider(users, sessions, tokens, DefaultPolicy())
}

func activeUser(t *testing.T, plaintext string) *query.User {
	t.Helper()
	hash, err := password.Hash(plaintext, password.WithCost(password.MinCost))
	require.NoError(t, err)
	email := "gigi@example.com"
	return &query.User{
		ID:            "user-1",
		InstanceID:    "instance-1",
		ResourceOwner: "org-1",
		State:         domain.UserStateActive,
		Username:      "gigi",
		Email:         &email,
		PasswordHash:  &hash,
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	user := activeUser(t, "CorrectHorse9!")
	p := newProvider(t, &fakeUsers{byUsername: map[string]*query.User{"gigi": user}})

	result, err := p.Authenticate(context.Background(), "instance-1", "gigi", "CorrectHorse9!")
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	require.NotNil(t, result.Tokens)
	assert.Equal(t, "user-1", result.Session.UserID)
	assert.NotEmpty(t, result.Tokens.AccessToken)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	user := activeUser(t, "CorrectHorse9!")
	p := newProvider(t, &fakeUsers{byUsername: map[string]*query.User{"gigi": user}})

	_, err := p.Authenticate(context.Background(), "instance-1", "gigi", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	p := newProvider(t, &fakeUsers{byUsername: map[string]*query.User{}})

	_, err := p.Authenticate(context.Background(), "instance-1", "ghost", "whatever")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthenticateInactiveUser(t *testing.T) {
	user := activeUser(t, "CorrectHorse9!")
	user.State = domain.UserStateLocked
	p := newProvider(t, &fakeUsers{byUsername: map[string]*query.User{"gigi": user}})

	_, err := p.Authenticate(context.Background(), "instance-1", "gigi", "CorrectHorse9!")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthenticateWithMFA(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "iamcore", AccountName: "gigi"})
	require.NoError(t, err)
	secret := key.Secret()

	user := activeUser(t, "CorrectHorse9!")
	user.OTPSecret = &secret
	user.OTPVerified = true
	p := newProvider(t, &fakeUsers{
		byUsername: map[string]*query.User{"gigi": user},
		byID:       map[string]*query.User{"user-1": user},
	})

	_, err = p.Authenticate(context.Background(), "instance-1", "gigi", "CorrectHorse9!")
	var mfaErr *domain.MFARequiredError
	require.True(t, errors.As(err, &mfaErr))
	require.NotEmpty(t, mfaErr.MFAToken)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	result, err := p.VerifyMFA(context.Background(), mfaErr.MFAToken, code)
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
	assert.NotNil(t, result.Tokens)

	// the challenge token is single use
	_, err = p.VerifyMFA(context.Background(), mfaErr.MFAToken, code)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestVerifyMFAWrongCode(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "iamcore", AccountName: "gigi"})
	require.NoError(t, err)
	secret := key.Secret()

	user := activeUser(t, "CorrectHorse9!")
	user.OTPSecret = &secret
	user.OTPVerified = true
	p := newProvider(t, &fakeUsers{
		byUsername: map[string]*query.User{"gigi": user},
		byID:       map[string]*query.User{"user-1": user},
	})

	_, err = p.Authenticate(context.Background(), "instance-1", "gigi", "CorrectHorse9!")
	var mfaErr *domain.MFARequiredError
	require.True(t, errors.As(err, &mfaErr))

	_, err = p.VerifyMFA(context.Background(), mfaErr.MFAToken, "000000")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestValidatePasswordPolicy(t *testing.T) {
	err := ValidatePassword(DefaultPolicy(), "short")
	var policyErr *domain.PasswordPolicyError
	require.True(t, errors.As(err, &policyErr))
	assert.Contains(t, policyErr.Violations, "too short")

	assert.NoError(t, ValidatePassword(DefaultPolicy(), "V3ryStr0ngPassphrase!"))
}

func TestGenerateAndVerifyTOTP(t *testing.T) {
	secret, err := GenerateTOTPSecret("iamcore", "gigi@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, secret.Secret)
	assert.Contains(t, secret.URL, "otpauth://totp/")

	code, err := totp.GenerateCode(secret.Secret, time.Now())
	require.NoError(t, err)
	assert.True(t, VerifyTOTPCode(secret.Secret, code))
	assert.False(t, VerifyTOTPCode(secret.Secret, "123456"))
}
