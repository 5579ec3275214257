// Package auth verifies credentials and produces sessions and token pairs.
// Users with a verified second factor pass a two-step flow: password first,
// then the TOTP code together with the intermediate MFA token.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/idgen"
	"github.com/plaenen/iamcore/pkg/password"
	"github.com/plaenen/iamcore/pkg/query"
	"github.com/plaenen/iamcore/pkg/session"
	"github.com/plaenen/iamcore/pkg/token"
)

// UserSource is the subset of the user queries the provider reads.
type UserSource interface {
	GetUserByUsername(ctx context.Context, instanceID, username string) (*query.User, error)
	GetUserByID(ctx context.Context, instanceID, id string) (*query.User, error)
}

// Result is a completed authentication.
type Result struct {
	User    *query.User
	Session *session.Session
	Tokens  *token.Pair
}

// mfaChallenge is a pending second-factor prompt.
type mfaChallenge struct {
	userID     string
	instanceID string
	expiresAt  time.Time
}

// config holds internal configuration for the provider.
type config struct {
	mfaTokenTTL time.Duration
	now         func() time.Time
}

func defaultConfig() config {
	return config{
		mfaTokenTTL: 5 * time.Minute,
		now:         time.Now,
	}
}

// Option is a function that configures a Provider.
type Option func(*config)

// WithMFATokenTTL bounds how long the intermediate MFA token stays usable.
func WithMFATokenTTL(ttl time.Duration) Option {
	return func(c *config) { c.mfaTokenTTL = ttl }
}

// Provider authenticates users against the read model.
type Provider struct {
	users    UserSource
	sessions *session.Manager
	tokens   *token.Service
	policy   Policy
	cfg      config

	mu         sync.Mutex
	challenges map[string]mfaChallenge
}

func NewProvider(users UserSource, sessions *session.Manager, tokens *token.Service, policy Policy, opts ...Option) *Provider {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Provider{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		policy:     policy,
		cfg:        cfg,
		challenges: make(map[string]mfaChallenge),
	}
}

// Authenticate verifies username and password. When the user has a verified
// second factor it returns MFARequiredError carrying the token for VerifyMFA;
// otherwise it mints session and tokens directly.
func (p *Provider) Authenticate(ctx context.Context, instanceID, username, plaintext string) (*Result, error) {
	user, err := p.users.GetUserByUsername(ctx, instanceID, username)
	if err != nil {
		return nil, err
	}
	if user == nil || user.State != domain.UserStateActive || user.PasswordHash == nil {
		// indistinguishable from a wrong password on purpose
		return nil, domain.ErrInvalidCredentials
	}
	if err := password.Compare(*user.PasswordHash, plaintext); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	if user.OTPVerified && user.OTPSecret != nil {
		mfaToken := idgen.MustGenerateSortableID()
		p.mu.Lock()
		p.challenges[mfaToken] = mfaChallenge{
			userID:     user.ID,
			instanceID: instanceID,
			expiresAt:  p.cfg.now().Add(p.cfg.mfaTokenTTL),
		}
		p.mu.Unlock()
		return nil, domain.NewMFARequiredError(mfaToken)
	}

	return p.issue(ctx, user)
}

// VerifyMFA finishes a two-step authentication with the TOTP code.
func (p *Provider) VerifyMFA(ctx context.Context, mfaToken, code string) (*Result, error) {
	p.mu.Lock()
	challenge, ok := p.challenges[mfaToken]
	delete(p.challenges, mfaToken)
	p.mu.Unlock()
	if !ok || p.cfg.now().After(challenge.expiresAt) {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := p.users.GetUserByID(ctx, challenge.instanceID, challenge.userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.State != domain.UserStateActive || user.OTPSecret == nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !VerifyTOTPCode(*user.OTPSecret, code) {
		return nil, domain.ErrInvalidCredentials
	}

	return p.issue(ctx, user)
}

func (p *Provider) issue(ctx context.Context, user *query.User) (*Result, error) {
	sess, err := p.sessions.Create(ctx, user.ID, user.InstanceID, nil)
	if err != nil {
		return nil, err
	}
	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	pair, err := p.tokens.GenerateTokenPair(ctx, token.Payload{
		UserID:     user.ID,
		InstanceID: user.InstanceID,
		OrgID:      user.ResourceOwner,
		Email:      email,
	})
	if err != nil {
		return nil, err
	}
	return &Result{User: user, Session: sess, Tokens: pair}, nil
}

// ValidatePassword enforces the configured policy, used by the command layer
// on password set and change.
func (p *Provider) ValidatePassword(candidate string) error {
	return ValidatePassword(p.policy, candidate)
}
