// Package token mints and verifies JWT access/refresh token pairs. Refresh
// tokens are single-use: presenting one rotates the pair and invalidates it.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/idgen"
)

// Token types carried in the custom claim; refresh tokens are rejected
// everywhere except RefreshToken.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Payload is the identity a token pair is minted for.
type Payload struct {
	UserID     string
	InstanceID string
	OrgID      string
	Email      string
	Roles      []string
}

// Claims are the decoded token claims.
type Claims struct {
	jwt.RegisteredClaims
	TokenType  string   `json:"token_type"`
	InstanceID string   `json:"instance_id"`
	OrgID      string   `json:"org_id,omitempty"`
	Email      string   `json:"email,omitempty"`
	Roles      []string `json:"roles,omitempty"`
}

// Pair is one issued access/refresh pair.
type Pair struct {
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// Store tracks refresh-token validity and revoked jtis. TTLs bound the
// entries to the token lifetimes.
type Store interface {
	MarkRefreshValid(ctx context.Context, jti string, ttl time.Duration) error
	// ConsumeRefresh invalidates the jti and reports whether it was valid.
	ConsumeRefresh(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Close() error
}

// config holds internal configuration for the service.
type config struct {
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   string
	now        func() time.Time
}

func defaultConfig() config {
	return config{
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		issuer:     "iamcore",
		audience:   "iamcore",
		now:        time.Now,
	}
}

// Option is a function that configures a Service.
type Option func(*config)

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(c *config) { c.accessTTL = ttl }
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(c *config) { c.refreshTTL = ttl }
}

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) Option {
	return func(c *config) { c.issuer = issuer }
}

// WithAudience sets the aud claim.
func WithAudience(audience string) Option {
	return func(c *config) { c.audience = audience }
}

// Service signs and verifies token pairs with an HMAC key.
type Service struct {
	key   []byte
	store Store
	cfg   config
}

func NewService(key []byte, store Store, opts ...Option) (*Service, error) {
	if len(key) == 0 {
		return nil, domain.NewValidationError("key", "signing key must not be empty")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{key: key, store: store, cfg: cfg}, nil
}

func (s *Service) sign(payload Payload, tokenType string, ttl time.Duration) (string, time.Time, string, error) {
	now := s.cfg.now()
	expiry := now.Add(ttl)
	jti := idgen.MustGenerateSortableID()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.UserID,
			Issuer:    s.cfg.issuer,
			Audience:  jwt.ClaimStrings{s.cfg.audience},
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		TokenType:  tokenType,
		InstanceID: payload.InstanceID,
		OrgID:      payload.OrgID,
		Email:      payload.Email,
		Roles:      payload.Roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, "", domain.NewIntegrationError(err)
	}
	return signed, expiry, jti, nil
}

// GenerateTokenPair mints an access and a refresh token with distinct jtis
// and registers the refresh jti as valid.
func (s *Service) GenerateTokenPair(ctx context.Context, payload Payload) (*Pair, error) {
	if payload.UserID == "" {
		return nil, domain.NewValidationError("userID", "must not be empty")
	}
	if payload.InstanceID == "" {
		return nil, domain.NewValidationError("instanceID", "must not be empty")
	}

	access, accessExpiry, _, err := s.sign(payload, TypeAccess, s.cfg.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExpiry, refreshJTI, err := s.sign(payload, TypeRefresh, s.cfg.refreshTTL)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkRefreshValid(ctx, refreshJTI, s.cfg.refreshTTL); err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
	}, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.issuer),
		jwt.WithAudience(s.cfg.audience),
		jwt.WithTimeFunc(s.cfg.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, domain.ErrTokenExpired
	}
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return claims, nil
}

// VerifyToken validates signature, expiry and revocation and returns the
// claims.
func (s *Service) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, domain.ErrInvalidCredentials
	}
	return claims, nil
}

// RefreshToken consumes a refresh token and mints a fresh pair. The presented
// token is invalid afterwards; access tokens are rejected.
func (s *Service) RefreshToken(ctx context.Context, refresh string) (*Pair, error) {
	claims, err := s.parse(refresh)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, domain.NewValidationError("token", "not a refresh token")
	}
	valid, err := s.store.ConsumeRefresh(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, domain.ErrInvalidCredentials
	}
	return s.GenerateTokenPair(ctx, Payload{
		UserID:     claims.Subject,
		InstanceID: claims.InstanceID,
		OrgID:      claims.OrgID,
		Email:      claims.Email,
		Roles:      claims.Roles,
	})
}

// RevokeToken adds the token's jti to the revocation set until it would have
// expired anyway.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Sub(s.cfg.now())
	if ttl <= 0 {
		return nil
	}
	return s.store.Revoke(ctx, claims.ID, ttl)
}
