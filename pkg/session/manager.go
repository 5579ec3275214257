package session

import (
	"context"
	"time"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/idgen"
)

// config holds internal configuration for the manager.
type config struct {
	ttl time.Duration
	now func() time.Time
}

func defaultConfig() config {
	return config{
		ttl: 24 * time.Hour,
		now: time.Now,
	}
}

// Option is a function that configures a Manager.
type Option func(*config)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// Manager creates, validates and expires sessions over a Store.
type Manager struct {
	store Store
	cfg   config
}

func NewManager(store Store, opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{store: store, cfg: cfg}
}

// Create starts a session for the user and persists it with the configured
// TTL.
func (m *Manager) Create(ctx context.Context, userID, instanceID string, metadata map[string]string) (*Session, error) {
	if userID == "" {
		return nil, domain.NewValidationError("userID", "must not be empty")
	}
	if instanceID == "" {
		return nil, domain.NewValidationError("instanceID", "must not be empty")
	}
	now := m.cfg.now()
	session := &Session{
		ID:             idgen.MustGenerateSortableID(),
		UserID:         userID,
		InstanceID:     instanceID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.ttl),
		LastActivityAt: now,
		Metadata:       metadata,
	}
	if err := m.store.Set(ctx, session, m.cfg.ttl); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the session or nil when absent or expired.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	session, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil || !m.cfg.now().Before(session.ExpiresAt) {
		return nil, nil
	}
	return session, nil
}

// UpdateActivity bumps the activity timestamp and refreshes the TTL.
func (m *Manager) UpdateActivity(ctx context.Context, id string) error {
	session, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.NewSessionExpiredError(id)
	}
	now := m.cfg.now()
	session.LastActivityAt = now
	session.ExpiresAt = now.Add(m.cfg.ttl)
	return m.store.Set(ctx, session, m.cfg.ttl)
}

// Delete removes one session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// DeleteAllForUser removes every session of the user.
func (m *Manager) DeleteAllForUser(ctx context.Context, userID string) error {
	ids, err := m.store.SessionIDsForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.store.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// IsValid reports whether the session exists and has not expired.
func (m *Manager) IsValid(ctx context.Context, id string) (bool, error) {
	session, err := m.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return session != nil, nil
}

// CleanupExpired sweeps expired sessions. A no-op for stores that enforce
// TTL themselves.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	return m.store.CleanupExpired(ctx)
}
