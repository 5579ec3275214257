// Package session manages opaque user sessions in a TTL key-value store.
// Sessions live under `session:{id}` with a per-user index under
// `user_sessions:{userID}`; the store TTL equals the session TTL.
package session

import (
	"context"
	"time"
)

// Session is one authenticated session.
type Session struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	InstanceID     string            `json:"instanceId"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Store is the backing key-value cache. Implementations enforce the TTL
// themselves where they can (Redis); CleanupExpired covers the rest.
type Store interface {
	Set(ctx context.Context, s *Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	SessionIDsForUser(ctx context.Context, userID string) ([]string, error)
	CleanupExpired(ctx context.Context) error
	Close() error
}

func sessionKey(id string) string { return "session:" + id }

func userSessionsKey(userID string) string { return "user_sessions:" + userID }
