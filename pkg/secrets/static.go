package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// StaticStore serves a fixed bundle. Meant for tests and local
// development where no KMS backend is available.
type StaticStore struct {
	mu     sync.RWMutex
	bundle *Bundle
	closed bool
}

// NewStaticStore validates and wraps a bundle.
func NewStaticStore(bundle *Bundle) (*StaticStore, error) {
	if _, err := bundle.SigningKeyBytes(); err != nil {
		return nil, err
	}
	return &StaticStore{bundle: bundle}, nil
}

func (s *StaticStore) Bundle(ctx context.Context) (*Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.bundle, nil
}

func (s *StaticStore) Refresh(ctx context.Context) error { return nil }

func (s *StaticStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// EnvStore reads the signing key from an environment variable on every
// Bundle call, so the key can be rotated by restarting the process with
// a new value. SMTP passwords follow the IAMCORE_SMTP_PASSWORD_<id>
// convention and are resolved lazily.
type EnvStore struct {
	keyVar string
}

// NewEnvStore returns a store backed by the named environment variable.
func NewEnvStore(keyVar string) *EnvStore {
	return &EnvStore{keyVar: keyVar}
}

func (s *EnvStore) Bundle(ctx context.Context) (*Bundle, error) {
	encoded := os.Getenv(s.keyVar)
	if encoded == "" {
		return nil, fmt.Errorf("environment variable %s not set", s.keyVar)
	}
	bundle := &Bundle{SigningKey: encoded}
	if _, err := bundle.SigningKeyBytes(); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (s *EnvStore) Refresh(ctx context.Context) error { return nil }

func (s *EnvStore) Close() error { return nil }
