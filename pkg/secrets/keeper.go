package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	gcsecrets "gocloud.dev/secrets"
	// Backends are opt-in; the binary imports the drivers it ships with:
	// _ "gocloud.dev/secrets/awskms"
	// _ "gocloud.dev/secrets/gcpkms"
	// _ "gocloud.dev/secrets/hashivault"
	// _ "gocloud.dev/secrets/localsecrets"
)

// KeeperStore reads an encrypted bundle file and decrypts it with a
// Go CDK keeper. Decrypted material is cached for a TTL so hot paths
// never block on the KMS backend.
type KeeperStore struct {
	keeper *gcsecrets.Keeper
	path   string
	ttl    time.Duration

	mu     sync.RWMutex
	cached *Bundle
	expiry time.Time
	closed bool
}

// KeeperOption configures a KeeperStore.
type KeeperOption func(*KeeperStore)

// WithCacheTTL overrides the default five minute decrypt cache.
func WithCacheTTL(ttl time.Duration) KeeperOption {
	return func(s *KeeperStore) { s.ttl = ttl }
}

// Open connects a keeper and verifies the bundle decrypts. keeperURL
// picks the backend, path is the ciphertext file written by Seal.
func Open(ctx context.Context, keeperURL, path string, opts ...KeeperOption) (*KeeperStore, error) {
	if keeperURL == "" {
		return nil, fmt.Errorf("keeper URL is required")
	}
	if path == "" {
		return nil, fmt.Errorf("bundle path is required")
	}

	keeper, err := gcsecrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, fmt.Errorf("open keeper: %w", err)
	}

	s := &KeeperStore{
		keeper: keeper,
		path:   path,
		ttl:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(ctx); err != nil {
		keeper.Close()
		return nil, err
	}
	return s, nil
}

// Bundle returns the cached bundle, reloading it when the TTL lapsed.
func (s *KeeperStore) Bundle(ctx context.Context) (*Bundle, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	if s.cached != nil && time.Now().Before(s.expiry) {
		b := s.cached
		s.mu.RUnlock()
		return b, nil
	}
	s.mu.RUnlock()

	if err := s.load(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached, nil
}

// Refresh drops the cache and decrypts the bundle again.
func (s *KeeperStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.cached = nil
	s.expiry = time.Time{}
	s.mu.Unlock()
	return s.load(ctx)
}

// Close releases the keeper. Further calls return ErrStoreClosed.
func (s *KeeperStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.keeper.Close()
}

func (s *KeeperStore) load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	ciphertext, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read bundle file: %w", err)
	}

	plaintext, err := s.keeper.Decrypt(ctx, ciphertext)
	if err != nil {
		return fmt.Errorf("decrypt bundle: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return fmt.Errorf("unmarshal bundle: %w", err)
	}
	if _, err := bundle.SigningKeyBytes(); err != nil {
		return fmt.Errorf("bundle rejected: %w", err)
	}

	s.cached = &bundle
	s.expiry = time.Now().Add(s.ttl)
	return nil
}

// Seal encrypts a bundle with the keeper and writes the ciphertext to
// path. Used by setup tooling and key rotation.
func Seal(ctx context.Context, keeperURL, path string, bundle *Bundle) error {
	if _, err := bundle.SigningKeyBytes(); err != nil {
		return fmt.Errorf("refusing to seal: %w", err)
	}

	keeper, err := gcsecrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return fmt.Errorf("open keeper: %w", err)
	}
	defer keeper.Close()

	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	ciphertext, err := keeper.Encrypt(ctx, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt bundle: %w", err)
	}

	if err := os.WriteFile(path, ciphertext, 0o600); err != nil {
		return fmt.Errorf("write bundle file: %w", err)
	}
	return nil
}
