package token

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plaenen/iamcore/pkg/domain"
)

func refreshKey(jti string) string { return "refresh_token:" + jti }

func revokedKey(jti string) string { return "revoked_token:" + jti }

// RedisStore backs refresh validity and revocation with Redis; entries expire
// with the token they track.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) MarkRefreshValid(ctx context.Context, jti string, ttl time.Duration) error {
	if err := s.client.Set(ctx, refreshKey(jti), "1", ttl).Err(); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (s *RedisStore) ConsumeRefresh(ctx context.Context, jti string) (bool, error) {
	deleted, err := s.client.Del(ctx, refreshKey(jti)).Result()
	if err != nil {
		return false, domain.NewIntegrationError(err)
	}
	return deleted > 0, nil
}

func (s *RedisStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if err := s.client.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, domain.NewIntegrationError(err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is the in-process Store for tests and single-node setups.
type MemoryStore struct {
	mu      sync.Mutex
	refresh map[string]time.Time
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		refresh: make(map[string]time.Time),
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) MarkRefreshValid(_ context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	s.refresh[jti] = s.now().Add(ttl)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ConsumeRefresh(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.refresh[jti]
	delete(s.refresh, jti)
	return ok && s.now().Before(expiry), nil
}

func (s *MemoryStore) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	s.revoked[jti] = s.now().Add(ttl)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.revoked[jti]
	return ok && s.now().Before(expiry), nil
}

func (s *MemoryStore) Close() error { return nil }
