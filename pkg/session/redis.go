package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plaenen/iamcore/pkg/domain"
)

// RedisStore keeps sessions in Redis. TTL enforcement is delegated to the
// server; CleanupExpired only prunes dangling ids from the per-user index.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Set(ctx context.Context, session *Session, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return domain.NewIntegrationError(err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), raw, ttl)
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID)
	pipe.Expire(ctx, userSessionsKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	session := new(Session)
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return session, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	if session != nil {
		pipe.SRem(ctx, userSessionsKey(session.UserID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (s *RedisStore) SessionIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return ids, nil
}

// CleanupExpired removes index entries whose session key already expired.
func (s *RedisStore) CleanupExpired(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "user_sessions:*", 100).Result()
		if err != nil {
			return domain.NewIntegrationError(err)
		}
		for _, key := range keys {
			ids, err := s.client.SMembers(ctx, key).Result()
			if err != nil {
				return domain.NewIntegrationError(err)
			}
			for _, id := range ids {
				exists, err := s.client.Exists(ctx, sessionKey(id)).Result()
				if err != nil {
					return domain.NewIntegrationError(err)
				}
				if exists == 0 {
					if err := s.client.SRem(ctx, key, id).Err(); err != nil {
						return domain.NewIntegrationError(err)
					}
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
