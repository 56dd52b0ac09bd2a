package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares sessions between server replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store; a zero ttl keeps sessions forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) sessionKey(repoKey, id string) string {
	return fmt.Sprintf("repowiki:session:%s:%s", RepoHash(repoKey), id)
}

func (s *RedisStore) indexKey(repoKey string) string {
	return fmt.Sprintf("repowiki:sessions:%s", RepoHash(repoKey))
}

func (s *RedisStore) Load(ctx context.Context, repoKey, id string) (*Session, error) {
	val, err := s.client.Get(ctx, s.sessionKey(repoKey, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var session Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) Save(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(session.RepoKey, session.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(session.RepoKey), redis.Z{
		Score:  float64(session.UpdatedAt.UnixMilli()),
		Member: session.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, repoKey, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(repoKey, id))
	pipe.ZRem(ctx, s.indexKey(repoKey), id)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns sessions newest first. Index entries whose session expired are pruned.
func (s *RedisStore) List(ctx context.Context, repoKey string) ([]SessionMeta, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(repoKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := []SessionMeta{}
	for _, id := range ids {
		sess, err := s.Load(ctx, repoKey, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			s.client.ZRem(ctx, s.indexKey(repoKey), id)
			continue
		}
		out = append(out, sess.Meta())
	}
	sortMeta(out)
	return out, nil
}
