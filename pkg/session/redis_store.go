package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisUserStateStore backs UserState with a shared Redis keyspace so
// that multiple orchestrator replicas converge on the same per-user
// preferences and behavioral counters instead of each holding its own
// in-memory copy. It is optional: a Manager with no store attached keeps
// user state local to the process, as before.
type RedisUserStateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisUserStateStore(addr, prefix string, ttl time.Duration) *RedisUserStateStore {
	if prefix == "" {
		prefix = "brain:user:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisUserStateStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisUserStateStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisUserStateStore) Load(ctx context.Context, userID string) (*UserState, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis user state load: %w", err)
	}
	var state UserState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("redis user state decode: %w", err)
	}
	return &state, nil
}

func (s *RedisUserStateStore) Save(ctx context.Context, state *UserState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis user state encode: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis user state save: %w", err)
	}
	return nil
}

func (s *RedisUserStateStore) Close() error {
	return s.client.Close()
}

// WithRedisStore attaches a distributed UserState backing store. On
// GetOrCreate, a user state absent from local memory is loaded from
// Redis before falling back to a fresh default; AppendTurn persists the
// updated state back whenever it touched behavioral counters.
func (m *Manager) WithRedisStore(store *RedisUserStateStore) *Manager {
	m.redisStore = store
	return m
}
