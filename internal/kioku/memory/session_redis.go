package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL is how long an idle session survives in Redis.
const DefaultSessionTTL = 30 * 24 * time.Hour

// RedisSessionStore keeps session state in Redis under kioku:session:<user>.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a store; ttl <= 0 selects DefaultSessionTTL.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(userID string) string {
	return fmt.Sprintf("kioku:session:%s", userID)
}

// LoadSession returns the saved state for userID.
func (s *RedisSessionStore) LoadSession(ctx context.Context, userID string) (SessionState, bool, error) {
	key := sessionKey(userID)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionState{}, false, nil
	}
	if err != nil {
		return SessionState{}, false, fmt.Errorf("get %s: %w", key, err)
	}

	var st SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return SessionState{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return st, true, nil
}

// SaveSession writes the state and refreshes its TTL.
func (s *RedisSessionStore) SaveSession(ctx context.Context, st SessionState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := sessionKey(st.UserID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

var _ SessionStore = (*RedisSessionStore)(nil)
