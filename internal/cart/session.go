package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRepository persists cart lines per browsing session.
type SessionRepository interface {
	Load(ctx context.Context, sessionID string) ([]LineItem, error)
	Save(ctx context.Context, sessionID string, items []LineItem) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisSessions stores each session cart as a JSON document. Reads and writes
// extend the expiry so an active session keeps its cart.
type RedisSessions struct {
	R   *redis.Client
	TTL time.Duration
}

func (s RedisSessions) ttl() time.Duration {
	if s.TTL <= 0 {
		return 24 * time.Hour
	}
	return s.TTL
}

func sessionKey(sessionID string) string {
	return "cart:session:" + sessionID
}

// Load returns the session cart or nil when none is stored.
func (s RedisSessions) Load(ctx context.Context, sessionID string) ([]LineItem, error) {
	if s.R == nil {
		return nil, errors.New("cart sessions: redis client not configured")
	}
	data, err := s.R.GetEx(ctx, sessionKey(sessionID), s.ttl()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load cart session: %w", err)
	}
	var items []LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode cart session: %w", err)
	}
	return items, nil
}

// Save replaces the session cart. An empty cart deletes the key.
func (s RedisSessions) Save(ctx context.Context, sessionID string, items []LineItem) error {
	if s.R == nil {
		return errors.New("cart sessions: redis client not configured")
	}
	if len(items) == 0 {
		return s.Delete(ctx, sessionID)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := s.R.Set(ctx, sessionKey(sessionID), data, s.ttl()).Err(); err != nil {
		return fmt.Errorf("save cart session: %w", err)
	}
	return nil
}

// Delete drops the session cart.
func (s RedisSessions) Delete(ctx context.Context, sessionID string) error {
	if s.R == nil {
		return errors.New("cart sessions: redis client not configured")
	}
	if err := s.R.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete cart session: %w", err)
	}
	return nil
}
