package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/rangeplanner/internal/session"
)

// SessionStore keeps editing sessions as JSON blobs that expire when idle.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStoreWithClient(c *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 { ttl = 2 * time.Hour }
	return &SessionStore{client: c, ttl: ttl}
}

func (s *SessionStore) key(id string) string { return fmt.Sprintf("session:%s", id) }

// Save writes the session and refreshes its TTL.
func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	b, err := json.Marshal(sess)
	if err != nil { return fmt.Errorf("encode session: %w", err) }
	return s.client.Set(ctx, s.key(sess.ID), b, s.ttl).Err()
}

func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil { return nil, fmt.Errorf("session %s: %w", id, ErrNotFound) }
	if err != nil { return nil, err }
	var sess session.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Delete drops a session once it has been submitted or cancelled.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}
