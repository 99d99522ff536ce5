package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const csrfField = "csrf_token"

// SessionStore keeps per-user session metadata in a Redis hash.
type SessionStore struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{redisClient: rdb, ttl: ttl}
}

func sessionKey(userID uuid.UUID) string {
	return fmt.Sprintf("session:%s", userID)
}

// CSRFToken returns the stored token, or "" when the session has none.
func (s *SessionStore) CSRFToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := s.redisClient.HGet(ctx, sessionKey(userID), csrfField).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	return token, nil
}

// IssueCSRFToken generates a fresh token, replacing any previous one, and refreshes the session TTL.
func (s *SessionStore) IssueCSRFToken(ctx context.Context, userID uuid.UUID) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := hex.EncodeToString(buf)

	key := sessionKey(userID)
	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, csrfField, token)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return token, nil
}
