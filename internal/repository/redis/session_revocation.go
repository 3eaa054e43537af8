package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/muniportal/portal-auth/internal/core/port"
)

const defaultSessionRevocationPrefix = "portal:revoked_session"

// SessionRevocationStore caches revoked session identifiers so access tokens
// bound to them are rejected without a database read.
type SessionRevocationStore struct {
	client *red.Client
	prefix string
}

// NewSessionRevocationStore constructs a Redis-backed session revocation cache.
func NewSessionRevocationStore(client *red.Client, keyPrefix string) *SessionRevocationStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionRevocationPrefix
	}

	return &SessionRevocationStore{client: client, prefix: prefix}
}

// MarkSessionRevoked stores the session identifier with the revoke reason until ttl elapses.
// The ttl should cover the remaining lifetime of any token bound to the session.
func (s *SessionRevocationStore) MarkSessionRevoked(ctx context.Context, sessionID string, reason string, ttl time.Duration) error {
	key := s.key(sessionID)
	if key == "" {
		return errors.New("session id is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	value := strings.TrimSpace(reason)
	if value == "" {
		value = "revoked"
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session revocation: %w", err)
	}
	return nil
}

// IsSessionRevoked reports whether the session is flagged and returns the stored reason.
// A miss does not prove the session is active; callers fall back to the session store.
func (s *SessionRevocationStore) IsSessionRevoked(ctx context.Context, sessionID string) (bool, string, error) {
	key := s.key(sessionID)
	if key == "" {
		return false, "", errors.New("session id is required")
	}

	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("redis get session revocation: %w", err)
	}
	return true, value, nil
}

// ClearSessionRevocation removes a cached flag.
func (s *SessionRevocationStore) ClearSessionRevocation(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)
	if key == "" {
		return errors.New("session id is required")
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete session revocation: %w", err)
	}
	return nil
}

func (s *SessionRevocationStore) key(sessionID string) string {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return ""
	}
	return s.prefix + ":" + trimmed
}

var _ port.SessionRevocationStore = (*SessionRevocationStore)(nil)
