package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/muniportal/portal-auth/internal/core/port"
)

const defaultMFAGuardPrefix = "portal:mfa"

// MFAGuardConfig tunes TOTP throttling and replay protection.
type MFAGuardConfig struct {
	KeyPrefix string
	// AttemptLimit failures inside AttemptWindow throttle the account until the window expires.
	AttemptLimit  int
	AttemptWindow time.Duration
	// CodeTTL bounds how long an accepted code stays claimed. Zero disables replay tracking.
	CodeTTL time.Duration
}

// MFAGuard counts failed TOTP checks per account and remembers accepted codes.
type MFAGuard struct {
	client *red.Client
	cfg    MFAGuardConfig
}

// NewMFAGuard constructs a Redis-backed guard.
func NewMFAGuard(client *red.Client, cfg MFAGuardConfig) *MFAGuard {
	cfg.KeyPrefix = strings.TrimSpace(cfg.KeyPrefix)
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultMFAGuardPrefix
	}
	if cfg.AttemptLimit <= 0 {
		cfg.AttemptLimit = 5
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 5 * time.Minute
	}
	return &MFAGuard{client: client, cfg: cfg}
}

// RecordFailure increments the failure counter. The window starts at the first failure.
func (g *MFAGuard) RecordFailure(ctx context.Context, accountID string) (bool, error) {
	key := g.failuresKey(accountID)
	if key == "" {
		return false, errors.New("account id is required")
	}

	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis record mfa failure: %w", err)
	}
	if count == 1 {
		if err := g.client.Expire(ctx, key, g.cfg.AttemptWindow).Err(); err != nil {
			return false, fmt.Errorf("redis expire mfa failures: %w", err)
		}
	}

	return int(count) >= g.cfg.AttemptLimit, nil
}

// IsThrottled reports whether the account exhausted its attempts in the current window.
func (g *MFAGuard) IsThrottled(ctx context.Context, accountID string) (bool, error) {
	key := g.failuresKey(accountID)
	if key == "" {
		return false, errors.New("account id is required")
	}

	raw, err := g.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get mfa failures: %w", err)
	}

	count, err := strconv.Atoi(raw)
	if err != nil {
		return false, fmt.Errorf("parse mfa failures: %w", err)
	}
	return count >= g.cfg.AttemptLimit, nil
}

// Reset clears the failure counter after a successful check.
func (g *MFAGuard) Reset(ctx context.Context, accountID string) error {
	key := g.failuresKey(accountID)
	if key == "" {
		return errors.New("account id is required")
	}
	if err := g.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis reset mfa failures: %w", err)
	}
	return nil
}

// ClaimCode marks the code as used. It returns false when the code was already claimed.
func (g *MFAGuard) ClaimCode(ctx context.Context, accountID, code string) (bool, error) {
	if g.cfg.CodeTTL <= 0 {
		return true, nil
	}
	accountID = strings.TrimSpace(accountID)
	code = strings.TrimSpace(code)
	if accountID == "" || code == "" {
		return false, errors.New("account id and code are required")
	}

	key := fmt.Sprintf("%s:used:%s:%s", g.cfg.KeyPrefix, accountID, code)
	ok, err := g.client.SetNX(ctx, key, "1", g.cfg.CodeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim mfa code: %w", err)
	}
	return ok, nil
}

func (g *MFAGuard) failuresKey(accountID string) string {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ""
	}
	return fmt.Sprintf("%s:failures:%s", g.cfg.KeyPrefix, accountID)
}

var _ port.MFAGuard = (*MFAGuard)(nil)
