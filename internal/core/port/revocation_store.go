package port

import (
	"context"
	"time"
)

// SessionRevocationStore caches session revocation flags for rapid access-token checks.
type SessionRevocationStore interface {
	MarkSessionRevoked(ctx context.Context, sessionID string, reason string, ttl time.Duration) error
	IsSessionRevoked(ctx context.Context, sessionID string) (bool, string, error)
	ClearSessionRevocation(ctx context.Context, sessionID string) error
}

// MFAGuard throttles TOTP guessing and rejects replayed codes.
type MFAGuard interface {
	// RecordFailure increments the per-account failure counter and reports whether the limit is reached.
	RecordFailure(ctx context.Context, accountID string) (bool, error)
	IsThrottled(ctx context.Context, accountID string) (bool, error)
	Reset(ctx context.Context, accountID string) error
	// ClaimCode returns false when the code was already accepted for the account inside the window.
	ClaimCode(ctx context.Context, accountID, code string) (bool, error)
}
