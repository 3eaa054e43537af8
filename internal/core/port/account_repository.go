package port

import (
	"context"
	"time"

	"github.com/muniportal/portal-auth/internal/core/domain"
)

// AccountRepository exposes the identity store consumed by the session core.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// GetByIdentifier matches the username or the alternate identifier.
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	// RecordFailedAttempt atomically increments the failure counter and applies
	// lockUntil once the counter reaches threshold.
	RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil, at time.Time) (domain.AttemptState, error)
	ResetFailedAttempts(ctx context.Context, id string, at time.Time) error
	SetMFASecret(ctx context.Context, id string, encryptedSecret string) error
	// EnableMFA moves a pending setup to enabled; returns false when the account was not pending.
	EnableMFA(ctx context.Context, id string, at time.Time) (bool, error)
	ClearMFASecret(ctx context.Context, id string) error
}
