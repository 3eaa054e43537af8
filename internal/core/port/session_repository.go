package port

import (
	"context"
	"time"

	"github.com/muniportal/portal-auth/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	// ListActive returns active sessions ordered by created_at descending.
	ListActive(ctx context.Context, userID string) ([]domain.Session, error)
	CountActive(ctx context.Context, userID string) (int, error)
	// Revoke is idempotent; it reports whether an active session was deactivated.
	Revoke(ctx context.Context, sessionID string, reason string, at time.Time) (bool, error)
	RevokeAllExcept(ctx context.Context, userID, keepSessionID, reason string, at time.Time) ([]string, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) ([]string, error)
	// PruneOlderThan deactivates active sessions created before cutoff.
	PruneOlderThan(ctx context.Context, cutoff time.Time, at time.Time) (int, error)
	// PurgeInactiveOlderThan hard-deletes inactive sessions created before cutoff.
	PurgeInactiveOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	StoreEvent(ctx context.Context, event domain.SessionEvent) error
}
