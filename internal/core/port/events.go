package port

import (
	"context"

	"github.com/muniportal/portal-auth/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishSessionCreated(ctx context.Context, event domain.SessionCreatedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishSessionsPruned(ctx context.Context, event domain.SessionsPrunedEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishMFAStateChanged(ctx context.Context, event domain.MFAStateChangedEvent) error
}
