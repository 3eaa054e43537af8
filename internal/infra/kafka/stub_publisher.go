package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Selected when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a logging event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	base := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}
	p.logger.Info("stub event published", append(base, fields...)...)
}

// PublishSessionCreated logs session.created events.
func (p *StubPublisher) PublishSessionCreated(_ context.Context, event domain.SessionCreatedEvent) error {
	p.logEvent(EventSessionCreated, event.UserID, event.CreatedAt,
		zap.String("session_id", event.SessionID),
		zap.String("device", event.DeviceSummary),
		zap.Bool("mfa_only", event.MFAOnly),
	)
	return nil
}

// PublishSessionRevoked logs session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	p.logEvent(EventSessionRevoked, event.UserID, event.RevokedAt,
		zap.String("session_id", event.SessionID),
		zap.String("reason", event.Reason),
	)
	return nil
}

// PublishSessionsPruned logs sessions.pruned events.
func (p *StubPublisher) PublishSessionsPruned(_ context.Context, event domain.SessionsPrunedEvent) error {
	p.logEvent(EventSessionsPruned, "", event.SweptAt,
		zap.Time("cutoff", event.Cutoff),
		zap.Int("deactivated", event.Deactivated),
		zap.Int("purged", event.Purged),
	)
	return nil
}

// PublishAccountLocked logs account.locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.logEvent(EventAccountLocked, event.UserID, event.LockedAt,
		zap.Int("failed_attempts", event.FailedAttempts),
		zap.Time("locked_until", event.LockedUntil),
		zap.String("trigger", event.Trigger),
	)
	return nil
}

// PublishMFAStateChanged logs account.mfa_changed events.
func (p *StubPublisher) PublishMFAStateChanged(_ context.Context, event domain.MFAStateChangedEvent) error {
	p.logEvent(EventMFAStateChanged, event.UserID, event.ChangedAt,
		zap.String("previous", string(event.Previous)),
		zap.String("current", string(event.Current)),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
