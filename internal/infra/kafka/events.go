package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/config"
	"github.com/muniportal/portal-auth/internal/infra/telemetry"
)

const schemaVersion = "1.0"

// Event types, published under the configured topic prefix.
const (
	EventSessionCreated  = "session.created"
	EventSessionRevoked  = "session.revoked"
	EventSessionsPruned  = "sessions.pruned"
	EventAccountLocked   = "account.locked"
	EventMFAStateChanged = "account.mfa_changed"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if traceID := telemetry.TraceIDFromContext(ctx); traceID != "" {
		metadata["trace_id"] = traceID
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	// Keying by user keeps one account's events ordered within a partition.
	if userID != "" {
		message.Key = sarama.StringEncoder(userID)
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSessionCreated publishes session.created events.
func (p *EventPublisher) PublishSessionCreated(ctx context.Context, event domain.SessionCreatedEvent) error {
	payload := struct {
		SessionID       string         `json:"session_id"`
		UserID          string         `json:"user_id"`
		DeviceSummary   string         `json:"device_summary"`
		FingerprintHash string         `json:"fingerprint_hash"`
		MFAOnly         bool           `json:"mfa_only"`
		CreatedAt       time.Time      `json:"created_at"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:       event.SessionID,
		UserID:          event.UserID,
		DeviceSummary:   event.DeviceSummary,
		FingerprintHash: event.FingerprintHash,
		MFAOnly:         event.MFAOnly,
		CreatedAt:       event.CreatedAt.UTC(),
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventSessionCreated, event.UserID, event.CreatedAt, payload)
}

// PublishSessionRevoked publishes session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionID string    `json:"session_id"`
		UserID    string    `json:"user_id"`
		RevokedAt time.Time `json:"revoked_at"`
		RevokedBy string    `json:"revoked_by,omitempty"`
		Reason    string    `json:"reason"`
	}{
		SessionID: event.SessionID,
		UserID:    event.UserID,
		RevokedAt: event.RevokedAt.UTC(),
		RevokedBy: event.RevokedBy,
		Reason:    event.Reason,
	}

	return p.publish(ctx, event.EventID, EventSessionRevoked, event.UserID, event.RevokedAt, payload)
}

// PublishSessionsPruned publishes sessions.pruned events.
func (p *EventPublisher) PublishSessionsPruned(ctx context.Context, event domain.SessionsPrunedEvent) error {
	payload := struct {
		Cutoff        time.Time `json:"cutoff"`
		RetentionDays int       `json:"retention_days"`
		Deactivated   int       `json:"deactivated"`
		Purged        int       `json:"purged"`
		SweptAt       time.Time `json:"swept_at"`
	}{
		Cutoff:        event.Cutoff.UTC(),
		RetentionDays: event.RetentionDays,
		Deactivated:   event.Deactivated,
		Purged:        event.Purged,
		SweptAt:       event.SweptAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventSessionsPruned, "", event.SweptAt, payload)
}

// PublishAccountLocked publishes account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		UserID         string    `json:"user_id"`
		FailedAttempts int       `json:"failed_attempts"`
		LockedUntil    time.Time `json:"locked_until"`
		LockedAt       time.Time `json:"locked_at"`
		Trigger        string    `json:"trigger"`
	}{
		UserID:         event.UserID,
		FailedAttempts: event.FailedAttempts,
		LockedUntil:    event.LockedUntil.UTC(),
		LockedAt:       event.LockedAt.UTC(),
		Trigger:        event.Trigger,
	}

	return p.publish(ctx, event.EventID, EventAccountLocked, event.UserID, event.LockedAt, payload)
}

// PublishMFAStateChanged publishes account.mfa_changed events.
func (p *EventPublisher) PublishMFAStateChanged(ctx context.Context, event domain.MFAStateChangedEvent) error {
	payload := struct {
		UserID    string    `json:"user_id"`
		Previous  string    `json:"previous"`
		Current   string    `json:"current"`
		ChangedAt time.Time `json:"changed_at"`
	}{
		UserID:    event.UserID,
		Previous:  string(event.Previous),
		Current:   string(event.Current),
		ChangedAt: event.ChangedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventMFAStateChanged, event.UserID, event.ChangedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
