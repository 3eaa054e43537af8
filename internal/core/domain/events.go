package domain

import "time"

// SessionCreatedEvent represents the payload for portal.session.created messages.
type SessionCreatedEvent struct {
	EventID         string
	SessionID       string
	UserID          string
	DeviceSummary   string
	FingerprintHash string
	MFAOnly         bool
	CreatedAt       time.Time
	Metadata        map[string]any
}

// SessionRevokedEvent represents the payload for portal.session.revoked messages.
type SessionRevokedEvent struct {
	EventID   string
	SessionID string
	UserID    string
	RevokedAt time.Time
	RevokedBy string
	Reason    string
}

// SessionsPrunedEvent represents the payload for portal.sessions.pruned messages.
type SessionsPrunedEvent struct {
	EventID       string
	Cutoff        time.Time
	RetentionDays int
	Deactivated   int
	Purged        int
	SweptAt       time.Time
}

// AccountLockedEvent represents the payload for portal.account.locked messages.
type AccountLockedEvent struct {
	EventID        string
	UserID         string
	FailedAttempts int
	LockedUntil    time.Time
	LockedAt       time.Time
	Trigger        string
}

// MFAStateChangedEvent represents the payload for portal.account.mfa_changed messages.
type MFAStateChangedEvent struct {
	EventID   string
	UserID    string
	Previous  MFAState
	Current   MFAState
	ChangedAt time.Time
}
