package domain

import "time"

// Session represents one authenticated login instance bound to a device fingerprint.
type Session struct {
	ID              string
	UserID          string
	FingerprintHash string
	DeviceMetadata  DeviceMetadata
	// UserAgentEnc and IPEnc hold ciphertext produced by the field encryptor.
	UserAgentEnc string
	IPEnc        string
	CreatedAt    time.Time
	LastSeenAt   time.Time
	IsActive     bool
	RevokedAt    *time.Time
	RevokeReason *string
}

// Touch advances last-seen; it never moves backwards.
func (s *Session) Touch(at time.Time) {
	if at.After(s.LastSeenAt) {
		s.LastSeenAt = at
	}
}

// Deactivate marks the session inactive. Returns true when the session changed state.
func (s *Session) Deactivate(at time.Time, reason string) bool {
	if !s.IsActive {
		return false
	}
	s.IsActive = false
	s.RevokedAt = &at
	s.RevokeReason = &reason
	return true
}

// MatchesFingerprint reports whether the session was created from the supplied device fingerprint.
func (s Session) MatchesFingerprint(hash string) bool {
	return hash != "" && s.IsActive && s.FingerprintHash == hash
}

// SessionEvent captures lifecycle changes for sessions.
type SessionEvent struct {
	ID        string
	SessionID string
	Kind      string
	At        time.Time
	Details   map[string]any
}

const (
	SessionEventCreated = "session.created"
	SessionEventRevoked = "session.revoked"
)

// Revocation reasons recorded on sessions and events.
const (
	RevokeReasonUserLogout       = "user_logout"
	RevokeReasonCredentialLogout = "credential_logout"
	RevokeReasonLogoutOthers     = "logout_other_sessions"
	RevokeReasonLogoutAll        = "logout_all"
	RevokeReasonPruned           = "retention_pruned"
)
