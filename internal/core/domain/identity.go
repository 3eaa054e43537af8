package domain

import "time"

// AccountStatus enumerates possible account states.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

// MFAState tracks the TOTP lifecycle of an account.
type MFAState string

const (
	MFAStateDisabled     MFAState = "disabled"
	MFAStatePendingSetup MFAState = "pending_setup"
	MFAStateEnabled      MFAState = "enabled"
)

// Valid reports whether the state is one of the known MFA states.
func (s MFAState) Valid() bool {
	switch s {
	case MFAStateDisabled, MFAStatePendingSetup, MFAStateEnabled:
		return true
	default:
		return false
	}
}

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID             string
	Username       string
	AlternateID    *string
	PasswordHash   string
	Roles          []string
	Status         AccountStatus
	FailedAttempts int
	LockedUntil    *time.Time
	MFAState       MFAState
	// MFASecret holds the encrypted TOTP seed; empty when MFA is disabled.
	MFASecret    string
	MFAEnabledAt *time.Time
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// IsLocked reports whether a lockout is in effect at the supplied moment.
func (a Account) IsLocked(at time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(at)
}

// IsActive reports whether the account may authenticate at all.
func (a Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// MFAEnabled reports whether login must present a TOTP.
func (a Account) MFAEnabled() bool {
	return a.MFAState == MFAStateEnabled && a.MFASecret != ""
}

// Sanitized returns a copy without credential material.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	a.MFASecret = ""
	return a
}

// AttemptState is the outcome of an atomic failed-attempt update.
type AttemptState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Locked reports whether the update put (or kept) the account under lockout.
func (s AttemptState) Locked(at time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(at)
}
