package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/muniportal/portal-auth/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the identifier or password are incorrect. Unknown
	// identifiers and wrong passwords are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates too many failed attempts; the caller should try later.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive indicates the account is disabled.
	ErrAccountInactive = errors.New("account is not active")
	// ErrAccountNotFound indicates an authenticated principal no longer exists.
	ErrAccountNotFound = errors.New("account not found")
	// ErrDeviceLimitReached indicates the account already holds the maximum number of device sessions.
	ErrDeviceLimitReached = errors.New("device limit reached")
	// ErrMFARequired indicates the account requires a TOTP and none was supplied.
	ErrMFARequired = errors.New("mfa token required")
	// ErrInvalidToken indicates the TOTP did not validate.
	ErrInvalidToken = errors.New("invalid mfa token")
	// ErrInvalidPassword indicates password re-entry failed for a sensitive operation.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrMFANotConfigured indicates verify was called before setup.
	ErrMFANotConfigured = errors.New("mfa not configured")
	// ErrMFAAlreadyEnabled indicates setup was requested while MFA is already enforced.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFAThrottled indicates too many failed TOTP attempts in the current window.
	ErrMFAThrottled = errors.New("too many mfa attempts")
	// ErrMFAOnlyDisabled indicates MFA-only login is switched off.
	ErrMFAOnlyDisabled = errors.New("mfa-only login disabled")
	// ErrSessionNotFound indicates the session does not exist or belongs to someone else.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked indicates the session is no longer active.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrInvalidAccessToken indicates the bearer token is malformed or fails signature checks.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the bearer token has expired.
	ErrExpiredAccessToken = errors.New("access token expired")
	// ErrInfrastructure marks failures of the backing stores.
	ErrInfrastructure = errors.New("infrastructure unavailable")
)

// CredentialError describes a rejected credential check. Reason is
// ErrInvalidCredentials or ErrAccountLocked.
type CredentialError struct {
	Reason            error
	RemainingAttempts int
	Locked            bool
}

func (e *CredentialError) Error() string {
	if e.Locked {
		return ErrAccountLocked.Error()
	}
	return fmt.Sprintf("%s (%d attempts remaining)", e.Reason, e.RemainingAttempts)
}

func (e *CredentialError) Unwrap() error {
	return e.Reason
}

// DeviceLimitError lists the sessions occupying the device slots.
type DeviceLimitError struct {
	Limit    int
	Sessions []SessionView
}

func (e *DeviceLimitError) Error() string {
	return fmt.Sprintf("%s: %d of %d sessions active", ErrDeviceLimitReached, len(e.Sessions), e.Limit)
}

func (e *DeviceLimitError) Unwrap() error {
	return ErrDeviceLimitReached
}

// InfrastructureError wraps a store failure with the operation that hit it.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrInfrastructure, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// Is reports ErrInfrastructure as a match so callers can branch without errors.As.
func (e *InfrastructureError) Is(target error) bool {
	return target == ErrInfrastructure
}

func infraError(op string, err error) error {
	if err == nil {
		return nil
	}
	var infra *InfrastructureError
	if errors.As(err, &infra) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &InfrastructureError{Op: op, Err: err}
}
