package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/logger"
	"github.com/muniportal/portal-auth/internal/infra/telemetry"
	"github.com/muniportal/portal-auth/internal/repository"
)

// Lockout triggers recorded on account.locked events.
const (
	LockTriggerPassword = "password"
	LockTriggerMFAOnly  = "mfa_only"
	LockTriggerReauth   = "reauthentication"
)

// CredentialPolicy configures failed-attempt accounting.
type CredentialPolicy struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	ReadRetryBackoff time.Duration
}

// ProofFunc checks a credential against a loaded account. It returns
// ErrInvalidCredentials when the proof is wrong.
type ProofFunc func(ctx context.Context, account *domain.Account) error

// CredentialVerifier validates credentials and owns the per-account lockout counter.
type CredentialVerifier struct {
	accounts  port.AccountRepository
	hasher    port.PasswordHasher
	events    port.EventPublisher
	metrics   *telemetry.AuthMetrics
	policy    CredentialPolicy
	logger    *zap.Logger
	now       func() time.Time
	dummyHash string
}

// NewCredentialVerifier constructs a CredentialVerifier.
func NewCredentialVerifier(accounts port.AccountRepository, hasher port.PasswordHasher, policy CredentialPolicy, logger *zap.Logger) *CredentialVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.LockoutThreshold <= 0 {
		policy.LockoutThreshold = 5
	}
	if policy.LockoutDuration <= 0 {
		policy.LockoutDuration = 15 * time.Minute
	}
	if policy.ReadRetryBackoff <= 0 {
		policy.ReadRetryBackoff = defaultReadRetryBackoff
	}

	v := &CredentialVerifier{
		accounts: accounts,
		hasher:   hasher,
		policy:   policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	// Unknown identifiers still pay for one hash verification.
	if hasher != nil {
		if hash, err := hasher.Hash(uuid.NewString()); err == nil {
			v.dummyHash = hash
		}
	}
	return v
}

// WithEvents enables account.locked publication.
func (v *CredentialVerifier) WithEvents(events port.EventPublisher) *CredentialVerifier {
	v.events = events
	return v
}

// WithMetrics enables lockout counters.
func (v *CredentialVerifier) WithMetrics(metrics *telemetry.AuthMetrics) *CredentialVerifier {
	v.metrics = metrics
	return v
}

// WithClock overrides the internal clock for deterministic tests.
func (v *CredentialVerifier) WithClock(clock func() time.Time) *CredentialVerifier {
	if clock != nil {
		v.now = clock
	}
	return v
}

// Threshold returns the number of failures that triggers a lockout.
func (v *CredentialVerifier) Threshold() int {
	return v.policy.LockoutThreshold
}

// Verify checks identifier and password. Every call either increments the
// failure counter or resets it before returning.
func (v *CredentialVerifier) Verify(ctx context.Context, identifier, password string) (*domain.Account, error) {
	return v.VerifyWithProof(ctx, identifier, password, LockTriggerPassword, v.passwordProof(password))
}

// VerifyWithProof runs the lookup, lockout and counter bookkeeping around an arbitrary proof.
// burnInput is hashed against a dummy value when the identifier is unknown.
func (v *CredentialVerifier) VerifyWithProof(ctx context.Context, identifier, burnInput, trigger string, proof ProofFunc) (*domain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, &CredentialError{Reason: ErrInvalidCredentials, RemainingAttempts: v.policy.LockoutThreshold - 1}
	}

	account, err := retryRead(ctx, v.policy.ReadRetryBackoff, func(ctx context.Context) (*domain.Account, error) {
		return v.accounts.GetByIdentifier(ctx, identifier)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			v.burn(burnInput)
			v.logger.Debug("login for unknown identifier", zap.String("identifier", logger.MaskIdentifier(identifier)))
			return nil, &CredentialError{Reason: ErrInvalidCredentials, RemainingAttempts: v.policy.LockoutThreshold - 1}
		}
		return nil, infraError("lookup account", err)
	}

	return v.check(ctx, account, trigger, proof)
}

// Recheck re-validates the password of an already authenticated account.
func (v *CredentialVerifier) Recheck(ctx context.Context, accountID, password string) (*domain.Account, error) {
	account, err := retryRead(ctx, v.policy.ReadRetryBackoff, func(ctx context.Context) (*domain.Account, error) {
		return v.accounts.GetByID(ctx, accountID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, infraError("lookup account", err)
	}

	return v.check(ctx, account, LockTriggerReauth, v.passwordProof(password))
}

func (v *CredentialVerifier) check(ctx context.Context, account *domain.Account, trigger string, proof ProofFunc) (*domain.Account, error) {
	now := v.now()
	if account.IsLocked(now) {
		return nil, &CredentialError{Reason: ErrAccountLocked, Locked: true}
	}

	if err := proof(ctx, account); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, v.recordFailure(ctx, account, trigger)
		}
		return nil, err
	}

	if !account.IsActive() {
		return nil, ErrAccountInactive
	}

	if err := v.accounts.ResetFailedAttempts(ctx, account.ID, now); err != nil {
		return nil, infraError("reset failed attempts", err)
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.LastLoginAt = &now

	return account, nil
}

func (v *CredentialVerifier) passwordProof(password string) ProofFunc {
	return func(_ context.Context, account *domain.Account) error {
		ok, err := v.hasher.Verify(password, account.PasswordHash)
		if err != nil {
			return fmt.Errorf("verify password: %w", err)
		}
		if !ok {
			return ErrInvalidCredentials
		}
		return nil
	}
}

func (v *CredentialVerifier) recordFailure(ctx context.Context, account *domain.Account, trigger string) error {
	now := v.now()
	lockUntil := now.Add(v.policy.LockoutDuration).Truncate(time.Microsecond)

	state, err := v.accounts.RecordFailedAttempt(ctx, account.ID, v.policy.LockoutThreshold, lockUntil, now)
	if err != nil {
		return infraError("record failed attempt", err)
	}

	if state.Locked(now) {
		v.metrics.ObserveLockout()
		v.logger.Warn("account locked after failed attempts",
			zap.String("account_id", account.ID),
			zap.Int("failed_attempts", state.FailedAttempts),
			zap.String("trigger", trigger),
		)
		v.publishLocked(ctx, account.ID, state, now, trigger)
		return &CredentialError{Reason: ErrAccountLocked, Locked: true}
	}

	remaining := v.policy.LockoutThreshold - state.FailedAttempts
	if remaining < 0 {
		remaining = 0
	}
	return &CredentialError{Reason: ErrInvalidCredentials, RemainingAttempts: remaining}
}

func (v *CredentialVerifier) publishLocked(ctx context.Context, accountID string, state domain.AttemptState, at time.Time, trigger string) {
	if v.events == nil || state.LockedUntil == nil {
		return
	}
	event := domain.AccountLockedEvent{
		EventID:        uuid.NewString(),
		UserID:         accountID,
		FailedAttempts: state.FailedAttempts,
		LockedUntil:    *state.LockedUntil,
		LockedAt:       at,
		Trigger:        trigger,
	}
	if err := v.events.PublishAccountLocked(ctx, event); err != nil {
		v.logger.Warn("publish account locked event failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (v *CredentialVerifier) burn(input string) {
	if v.dummyHash == "" || v.hasher == nil {
		return
	}
	if input == "" {
		input = "-"
	}
	_, _ = v.hasher.Verify(input, v.dummyHash)
}
