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
	"github.com/muniportal/portal-auth/internal/infra/telemetry"
	"github.com/muniportal/portal-auth/internal/repository"
)

// MFAService manages the TOTP lifecycle: setup, first verification, disable and login checks.
type MFAService struct {
	accounts    port.AccountRepository
	totp        port.TOTPProvider
	encryptor   port.FieldEncryptor
	verifier    *CredentialVerifier
	guard       port.MFAGuard
	degradation domain.DegradationPolicy
	events      port.EventPublisher
	metrics     *telemetry.AuthMetrics
	logger      *zap.Logger
	now         func() time.Time
	readBackoff time.Duration
}

// NewMFAService constructs an MFAService. Secrets are stored encrypted through encryptor.
func NewMFAService(accounts port.AccountRepository, totp port.TOTPProvider, encryptor port.FieldEncryptor, verifier *CredentialVerifier, logger *zap.Logger) *MFAService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MFAService{
		accounts:    accounts,
		totp:        totp,
		encryptor:   encryptor,
		verifier:    verifier,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		readBackoff: defaultReadRetryBackoff,
		degradation: domain.NewDegradationPolicy(domain.DegradationPolicyModeLenient),
	}
}

// WithGuard enables attempt throttling and replay rejection.
func (s *MFAService) WithGuard(guard port.MFAGuard) *MFAService {
	s.guard = guard
	return s
}

// WithDegradationPolicy decides whether TOTP checks proceed while the guard is unreachable.
func (s *MFAService) WithDegradationPolicy(policy domain.DegradationPolicy) *MFAService {
	s.degradation = policy
	return s
}

// WithEvents enables mfa_changed publication.
func (s *MFAService) WithEvents(events port.EventPublisher) *MFAService {
	s.events = events
	return s
}

// WithMetrics enables verification counters.
func (s *MFAService) WithMetrics(metrics *telemetry.AuthMetrics) *MFAService {
	s.metrics = metrics
	return s
}

// WithClock overrides the internal clock for deterministic tests.
func (s *MFAService) WithClock(clock func() time.Time) *MFAService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithReadRetry sets the backoff before a failed read is retried.
func (s *MFAService) WithReadRetry(backoff time.Duration) *MFAService {
	if backoff > 0 {
		s.readBackoff = backoff
	}
	return s
}

// Setup provisions a fresh secret in PendingSetup. Login does not require it until
// the first successful Verify. Repeating setup while pending replaces the secret.
func (s *MFAService) Setup(ctx context.Context, accountID string) (port.TOTPKey, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return port.TOTPKey{}, err
	}
	if account.MFAState == domain.MFAStateEnabled {
		return port.TOTPKey{}, ErrMFAAlreadyEnabled
	}

	key, err := s.totp.Generate(account.Username)
	if err != nil {
		return port.TOTPKey{}, fmt.Errorf("generate totp secret: %w", err)
	}

	sealed, err := s.encryptor.Encrypt(key.Secret)
	if err != nil {
		return port.TOTPKey{}, fmt.Errorf("encrypt totp secret: %w", err)
	}

	if err := s.accounts.SetMFASecret(ctx, account.ID, sealed); err != nil {
		return port.TOTPKey{}, infraError("store mfa secret", err)
	}

	s.publishStateChange(ctx, account.ID, account.MFAState, domain.MFAStatePendingSetup)
	return key, nil
}

// Verify checks token against the stored secret; the first success moves
// PendingSetup to Enabled.
func (s *MFAService) Verify(ctx context.Context, accountID, token string) (domain.MFAState, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.MFASecret == "" || account.MFAState == domain.MFAStateDisabled {
		return account.MFAState, ErrMFANotConfigured
	}

	if err := s.checkCode(ctx, account, token); err != nil {
		return account.MFAState, err
	}

	if account.MFAState == domain.MFAStateEnabled {
		return domain.MFAStateEnabled, nil
	}

	enabled, err := s.accounts.EnableMFA(ctx, account.ID, s.now())
	if err != nil {
		return account.MFAState, infraError("enable mfa", err)
	}
	if enabled {
		s.logger.Info("mfa enabled", zap.String("account_id", account.ID))
		s.publishStateChange(ctx, account.ID, domain.MFAStatePendingSetup, domain.MFAStateEnabled)
	}
	return domain.MFAStateEnabled, nil
}

// Disable clears the secret after the current password is re-entered.
func (s *MFAService) Disable(ctx context.Context, accountID, password string) error {
	account, err := s.verifier.Recheck(ctx, accountID, password)
	if err != nil {
		var credErr *CredentialError
		if errors.As(err, &credErr) && !credErr.Locked {
			return ErrInvalidPassword
		}
		return err
	}

	if account.MFAState == domain.MFAStateDisabled && account.MFASecret == "" {
		return nil
	}

	if err := s.accounts.ClearMFASecret(ctx, account.ID); err != nil {
		return infraError("clear mfa secret", err)
	}

	s.logger.Info("mfa disabled", zap.String("account_id", account.ID))
	s.publishStateChange(ctx, account.ID, account.MFAState, domain.MFAStateDisabled)
	return nil
}

// ValidateLoginCode enforces the TOTP step of a login for an account with MFA enabled.
func (s *MFAService) ValidateLoginCode(ctx context.Context, account *domain.Account, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMFARequired
	}
	if !account.MFAEnabled() {
		return ErrInvalidToken
	}
	return s.checkCode(ctx, account, token)
}

func (s *MFAService) checkCode(ctx context.Context, account *domain.Account, token string) error {
	if s.guard != nil {
		throttled, err := s.guard.IsThrottled(ctx, account.ID)
		if err != nil {
			if gerr := s.guardUnavailable(account.ID, "check mfa throttle", err); gerr != nil {
				return gerr
			}
		} else if throttled {
			return ErrMFAThrottled
		}
	}

	secret, err := s.encryptor.Decrypt(account.MFASecret)
	if err != nil {
		return fmt.Errorf("decrypt totp secret: %w", err)
	}

	ok, err := s.totp.Validate(token, secret, s.now())
	if err != nil {
		return fmt.Errorf("validate totp: %w", err)
	}
	if ok && s.guard != nil {
		claimed, err := s.guard.ClaimCode(ctx, account.ID, strings.TrimSpace(token))
		if err != nil {
			if gerr := s.guardUnavailable(account.ID, "claim totp", err); gerr != nil {
				return gerr
			}
		} else if !claimed {
			s.logger.Warn("rejected replayed totp", zap.String("account_id", account.ID))
			ok = false
		}
	}

	s.metrics.ObserveMFAVerification(ok)

	if !ok {
		if s.guard != nil {
			limited, err := s.guard.RecordFailure(ctx, account.ID)
			if err != nil {
				if gerr := s.guardUnavailable(account.ID, "record mfa failure", err); gerr != nil {
					return gerr
				}
			} else if limited {
				return ErrMFAThrottled
			}
		}
		return ErrInvalidToken
	}

	if s.guard != nil {
		if err := s.guard.Reset(ctx, account.ID); err != nil {
			s.logger.Warn("reset mfa failures", zap.String("account_id", account.ID), zap.Error(err))
		}
	}
	return nil
}

// guardUnavailable returns nil when the degradation policy lets the check continue.
func (s *MFAService) guardUnavailable(accountID, op string, err error) error {
	s.logger.Warn("mfa guard unavailable",
		zap.String("account_id", accountID),
		zap.String("op", op),
		zap.String("degradation_mode", string(s.degradation.Mode())),
		zap.Error(err),
	)
	if s.degradation.AllowsFallback(domain.DegradationReasonMFAGuardUnavailable) {
		return nil
	}
	return infraError(op, err)
}

func (s *MFAService) loadAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := retryRead(ctx, s.readBackoff, func(ctx context.Context) (*domain.Account, error) {
		return s.accounts.GetByID(ctx, accountID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, infraError("lookup account", err)
	}
	return account, nil
}

func (s *MFAService) publishStateChange(ctx context.Context, accountID string, previous, current domain.MFAState) {
	if s.events == nil {
		return
	}
	event := domain.MFAStateChangedEvent{
		EventID:   uuid.NewString(),
		UserID:    accountID,
		Previous:  previous,
		Current:   current,
		ChangedAt: s.now(),
	}
	if err := s.events.PublishMFAStateChanged(ctx, event); err != nil {
		s.logger.Warn("publish mfa state change failed", zap.String("account_id", accountID), zap.Error(err))
	}
}
