package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/telemetry"
)

const tracerName = "github.com/muniportal/portal-auth/internal/usecase"

// LoginPolicy configures the orchestrator.
type LoginPolicy struct {
	DeviceLimit      int
	MFAOnlyEnabled   bool
	TokenTTL         time.Duration
	ReadRetryBackoff time.Duration
}

// LoginRequest carries everything a client submits to log in.
type LoginRequest struct {
	Identifier string
	Password   string
	Device     domain.DeviceMetadata
	UserAgent  string
	ClientIP   string
	MFAOnly    bool
	MFAToken   string
}

// LoginResult is returned once a session has been issued.
type LoginResult struct {
	Token     string
	SessionID string
	UserID    string
	ExpiresAt time.Time
	// KnownDevice is true when a login at the device limit matched an existing session's fingerprint.
	KnownDevice bool
}

// LoginService drives Start → CredentialsChecked → DeviceEvaluated → [MFARequired]
// → SessionIssued, rejecting from any state.
type LoginService struct {
	verifier     *CredentialVerifier
	mfa          *MFAService
	fingerprints port.Fingerprinter
	sessions     port.SessionRepository
	signer       port.TokenSigner
	encryptor    port.FieldEncryptor
	events       port.EventPublisher
	metrics      *telemetry.AuthMetrics
	policy       LoginPolicy
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
	newID        func() string
}

// NewLoginService wires the orchestrator from its collaborators.
func NewLoginService(
	verifier *CredentialVerifier,
	mfa *MFAService,
	fingerprints port.Fingerprinter,
	sessions port.SessionRepository,
	signer port.TokenSigner,
	encryptor port.FieldEncryptor,
	policy LoginPolicy,
	logger *zap.Logger,
) *LoginService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.DeviceLimit <= 0 {
		policy.DeviceLimit = 3
	}
	if policy.TokenTTL <= 0 {
		policy.TokenTTL = 15 * time.Minute
	}
	if policy.ReadRetryBackoff <= 0 {
		policy.ReadRetryBackoff = defaultReadRetryBackoff
	}
	return &LoginService{
		verifier:     verifier,
		mfa:          mfa,
		fingerprints: fingerprints,
		sessions:     sessions,
		signer:       signer,
		encryptor:    encryptor,
		policy:       policy,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// WithEvents enables session.created publication.
func (s *LoginService) WithEvents(events port.EventPublisher) *LoginService {
	s.events = events
	return s
}

// WithMetrics enables login outcome counters.
func (s *LoginService) WithMetrics(metrics *telemetry.AuthMetrics) *LoginService {
	s.metrics = metrics
	return s
}

// WithClock overrides the internal clock for deterministic tests.
func (s *LoginService) WithClock(clock func() time.Time) *LoginService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Login authenticates the request and issues a session and signed token.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (result *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "LoginService.Login", trace.WithAttributes(
		attribute.Bool("login.mfa_only", req.MFAOnly),
	))
	state := domain.LoginStateStart
	defer func() {
		s.metrics.ObserveLogin(loginResultLabel(err))
		span.SetAttributes(attribute.String("login.state", string(state)))
		if err != nil {
			span.SetStatus(codes.Error, loginResultLabel(err))
			s.logger.Debug("login rejected",
				zap.String("state", string(state)),
				zap.String("result", loginResultLabel(err)),
				zap.Error(err),
			)
		}
		span.End()
	}()

	account, err := s.checkCredentials(ctx, req)
	if err != nil {
		return nil, err
	}
	state = domain.LoginStateCredentialsChecked
	span.SetAttributes(attribute.String("account.id", account.ID))

	device := req.Device.WithDefault(domain.DeviceKeyUserAgent, req.UserAgent)
	fingerprint := s.fingerprints.Fingerprint(device)

	known, err := s.evaluateDevice(ctx, account.ID, fingerprint)
	if err != nil {
		return nil, err
	}
	state = domain.LoginStateDeviceEvaluated

	if account.MFAEnabled() && !req.MFAOnly {
		state = domain.LoginStateMFARequired
		if err := s.mfa.ValidateLoginCode(ctx, account, req.MFAToken); err != nil {
			return nil, err
		}
	}

	result, err = s.issueSession(ctx, account, device, fingerprint, req)
	if err != nil {
		return nil, err
	}
	result.KnownDevice = known
	state = domain.LoginStateSessionIssued

	s.logger.Info("session issued",
		zap.String("user_id", account.ID),
		zap.String("session_id", result.SessionID),
		zap.String("device", device.Summary()),
		zap.Bool("known_device", known),
		zap.Bool("mfa_only", req.MFAOnly),
	)
	return result, nil
}

func (s *LoginService) checkCredentials(ctx context.Context, req LoginRequest) (*domain.Account, error) {
	if !req.MFAOnly {
		return s.verifier.Verify(ctx, req.Identifier, req.Password)
	}
	if !s.policy.MFAOnlyEnabled {
		return nil, ErrMFAOnlyDisabled
	}

	// MFA-only mode substitutes the TOTP for the password; failures count toward lockout.
	// Nothing is proven yet, so every TOTP rejection reads like an unknown identifier.
	return s.verifier.VerifyWithProof(ctx, req.Identifier, req.MFAToken, LockTriggerMFAOnly,
		func(ctx context.Context, account *domain.Account) error {
			if strings.TrimSpace(req.MFAToken) == "" {
				return ErrInvalidCredentials
			}
			err := s.mfa.ValidateLoginCode(ctx, account, req.MFAToken)
			if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrMFARequired) || errors.Is(err, ErrMFAThrottled) {
				return ErrInvalidCredentials
			}
			return err
		})
}

// evaluateDevice enforces the device limit. A fingerprint matching an active session
// may log in again at the limit. Count-then-create is not serialized, so concurrent
// logins from new devices can exceed the limit by the number of racing requests.
func (s *LoginService) evaluateDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	count, err := retryRead(ctx, s.policy.ReadRetryBackoff, func(ctx context.Context) (int, error) {
		return s.sessions.CountActive(ctx, userID)
	})
	if err != nil {
		return false, infraError("count active sessions", err)
	}
	if count < s.policy.DeviceLimit {
		return false, nil
	}

	active, err := retryRead(ctx, s.policy.ReadRetryBackoff, func(ctx context.Context) ([]domain.Session, error) {
		return s.sessions.ListActive(ctx, userID)
	})
	if err != nil {
		return false, infraError("list active sessions", err)
	}

	for _, session := range active {
		if session.MatchesFingerprint(fingerprint) {
			return true, nil
		}
	}
	return false, &DeviceLimitError{Limit: s.policy.DeviceLimit, Sessions: newSessionViews(active)}
}

func (s *LoginService) issueSession(ctx context.Context, account *domain.Account, device domain.DeviceMetadata, fingerprint string, req LoginRequest) (*LoginResult, error) {
	now := s.now()
	sessionID := s.newID()

	token, expiresAt, err := s.signer.Sign(ctx, account.ID, sessionID, account.Roles, s.policy.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	userAgent := strings.TrimSpace(req.UserAgent)
	if userAgent == "" {
		userAgent = device.Get(domain.DeviceKeyUserAgent)
	}
	uaEnc, err := s.encryptor.Encrypt(userAgent)
	if err != nil {
		return nil, fmt.Errorf("encrypt user agent: %w", err)
	}
	ipEnc, err := s.encryptor.Encrypt(strings.TrimSpace(req.ClientIP))
	if err != nil {
		return nil, fmt.Errorf("encrypt client ip: %w", err)
	}

	session := domain.Session{
		ID:              sessionID,
		UserID:          account.ID,
		FingerprintHash: fingerprint,
		DeviceMetadata:  device.Public(),
		UserAgentEnc:    uaEnc,
		IPEnc:           ipEnc,
		CreatedAt:       now,
		LastSeenAt:      now,
		IsActive:        true,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, infraError("create session", err)
	}

	s.recordCreated(ctx, session, req.MFAOnly)

	return &LoginResult{
		Token:     token,
		SessionID: sessionID,
		UserID:    account.ID,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *LoginService) recordCreated(ctx context.Context, session domain.Session, mfaOnly bool) {
	event := domain.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Kind:      domain.SessionEventCreated,
		At:        session.CreatedAt,
		Details: map[string]any{
			"device":   session.DeviceMetadata.Summary(),
			"mfa_only": mfaOnly,
		},
	}
	if err := s.sessions.StoreEvent(ctx, event); err != nil {
		s.logger.Warn("store session event failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	if s.events == nil {
		return
	}
	metadata := make(map[string]any, len(session.DeviceMetadata))
	for k, v := range session.DeviceMetadata {
		metadata[k] = v
	}
	published := domain.SessionCreatedEvent{
		EventID:         event.ID,
		SessionID:       session.ID,
		UserID:          session.UserID,
		DeviceSummary:   session.DeviceMetadata.Summary(),
		FingerprintHash: session.FingerprintHash,
		MFAOnly:         mfaOnly,
		CreatedAt:       session.CreatedAt,
		Metadata:        metadata,
	}
	if err := s.events.PublishSessionCreated(ctx, published); err != nil {
		s.logger.Warn("publish session created event failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func loginResultLabel(err error) string {
	var credErr *CredentialError
	switch {
	case err == nil:
		return telemetry.LoginResultSuccess
	case errors.As(err, &credErr) && credErr.Locked, errors.Is(err, ErrAccountLocked):
		return telemetry.LoginResultLocked
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrMFAOnlyDisabled):
		return telemetry.LoginResultInvalidCredentials
	case errors.Is(err, ErrAccountInactive):
		return telemetry.LoginResultInactive
	case errors.Is(err, ErrDeviceLimitReached):
		return telemetry.LoginResultDeviceLimit
	case errors.Is(err, ErrMFARequired):
		return telemetry.LoginResultMFARequired
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrMFAThrottled):
		return telemetry.LoginResultInvalidToken
	default:
		return telemetry.LoginResultError
	}
}
