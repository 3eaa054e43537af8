package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/security"
	"github.com/muniportal/portal-auth/internal/infra/telemetry"
	"github.com/muniportal/portal-auth/internal/repository"
)

const (
	defaultRevocationTTL = 15 * time.Minute
	defaultTouchInterval = time.Minute
)

// SessionService lists and revokes sessions and validates sessions behind bearer tokens.
type SessionService struct {
	sessions      port.SessionRepository
	verifier      *CredentialVerifier
	encryptor     port.FieldEncryptor
	tokens        port.TokenSigner
	revocations   port.SessionRevocationStore
	revocationTTL time.Duration
	touchInterval time.Duration
	events        port.EventPublisher
	metrics       *telemetry.AuthMetrics
	logger        *zap.Logger
	now           func() time.Time
	readBackoff   time.Duration
}

// NewSessionService constructs a SessionService.
func NewSessionService(sessions port.SessionRepository, verifier *CredentialVerifier, encryptor port.FieldEncryptor, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:      sessions,
		verifier:      verifier,
		encryptor:     encryptor,
		revocationTTL: defaultRevocationTTL,
		touchInterval: defaultTouchInterval,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		readBackoff:   defaultReadRetryBackoff,
	}
}

// WithRevocationStore caches revocations for ttl, normally the access token lifetime.
func (s *SessionService) WithRevocationStore(store port.SessionRevocationStore, ttl time.Duration) *SessionService {
	s.revocations = store
	if ttl > 0 {
		s.revocationTTL = ttl
	}
	return s
}

// WithTokenVerifier enables Authenticate.
func (s *SessionService) WithTokenVerifier(tokens port.TokenSigner) *SessionService {
	s.tokens = tokens
	return s
}

// WithEvents enables session.revoked publication.
func (s *SessionService) WithEvents(events port.EventPublisher) *SessionService {
	s.events = events
	return s
}

// WithMetrics enables revocation counters.
func (s *SessionService) WithMetrics(metrics *telemetry.AuthMetrics) *SessionService {
	s.metrics = metrics
	return s
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) *SessionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithTouchInterval limits how often Validate writes last_seen_at for one session.
func (s *SessionService) WithTouchInterval(interval time.Duration) *SessionService {
	if interval >= 0 {
		s.touchInterval = interval
	}
	return s
}

// WithReadRetry sets the backoff before a failed read is retried.
func (s *SessionService) WithReadRetry(backoff time.Duration) *SessionService {
	if backoff > 0 {
		s.readBackoff = backoff
	}
	return s
}

// ListActive returns the user's active sessions, newest first, flagging currentSessionID.
func (s *SessionService) ListActive(ctx context.Context, userID, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.listActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		view := detailedSessionView(session, s.encryptor)
		view.Current = session.ID == currentSessionID
		views = append(views, view)
	}
	return views, nil
}

// ListWithCredentials lists active sessions for a caller proving identifier and password.
func (s *SessionService) ListWithCredentials(ctx context.Context, identifier, password string) ([]SessionView, error) {
	account, err := s.verifier.Verify(ctx, identifier, password)
	if err != nil {
		return nil, err
	}

	sessions, err := s.listActive(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return newSessionViews(sessions), nil
}

// LogoutWithCredentials revokes one session after re-proving credentials. Sessions
// that do not exist or belong to another account both report ErrSessionNotFound.
func (s *SessionService) LogoutWithCredentials(ctx context.Context, identifier, password, sessionID string) (bool, error) {
	account, err := s.verifier.Verify(ctx, identifier, password)
	if err != nil {
		return false, err
	}
	return s.revokeOwned(ctx, account.ID, sessionID, domain.RevokeReasonCredentialLogout, account.ID)
}

// LogoutCurrent revokes the session behind the presented token.
func (s *SessionService) LogoutCurrent(ctx context.Context, userID, sessionID string) (bool, error) {
	return s.revokeOwned(ctx, userID, sessionID, domain.RevokeReasonUserLogout, userID)
}

// LogoutOthers revokes every active session of userID except currentSessionID.
func (s *SessionService) LogoutOthers(ctx context.Context, userID, currentSessionID string) (int, error) {
	if strings.TrimSpace(currentSessionID) == "" {
		return 0, ErrSessionNotFound
	}
	ids, err := s.sessions.RevokeAllExcept(ctx, userID, currentSessionID, domain.RevokeReasonLogoutOthers, s.now())
	if err != nil {
		return 0, infraError("revoke other sessions", err)
	}
	s.afterRevoke(ctx, userID, ids, domain.RevokeReasonLogoutOthers, userID)
	return len(ids), nil
}

// LogoutAll revokes every active session of userID.
func (s *SessionService) LogoutAll(ctx context.Context, userID string) (int, error) {
	ids, err := s.sessions.RevokeAllForUser(ctx, userID, domain.RevokeReasonLogoutAll, s.now())
	if err != nil {
		return 0, infraError("revoke all sessions", err)
	}
	s.afterRevoke(ctx, userID, ids, domain.RevokeReasonLogoutAll, userID)
	return len(ids), nil
}

// Authenticate verifies a bearer token and the session it names.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*port.AccessClaims, *domain.Session, error) {
	if s.tokens == nil {
		return nil, nil, ErrInvalidAccessToken
	}
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, nil, ErrExpiredAccessToken
		}
		return nil, nil, ErrInvalidAccessToken
	}

	session, err := s.Validate(ctx, claims)
	if err != nil {
		return nil, nil, err
	}
	return claims, session, nil
}

// Validate confirms the session behind verified token claims is still active and
// advances its last-seen timestamp.
func (s *SessionService) Validate(ctx context.Context, claims *port.AccessClaims) (*domain.Session, error) {
	if claims == nil || claims.SessionID == "" {
		return nil, ErrSessionNotFound
	}

	if s.revocations != nil {
		revoked, reason, err := s.revocations.IsSessionRevoked(ctx, claims.SessionID)
		if err != nil {
			s.logger.Warn("revocation cache unavailable", zap.String("session_id", claims.SessionID), zap.Error(err))
		} else if revoked {
			s.logger.Debug("session rejected by revocation cache", zap.String("session_id", claims.SessionID), zap.String("reason", reason))
			return nil, ErrSessionRevoked
		}
	}

	session, err := retryRead(ctx, s.readBackoff, func(ctx context.Context) (*domain.Session, error) {
		return s.sessions.GetByID(ctx, claims.SessionID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, infraError("lookup session", err)
	}
	if session.UserID != claims.UserID {
		return nil, ErrSessionNotFound
	}
	if !session.IsActive {
		return nil, ErrSessionRevoked
	}

	now := s.now()
	if now.Sub(session.LastSeenAt) >= s.touchInterval {
		if err := s.sessions.Touch(ctx, session.ID, now); err != nil {
			s.logger.Warn("touch session failed", zap.String("session_id", session.ID), zap.Error(err))
		} else {
			session.Touch(now)
		}
	}
	return session, nil
}

func (s *SessionService) listActive(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := retryRead(ctx, s.readBackoff, func(ctx context.Context) ([]domain.Session, error) {
		return s.sessions.ListActive(ctx, userID)
	})
	if err != nil {
		return nil, infraError("list active sessions", err)
	}
	return sessions, nil
}

func (s *SessionService) revokeOwned(ctx context.Context, userID, sessionID, reason, revokedBy string) (bool, error) {
	// Session ids are UUIDs; anything else cannot exist in the store.
	parsed, err := uuid.Parse(strings.TrimSpace(sessionID))
	if err != nil {
		return false, ErrSessionNotFound
	}
	sessionID = parsed.String()

	session, err := retryRead(ctx, s.readBackoff, func(ctx context.Context) (*domain.Session, error) {
		return s.sessions.GetByID(ctx, sessionID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrSessionNotFound
		}
		return false, infraError("lookup session", err)
	}
	if session.UserID != userID {
		return false, ErrSessionNotFound
	}

	revoked, err := s.sessions.Revoke(ctx, sessionID, reason, s.now())
	if err != nil {
		return false, infraError("revoke session", err)
	}
	if revoked {
		s.afterRevoke(ctx, userID, []string{sessionID}, reason, revokedBy)
	}
	return revoked, nil
}

// afterRevoke propagates revocations to the cache, the audit trail and the bus.
// Failures here never undo the revocation.
func (s *SessionService) afterRevoke(ctx context.Context, userID string, sessionIDs []string, reason, revokedBy string) {
	if len(sessionIDs) == 0 {
		return
	}
	now := s.now()
	s.metrics.ObserveRevocations(reason, len(sessionIDs))

	for _, id := range sessionIDs {
		if s.revocations != nil {
			if err := s.revocations.MarkSessionRevoked(ctx, id, reason, s.revocationTTL); err != nil {
				s.logger.Warn("cache session revocation failed", zap.String("session_id", id), zap.Error(err))
			}
		}

		event := domain.SessionEvent{
			ID:        uuid.NewString(),
			SessionID: id,
			Kind:      domain.SessionEventRevoked,
			At:        now,
			Details:   map[string]any{"reason": reason, "revoked_by": revokedBy},
		}
		if err := s.sessions.StoreEvent(ctx, event); err != nil {
			s.logger.Warn("store session event failed", zap.String("session_id", id), zap.Error(err))
		}

		if s.events != nil {
			published := domain.SessionRevokedEvent{
				EventID:   event.ID,
				SessionID: id,
				UserID:    userID,
				RevokedAt: now,
				RevokedBy: revokedBy,
				Reason:    reason,
			}
			if err := s.events.PublishSessionRevoked(ctx, published); err != nil {
				s.logger.Warn("publish session revoked event failed", zap.String("session_id", id), zap.Error(err))
			}
		}
	}

	s.logger.Info("sessions revoked",
		zap.String("user_id", userID),
		zap.Int("count", len(sessionIDs)),
		zap.String("reason", reason),
	)
}
