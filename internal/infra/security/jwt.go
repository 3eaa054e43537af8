package security

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/muniportal/portal-auth/internal/core/port"
)

var (
	// ErrKeyIDMissing indicates no kid is associated with the supplied key.
	ErrKeyIDMissing = errors.New("jwt: missing key identifier")
	// ErrKeyNotRegistered indicates a supplied kid is unknown to the JWT manager.
	ErrKeyNotRegistered = errors.New("jwt: key not registered")
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenInvalid covers signature, issuer, audience and claim failures.
	ErrTokenInvalid = errors.New("jwt: token invalid")
)

const defaultAccessTokenTTL = 15 * time.Minute

// JWTOptions fixes the issuer and audience stamped on and required of every token.
type JWTOptions struct {
	Issuer   string
	Audience []string
}

// JWTManager signs session tokens, verifies them by kid and publishes a JWKS.
type JWTManager struct {
	KeyProvider KeyProvider
	opts        JWTOptions
	now         func() time.Time

	mu         sync.RWMutex
	publicKeys map[string]*rsa.PublicKey
}

var _ port.TokenSigner = (*JWTManager)(nil)

// NewJWTManager constructs a JWTManager for the supplied key provider.
func NewJWTManager(provider KeyProvider, opts JWTOptions) *JWTManager {
	mgr := &JWTManager{
		KeyProvider: provider,
		opts:        opts,
		now:         time.Now,
		publicKeys:  make(map[string]*rsa.PublicKey),
	}

	if enumerator, ok := provider.(interface {
		ListVerificationKeys() map[string]*rsa.PublicKey
	}); ok {
		for kid, key := range enumerator.ListVerificationKeys() {
			_ = mgr.RegisterPublicKey(kid, key)
		}
	}

	return mgr
}

// WithClock overrides the time source used for issued-at and validation.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	if now != nil {
		m.now = now
	}
	return m
}

// RegisterPublicKey associates a kid with a public key for JWKS publication and future lookup.
func (m *JWTManager) RegisterPublicKey(kid string, key *rsa.PublicKey) error {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return ErrKeyIDMissing
	}
	if key == nil {
		return fmt.Errorf("jwt: public key for %s is nil", kid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKeys[kid] = key
	return nil
}

// GetVerificationKey retrieves a public key by kid.
func (m *JWTManager) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}

	m.mu.RLock()
	key, ok := m.publicKeys[kid]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	if m.KeyProvider != nil {
		fetched, err := m.KeyProvider.GetVerificationKey(kid)
		if err == nil {
			_ = m.RegisterPublicKey(kid, fetched)
			return fetched, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotRegistered, kid)
}

// JWKS produces the JSON Web Key Set for registered keys.
func (m *JWTManager) JWKS() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]map[string]string, 0, len(m.publicKeys))
	for kid, key := range m.publicKeys {
		if key == nil {
			continue
		}
		keys = append(keys, buildJWK(kid, key))
	}

	return json.Marshal(map[string]any{"keys": keys})
}

func buildJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// SessionClaims carries the user, role snapshot and session id of a login.
type SessionClaims struct {
	Roles     []string `json:"roles,omitempty"`
	UserID    string   `json:"uid"`
	SessionID string   `json:"sid"`
	jwt.RegisteredClaims
}

// Sign issues an RS256 token for the session and returns it with its expiry.
func (m *JWTManager) Sign(_ context.Context, userID, sessionID string, roles []string, ttl time.Duration) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return "", time.Time{}, fmt.Errorf("jwt: user id and session id are required")
	}
	if m.KeyProvider == nil {
		return "", time.Time{}, fmt.Errorf("jwt: key provider not configured")
	}
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}

	kid := strings.TrimSpace(m.KeyProvider.SigningKeyID())
	if kid == "" {
		return "", time.Time{}, ErrKeyIDMissing
	}
	signingKey, err := m.KeyProvider.GetSigningKey()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: get signing key: %w", err)
	}

	now := m.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := &SessionClaims{
		Roles:     normalizeRoles(roles),
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.opts.Issuer,
			Audience:  m.opts.Audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates signature, issuer, audience and expiry and returns the session claims.
func (m *JWTManager) Verify(_ context.Context, token string) (*port.AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.opts.Issuer))
	}
	if len(m.opts.Audience) > 0 {
		parserOpts = append(parserOpts, jwt.WithAudience(m.opts.Audience[0]))
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, ErrKeyIDMissing
		}
		return m.GetVerificationKey(kid)
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if parsed == nil || !parsed.Valid || claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}

	out := &port.AccessClaims{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		Roles:     claims.Roles,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, role := range input {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		result = append(result, role)
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
