package port

import (
	"context"
	"time"

	"github.com/muniportal/portal-auth/internal/core/domain"
)

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// FieldEncryptor seals values stored at rest. Decrypt accepts ciphertext
// produced under the current or the previous key.
type FieldEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Fingerprinter derives a one-way device identifier from client metadata.
type Fingerprinter interface {
	Fingerprint(metadata domain.DeviceMetadata) string
}

// TOTPKey is a freshly provisioned TOTP secret.
type TOTPKey struct {
	Secret     string
	OTPAuthURL string
}

// TOTPProvider generates and validates time-based one-time passwords.
type TOTPProvider interface {
	Generate(accountName string) (TOTPKey, error)
	Validate(code, secret string, at time.Time) (bool, error)
}

// AccessClaims is the verified content of a session token.
type AccessClaims struct {
	UserID    string
	SessionID string
	Roles     []string
	ExpiresAt time.Time
}

// TokenSigner issues and verifies signed session tokens.
type TokenSigner interface {
	Sign(ctx context.Context, userID, sessionID string, roles []string, ttl time.Duration) (string, time.Time, error)
	Verify(ctx context.Context, token string) (*AccessClaims, error)
}
