package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/muniportal/portal-auth/internal/core/domain"
)

const fingerprintVersion = "fp1"

// FingerprintEngine derives a one-way device identifier from client metadata.
// Only recognized keys contribute; absent keys hash as empty values so sparse
// metadata still yields a stable result.
type FingerprintEngine struct{}

// NewFingerprintEngine constructs a FingerprintEngine.
func NewFingerprintEngine() *FingerprintEngine {
	return &FingerprintEngine{}
}

// Fingerprint returns the hex SHA-256 digest of the canonical metadata encoding.
func (FingerprintEngine) Fingerprint(metadata domain.DeviceMetadata) string {
	normalized := metadata.Normalize()

	var b strings.Builder
	b.WriteString(fingerprintVersion)
	b.WriteByte('\n')
	for _, key := range domain.FingerprintKeys {
		value := normalized[key]
		// length prefix keeps values containing separators unambiguous
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(len(value)))
		b.WriteByte(':')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
