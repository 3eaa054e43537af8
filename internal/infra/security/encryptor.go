package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	ciphertextVersion = "v1"
	encryptionInfo    = "portal-auth/session-fields/v1"
	minKeyMaterial    = 32
)

var (
	// ErrUnknownEncryptionKey indicates ciphertext sealed under a key that is no longer configured.
	ErrUnknownEncryptionKey = errors.New("encryption: unknown key id")
	// ErrMalformedCiphertext indicates a value that was not produced by FieldEncryptor.
	ErrMalformedCiphertext = errors.New("encryption: malformed ciphertext")
)

// EncryptionKey is raw key material tagged with an identifier stored beside each ciphertext.
type EncryptionKey struct {
	ID     string
	Secret []byte
}

// ParseEncryptionKey decodes base64 key material as supplied through configuration.
func ParseEncryptionKey(id, encoded string) (EncryptionKey, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, ":") {
		return EncryptionKey{}, fmt.Errorf("encryption: invalid key id %q", id)
	}
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return EncryptionKey{}, fmt.Errorf("encryption: decode key %s: %w", id, err)
	}
	if len(secret) < minKeyMaterial {
		return EncryptionKey{}, fmt.Errorf("encryption: key %s must be at least %d bytes", id, minKeyMaterial)
	}
	return EncryptionKey{ID: id, Secret: secret}, nil
}

// NewEphemeralEncryptionKey generates random key material; values sealed with it
// become unreadable after a restart.
func NewEphemeralEncryptionKey(id string) (EncryptionKey, error) {
	secret := make([]byte, minKeyMaterial)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return EncryptionKey{}, fmt.Errorf("encryption: generate key: %w", err)
	}
	return EncryptionKey{ID: id, Secret: secret}, nil
}

// FieldEncryptor seals session fields with XChaCha20-Poly1305. New values use the
// current key; the previous key stays available for decryption during rotation.
type FieldEncryptor struct {
	currentID string
	keys      map[string]cipher.AEAD
}

// NewFieldEncryptor derives AEAD keys for current and, when supplied, previous key material.
func NewFieldEncryptor(current EncryptionKey, previous *EncryptionKey) (*FieldEncryptor, error) {
	enc := &FieldEncryptor{
		currentID: current.ID,
		keys:      make(map[string]cipher.AEAD, 2),
	}

	if err := enc.add(current); err != nil {
		return nil, err
	}
	if previous != nil && previous.ID != "" {
		if previous.ID == current.ID {
			return nil, fmt.Errorf("encryption: previous key id %q duplicates current key", previous.ID)
		}
		if err := enc.add(*previous); err != nil {
			return nil, err
		}
	}

	return enc, nil
}

func (e *FieldEncryptor) add(key EncryptionKey) error {
	if key.ID == "" || strings.Contains(key.ID, ":") {
		return fmt.Errorf("encryption: invalid key id %q", key.ID)
	}
	if len(key.Secret) < minKeyMaterial {
		return fmt.Errorf("encryption: key %s must be at least %d bytes", key.ID, minKeyMaterial)
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key.Secret, []byte(key.ID), []byte(encryptionInfo)), derived); err != nil {
		return fmt.Errorf("encryption: derive key %s: %w", key.ID, err)
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return fmt.Errorf("encryption: init cipher %s: %w", key.ID, err)
	}
	e.keys[key.ID] = aead
	return nil
}

// Encrypt seals plaintext as "v1:<kid>:<base64url(nonce|ciphertext)>". Empty input stays empty.
func (e *FieldEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead := e.keys[e.currentID]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("encryption: generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(e.currentID))
	return strings.Join([]string{
		ciphertextVersion,
		e.currentID,
		base64.RawURLEncoding.EncodeToString(sealed),
	}, ":"), nil
}

// Decrypt opens a value produced under the current or previous key.
func (e *FieldEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	parts := strings.SplitN(ciphertext, ":", 3)
	if len(parts) != 3 || parts[0] != ciphertextVersion {
		return "", ErrMalformedCiphertext
	}

	aead, ok := e.keys[parts[1]]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEncryptionKey, parts[1])
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformedCiphertext
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte(parts[1]))
	if err != nil {
		return "", fmt.Errorf("encryption: open: %w", err)
	}
	return string(plain), nil
}

// CurrentKeyID returns the identifier new ciphertexts are tagged with.
func (e *FieldEncryptor) CurrentKeyID() string {
	return e.currentID
}
