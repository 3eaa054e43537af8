package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(id string, fill byte) EncryptionKey {
	return EncryptionKey{ID: id, Secret: bytes.Repeat([]byte{fill}, 32)}
}

func TestFieldEncryptorRoundTrip(t *testing.T) {
	enc, err := NewFieldEncryptor(testKey("k2", 2), nil)
	if err != nil {
		t.Fatalf("NewFieldEncryptor: %v", err)
	}

	sealed, err := enc.Encrypt("Mozilla/5.0 (Windows NT 10.0) Firefox/128.0")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(sealed, "v1:k2:") {
		t.Fatalf("unexpected ciphertext envelope %q", sealed)
	}
	if strings.Contains(sealed, "Firefox") {
		t.Fatal("ciphertext leaks plaintext")
	}

	other, err := enc.Encrypt("Mozilla/5.0 (Windows NT 10.0) Firefox/128.0")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if other == sealed {
		t.Fatal("expected random nonce to produce distinct ciphertexts")
	}

	plain, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "Mozilla/5.0 (Windows NT 10.0) Firefox/128.0" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestFieldEncryptorKeyRotation(t *testing.T) {
	oldEnc, err := NewFieldEncryptor(testKey("k1", 1), nil)
	if err != nil {
		t.Fatalf("NewFieldEncryptor: %v", err)
	}
	sealed, err := oldEnc.Encrypt("203.0.113.9")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	previous := testKey("k1", 1)
	rotated, err := NewFieldEncryptor(testKey("k2", 2), &previous)
	if err != nil {
		t.Fatalf("NewFieldEncryptor: %v", err)
	}

	plain, err := rotated.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt with previous key: %v", err)
	}
	if plain != "203.0.113.9" {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	fresh, err := rotated.Encrypt("203.0.113.9")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(fresh, "v1:k2:") {
		t.Fatalf("new ciphertext must use current key, got %q", fresh)
	}

	retired, err := NewFieldEncryptor(testKey("k3", 3), nil)
	if err != nil {
		t.Fatalf("NewFieldEncryptor: %v", err)
	}
	if _, err := retired.Decrypt(sealed); !errors.Is(err, ErrUnknownEncryptionKey) {
		t.Fatalf("expected ErrUnknownEncryptionKey, got %v", err)
	}
}

func TestFieldEncryptorRejectsTampering(t *testing.T) {
	enc, err := NewFieldEncryptor(testKey("k1", 1), nil)
	if err != nil {
		t.Fatalf("NewFieldEncryptor: %v", err)
	}
	sealed, err := enc.Encrypt("10.0.0.1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	parts := strings.SplitN(sealed, ":", 3)
	raw, _ := base64.RawURLEncoding.DecodeString(parts[2])
	raw[len(raw)-1] ^= 0xff
	tampered := parts[0] + ":" + parts[1] + ":" + base64.RawURLEncoding.EncodeToString(raw)

	if _, err := enc.Decrypt(tampered); err == nil {
		t.Fatal("expected authentication failure for tampered ciphertext")
	}
	if _, err := enc.Decrypt("plain-text"); !errors.Is(err, ErrMalformedCiphertext) {
		t.Fatalf("expected ErrMalformedCiphertext, got %v", err)
	}
}

func TestFieldEncryptorEmptyValues(t *testing.T) {
	enc, err := NewFieldEncryptor(testKey("k1", 1), nil)
	if err != nil {
		t.Fatalf("NewFieldEncryptor: %v", err)
	}
	sealed, err := enc.Encrypt("")
	if err != nil || sealed != "" {
		t.Fatalf("expected empty passthrough, got %q, %v", sealed, err)
	}
	plain, err := enc.Decrypt("")
	if err != nil || plain != "" {
		t.Fatalf("expected empty passthrough, got %q, %v", plain, err)
	}
}

func TestParseEncryptionKey(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	key, err := ParseEncryptionKey("2026-10", encoded)
	if err != nil {
		t.Fatalf("ParseEncryptionKey: %v", err)
	}
	if key.ID != "2026-10" || len(key.Secret) != 32 {
		t.Fatalf("unexpected key %+v", key)
	}

	if _, err := ParseEncryptionKey("bad:id", encoded); err == nil {
		t.Fatal("expected error for key id containing separator")
	}
	if _, err := ParseEncryptionKey("short", base64.StdEncoding.EncodeToString([]byte("tiny"))); err == nil {
		t.Fatal("expected error for short key material")
	}
	if _, err := NewFieldEncryptor(testKey("k1", 1), &EncryptionKey{ID: "k1", Secret: bytes.Repeat([]byte{2}, 32)}); err == nil {
		t.Fatal("expected error for duplicate key ids")
	}
}

func TestEphemeralEncryptionKeyRoundTrip(t *testing.T) {
	key, err := NewEphemeralEncryptionKey("dev")
	if err != nil {
		t.Fatalf("NewEphemeralEncryptionKey: %v", err)
	}
	if key.ID != "dev" || len(key.Secret) != minKeyMaterial {
		t.Fatalf("unexpected key %q with %d bytes", key.ID, len(key.Secret))
	}

	enc, err := NewFieldEncryptor(key, nil)
	if err != nil {
		t.Fatalf("NewFieldEncryptor: %v", err)
	}
	sealed, err := enc.Encrypt("203.0.113.7")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	plain, err := enc.Decrypt(sealed)
	if err != nil || plain != "203.0.113.7" {
		t.Fatalf("round trip failed: %q, %v", plain, err)
	}
}
