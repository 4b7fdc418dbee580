package security

import (
	"encoding/base64"
	"testing"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	if !enc.IsEnabled() {
		t.Fatal("encryptor with key is not enabled")
	}

	plaintext := "user-123@example.com"
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext == plaintext {
		t.Error("Encrypt() returned plaintext")
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(nil)
	if err != nil {
		t.Fatalf("NewEncryptor(nil) error = %v", err)
	}
	if enc.IsEnabled() {
		t.Fatal("encryptor without key is enabled")
	}

	// Disabled encryptor passes values through unchanged
	out, err := enc.Encrypt("plaintext")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if out != "plaintext" {
		t.Errorf("Encrypt() = %q, want passthrough", out)
	}
}

func TestNewEncryptor_InvalidKeySize(t *testing.T) {
	if _, err := NewEncryptor([]byte("too-short")); err == nil {
		t.Error("NewEncryptor() with short key succeeded")
	}
}

func TestEncryptor_NonceUniqueness(t *testing.T) {
	key, _ := GenerateKey()
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	a, _ := enc.Encrypt("same input")
	b, _ := enc.Encrypt("same input")
	if a == b {
		t.Error("two encryptions of the same input produced identical ciphertexts")
	}
}

func TestEncryptor_DecryptGarbage(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	if _, err := enc.Decrypt("not-base64!!!"); err == nil {
		t.Error("Decrypt() of invalid base64 succeeded")
	}
	if _, err := enc.Decrypt(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("Decrypt() of truncated ciphertext succeeded")
	}
}

func TestKeyFromBase64(t *testing.T) {
	key, _ := GenerateKey()
	encoded := base64.StdEncoding.EncodeToString(key)

	decoded, err := KeyFromBase64(encoded)
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("KeyFromBase64() length = %d, want 32", len(decoded))
	}

	if _, err := KeyFromBase64("%%%"); err == nil {
		t.Error("KeyFromBase64() of invalid input succeeded")
	}
}
