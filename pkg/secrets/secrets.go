// Package secrets loads runtime secrets for the IAM core, such as the
// token signing key and SMTP passwords, through gocloud.dev/secrets.
//
// Secrets are kept as an encrypted bundle: a JSON document sealed by a
// Go CDK keeper and stored as an opaque ciphertext file. The keeper URL
// selects the backend (awskms://, gcpkms://, azurekeyvault://,
// hashivault://, or base64key:// for local development).
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrStoreClosed is returned when a store is used after Close.
	ErrStoreClosed = errors.New("secret store is closed")

	// ErrMissingSecret is returned when a requested secret is absent
	// from the bundle.
	ErrMissingSecret = errors.New("secret not found in bundle")
)

// minSigningKeyBytes is the smallest signing key accepted for HMAC use.
const minSigningKeyBytes = 32

// Bundle is the decrypted secret material the service runs with.
type Bundle struct {
	// SigningKey is the base64 (raw URL) encoded HMAC key used to
	// sign access and refresh tokens.
	SigningKey string `json:"signing_key"`

	// SMTPPasswords maps SMTP config IDs to their passwords, so the
	// eventstore never has to carry them in event payloads.
	SMTPPasswords map[string]string `json:"smtp_passwords,omitempty"`
}

// SigningKeyBytes decodes and validates the token signing key.
func (b *Bundle) SigningKeyBytes() ([]byte, error) {
	if b.SigningKey == "" {
		return nil, fmt.Errorf("%w: signing_key", ErrMissingSecret)
	}
	key, err := base64.RawURLEncoding.DecodeString(b.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(key) < minSigningKeyBytes {
		return nil, fmt.Errorf("signing key too short: %d bytes, need at least %d", len(key), minSigningKeyBytes)
	}
	return key, nil
}

// SMTPPassword looks up the password for an SMTP config.
func (b *Bundle) SMTPPassword(configID string) (string, error) {
	pw, ok := b.SMTPPasswords[configID]
	if !ok {
		return "", fmt.Errorf("%w: smtp password for config %q", ErrMissingSecret, configID)
	}
	return pw, nil
}

// EncodeSigningKey wraps raw key material for storage in a bundle.
func EncodeSigningKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// Store resolves the secret bundle for the running service.
type Store interface {
	// Bundle returns the current secret bundle. Implementations may
	// cache; Refresh forces a reload.
	Bundle(ctx context.Context) (*Bundle, error)

	// Refresh invalidates any cached material and reloads it.
	Refresh(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
