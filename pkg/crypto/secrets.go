package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/plaenen/iamcore/pkg/password"
)

const clientSecretBytes = 32

// GenerateClientID returns a client identifier of the form
// "<uuid>@<projectID>". The project suffix makes the issuing project
// recoverable from the identifier alone.
func GenerateClientID(projectID string) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("project id required for client id")
	}
	return uuid.NewString() + "@" + projectID, nil
}

// GenerateClientSecret returns the plaintext secret and its bcrypt hash.
// The plaintext is shown to the caller once and never stored.
func GenerateClientSecret() (plaintext, hash string, err error) {
	buf := make([]byte, clientSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	hash, err = password.Hash(plaintext)
	if err != nil {
		return "", "", fmt.Errorf("hashing client secret: %w", err)
	}
	return plaintext, hash, nil
}

// VerifyClientSecret reports whether the candidate matches the stored hash.
func VerifyClientSecret(hash, candidate string) bool {
	return password.Compare(hash, candidate) == nil
}
