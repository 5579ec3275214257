// Package crypto generates the short-lived secrets the command layer hands
// out: domain validation codes and OIDC/API client credentials. Plaintext
// values are returned to the caller exactly once; only hashes are persisted.
package crypto

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet avoids ambiguous characters (0/O, 1/I/l).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength matches common domain-validation token lengths.
const DefaultCodeLength = 32

// GenerateCode returns a random code of the given length drawn from an
// unambiguous alphabet.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// GenerateVerificationCode returns a domain validation code at the default
// length.
func GenerateVerificationCode() (string, error) {
	return GenerateCode(DefaultCodeLength)
}
