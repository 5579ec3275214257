package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for matching with errors.Is. The structured types below
// carry the detail and report Is against their sentinel.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConcurrency        = errors.New("concurrency conflict: aggregate version mismatch")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSessionExpired     = errors.New("session expired")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMFARequired        = errors.New("multi-factor authentication required")
	ErrPasswordPolicy     = errors.New("password policy violation")
	ErrIntegration        = errors.New("backing service unavailable")
)

// ValidationError reports malformed input on a named field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing or tombstoned entity.
type NotFoundError struct {
	Resource string
}

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConcurrencyError reports an optimistic-lock clash on an aggregate push.
type ConcurrencyError struct {
	Expected uint64
	Actual   uint64
}

func NewConcurrencyError(expected, actual uint64) *ConcurrencyError {
	return &ConcurrencyError{Expected: expected, Actual: actual}
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict: expected aggregate version %d, actual %d", e.Expected, e.Actual)
}

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

// PermissionDeniedError carries a stable rejection code (e.g. "SAML-perm01").
type PermissionDeniedError struct {
	Code string
}

func NewPermissionDeniedError(code string) *PermissionDeniedError {
	return &PermissionDeniedError{Code: code}
}

func (e *PermissionDeniedError) Error() string { return "permission denied (" + e.Code + ")" }

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// SessionExpiredError reports an absent or timed-out session.
type SessionExpiredError struct {
	SessionID string
}

func NewSessionExpiredError(sessionID string) *SessionExpiredError {
	return &SessionExpiredError{SessionID: sessionID}
}

func (e *SessionExpiredError) Error() string { return "session " + e.SessionID + " expired" }

func (e *SessionExpiredError) Is(target error) bool { return target == ErrSessionExpired }

// MFARequiredError carries the intermediate token the caller presents together
// with the second factor.
type MFARequiredError struct {
	MFAToken string
}

func NewMFARequiredError(mfaToken string) *MFARequiredError {
	return &MFARequiredError{MFAToken: mfaToken}
}

func (e *MFARequiredError) Error() string { return ErrMFARequired.Error() }

func (e *MFARequiredError) Is(target error) bool { return target == ErrMFARequired }

// PasswordPolicyError lists every violated policy rule.
type PasswordPolicyError struct {
	Violations []string
}

func NewPasswordPolicyError(violations []string) *PasswordPolicyError {
	return &PasswordPolicyError{Violations: violations}
}

func (e *PasswordPolicyError) Error() string {
	return "password policy violation: " + strings.Join(e.Violations, "; ")
}

func (e *PasswordPolicyError) Is(target error) bool { return target == ErrPasswordPolicy }

// IntegrationError wraps database or cache unavailability.
type IntegrationError struct {
	Cause error
}

func NewIntegrationError(cause error) *IntegrationError {
	return &IntegrationError{Cause: cause}
}

func (e *IntegrationError) Error() string {
	return "backing service unavailable: " + e.Cause.Error()
}

func (e *IntegrationError) Is(target error) bool { return target == ErrIntegration }

func (e *IntegrationError) Unwrap() error { return e.Cause }
