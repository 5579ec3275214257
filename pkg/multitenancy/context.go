package multitenancy

import (
	"context"
	"fmt"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const callerKey contextKey = "caller"

// Caller identifies who is executing an operation and in which tenant scope.
// InstanceID is mandatory on every call path; OrgID and UserID are filled in
// where known (service-internal calls may leave UserID empty).
type Caller struct {
	InstanceID string
	OrgID      string
	UserID     string
}

// WithCaller adds the caller to the context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// GetCaller retrieves the caller from the context.
func GetCaller(ctx context.Context) (Caller, error) {
	caller, ok := ctx.Value(callerKey).(Caller)
	if !ok || caller.InstanceID == "" {
		return Caller{}, fmt.Errorf("caller not found in context")
	}
	return caller, nil
}

// MustGetCaller retrieves the caller from the context or panics.
func MustGetCaller(ctx context.Context) Caller {
	caller, err := GetCaller(ctx)
	if err != nil {
		panic(err)
	}
	return caller
}

// GetInstanceID retrieves the tenant scope from the context.
func GetInstanceID(ctx context.Context) (string, error) {
	caller, err := GetCaller(ctx)
	if err != nil {
		return "", err
	}
	return caller.InstanceID, nil
}

// HasCaller checks if the context carries a caller.
func HasCaller(ctx context.Context) bool {
	_, err := GetCaller(ctx)
	return err == nil
}
