package tenant

import (
	"context"
	"strings"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

// contextKey is unexported so only this package can place tenant identity
// on a context.
type contextKey struct{}

var tenantIDKey contextKey

// WithTenantID derives a context carrying the given tenant identity.
// Fails with VALIDATION_FAILED when the identifier is empty or whitespace.
func WithTenantID(ctx context.Context, tenantID string) (context.Context, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, common.NewValidationError("tenant id must not be empty")
	}
	return context.WithValue(ctx, tenantIDKey, tenantID), nil
}

// FromContext returns the tenant identity carried by ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// MustFromContext returns the tenant identity or a VALIDATION_FAILED error
// when the context carries none. Repositories call this before every query.
func MustFromContext(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", common.NewValidationError("no tenant context active")
	}
	return id, nil
}

// ClearTenant derives a context with no tenant identity, regardless of what
// the parent carries.
func ClearTenant(ctx context.Context) context.Context {
	return context.WithValue(ctx, tenantIDKey, "")
}

// RunWithTenant runs fn under the given tenant identity. The parent context
// is untouched, so nesting restores the prior tenant by construction, even
// when fn fails.
func RunWithTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	scoped, err := WithTenantID(ctx, tenantID)
	if err != nil {
		return err
	}
	return fn(scoped)
}
