package common

import "context"

// The ambient tenant travels in context.Context. Every storage read and
// write downstream of a request is scoped by whatever tenant the request
// context carries; an absent tenant means super-admin mode with unfiltered
// access.

type contextKey int

const tenantContextKey contextKey = iota

// WithTenant returns a context carrying the given tenant ID.
// An empty id clears the tenant (super-admin mode).
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return context.WithValue(ctx, tenantContextKey, nil)
	}
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

// TenantFromContext returns the ambient tenant ID, or "" when none is set.
func TenantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantContextKey).(string)
	return id
}

// HasTenant reports whether the context carries a tenant scope.
func HasTenant(ctx context.Context) bool {
	return TenantFromContext(ctx) != ""
}
