// Package tenant carries the current tenant id on a context.Context, so
// every layer that must enforce tenant isolation (row-level security
// session variables, log fields, queue envelopes) can recover it without
// threading an extra parameter through every call.
package tenant

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// WithTenant returns a new context carrying the given tenant id.
func WithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext retrieves the tenant id stored by WithTenant. ok is false
// if the context carries none.
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ctxKey{}).(uuid.UUID)
	return v, ok
}
