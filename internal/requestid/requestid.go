// Package requestid carries a per-request id through context so that one hook
// call can be followed across the dispatcher, ranker and store logs.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header that carries the id in and out.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or "" when none was set.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// Ensure returns ctx carrying incoming when it is non-empty, otherwise a fresh id.
func Ensure(ctx context.Context, incoming string) (context.Context, string) {
	if incoming == "" {
		incoming = uuid.New().String()
	}
	return WithRequestID(ctx, incoming), incoming
}
