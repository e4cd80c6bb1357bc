package auth

import (
	"context"

	"github.com/platinummonkey/foreman/pkg/contextkeys"
)

// WithContext stores the actor context for downstream handlers and sinks.
func WithContext(ctx context.Context, actor *Context) context.Context {
	return contextkeys.WithActor(ctx, actor)
}

// FromContext returns the actor stored by the auth middleware, or nil when
// the request is unauthenticated.
func FromContext(ctx context.Context) *Context {
	actor, _ := ctx.Value(contextkeys.ActorKey).(*Context)
	return actor
}
