// Package middleware provides the HTTP middleware chain: request IDs,
// session authentication, admin gating, and a Redis-backed request rate
// limiter shared across instances.
package middleware
