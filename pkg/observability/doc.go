// Package observability provides structured logging, Prometheus metrics and
// health checks for the Foreman service.
//
// The Logger wraps stdlib log/slog with a JSON handler and supports
// field chaining (WithField/WithFields/WithError). Handlers obtain a
// request-scoped logger via FromContext, which picks up the request ID
// and user ID placed in the context by the HTTP middleware.
package observability
