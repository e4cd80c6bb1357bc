package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/foreman/pkg/contextkeys"
	"github.com/platinummonkey/foreman/pkg/observability"
)

// RequestIDHeader carries the request ID on both requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an ID, honoring one supplied by a trusted
// proxy, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestID(r.Context(), id)))
	})
}

// RequestLogger stores a request-scoped logger carrying the request ID in the
// context, so anything downstream that logs through the context correlates
// with the response header. Must run after RequestID.
func RequestLogger(base *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.WithField("request_id", contextkeys.GetRequestID(r.Context()))
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), logger)))
		})
	}
}
