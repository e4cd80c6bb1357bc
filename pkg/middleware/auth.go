package middleware

import (
	"net/http"

	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/httputil"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/users"
)

// Authenticator resolves bearer tokens into an actor context. Failures are
// logged through the request-scoped logger so they carry the request ID.
type Authenticator struct {
	sessions *auth.SessionStore
	users    users.Service
}

// NewAuthenticator creates the authentication middleware.
func NewAuthenticator(sessions *auth.SessionStore, userService users.Service) *Authenticator {
	return &Authenticator{sessions: sessions, users: userService}
}

// Authenticate validates the Authorization header and attaches the actor to
// the request context. Requests without a valid, unexpired session get 401.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		session, err := a.sessions.Validate(r.Context(), token)
		if err != nil {
			switch err {
			case auth.ErrSessionExpired:
				httputil.WriteUnauthorized(w, "session expired")
			case auth.ErrInvalidToken:
				httputil.WriteUnauthorized(w, "invalid token")
			default:
				observability.GetLogger(r.Context()).WithError(err).Error("session validation failed")
				httputil.WriteInternalError(w, err)
			}
			return
		}

		user, err := a.users.GetUser(r.Context(), session.UserID)
		if err != nil {
			if err == users.ErrNotFound {
				httputil.WriteUnauthorized(w, "invalid token")
				return
			}
			observability.GetLogger(r.Context()).WithError(err).Error("failed to load session user")
			httputil.WriteInternalError(w, err)
			return
		}
		if !user.IsActive {
			httputil.WriteUnauthorized(w, "account is deactivated")
			return
		}

		actor := &auth.Context{
			User:      user,
			IPAddress: httputil.ClientIP(r),
			UserAgent: r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), actor)))
	})
}

// RequireAdmin rejects requests whose actor is not an ADMIN. It must run
// after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := auth.FromContext(r.Context())
		if actor == nil || actor.User == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !actor.User.IsAdmin() {
			httputil.WriteForbidden(w, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
