package api

import (
	"net/http"
	"time"

	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/httputil"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/users"
)

// AuthHandlers serves login, logout, registration and profile endpoints.
type AuthHandlers struct {
	users      users.Service
	sessions   *auth.SessionStore
	limiter    *auth.LoginLimiter
	dispatcher *events.Dispatcher
	logger     *observability.Logger
}

// NewAuthHandlers creates the authentication handlers.
func NewAuthHandlers(userService users.Service, sessions *auth.SessionStore, limiter *auth.LoginLimiter, dispatcher *events.Dispatcher, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		users:      userService,
		sessions:   sessions,
		limiter:    limiter,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token              string      `json:"token"`
	ExpiresAt          time.Time   `json:"expires_at"`
	User               *users.User `json:"user"`
	MustChangePassword bool        `json:"must_change_password"`
}

// login handles POST /api/v1/auth/login.
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteValidationError(w, "email and password are required")
		return
	}

	ctx := r.Context()
	ip := httputil.ClientIP(r)
	userAgent := r.UserAgent()

	if err := h.limiter.Check(ctx, req.Email, ip); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	user, err := h.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if rerr := h.limiter.Record(ctx, req.Email, ip, userAgent, false); rerr != nil {
			h.logger.WithError(rerr).Warn("failed to record login attempt")
		}
		writeServiceError(w, h.logger, err)
		return
	}

	if err := h.limiter.Record(ctx, req.Email, ip, userAgent, true); err != nil {
		h.logger.WithError(err).Warn("failed to record login attempt")
	}

	token, session, err := h.sessions.Create(ctx, user.ID, ip, userAgent)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := h.users.RecordLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		h.logger.WithError(err).Warn("failed to record last login")
	}

	actorCtx := auth.WithContext(ctx, &auth.Context{User: user, IPAddress: ip, UserAgent: userAgent})
	h.dispatcher.Dispatch(actorCtx,
		events.NewEvent(events.ActionLogin, "user", user.ID, user.Email))

	httputil.WriteSuccess(w, loginResponse{
		Token:              token,
		ExpiresAt:          session.ExpiresAt,
		User:               user,
		MustChangePassword: user.MustChangePassword,
	})
}

// logout handles POST /api/v1/auth/logout. Logout is idempotent.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if err := h.sessions.Revoke(r.Context(), token); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if actor := auth.FromContext(r.Context()); actor != nil && actor.User != nil {
		h.dispatcher.Dispatch(r.Context(),
			events.NewEvent(events.ActionLogout, "user", actor.User.ID, actor.User.Email))
	}
	httputil.WriteSuccessMessage(w, "logged out", nil)
}

// me handles GET /api/v1/auth/me.
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	actor := auth.FromContext(r.Context())
	if actor == nil || actor.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, actor.User)
}

// register handles POST /api/v1/auth/register. Self-registered accounts are
// always EMPLOYEE; role escalation goes through user administration.
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, evs, err := h.users.CreateUser(r.Context(), users.CreateUserRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      users.RoleEmployee,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteCreated(w, user)
}

// changePassword handles POST /api/v1/auth/password. A successful change
// revokes every other session the user holds.
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	actor := auth.FromContext(r.Context())
	if actor == nil || actor.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.users.ChangePassword(r.Context(), actor.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := h.sessions.RevokeAllForUser(r.Context(), actor.User.ID); err != nil {
		h.logger.WithError(err).Warn("failed to revoke sessions after password change")
	}
	httputil.WriteSuccessMessage(w, "password changed, please log in again", nil)
}
