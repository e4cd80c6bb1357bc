package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/middleware"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/users"
)

var sessionColumns = []string{
	"id", "user_id", "token_hash", "ip_address", "user_agent",
	"expires_at", "last_used_at", "created_at",
}

// newTestServer wires the full route table over mocks and a sqlmock session
// store.
func newTestServer(t *testing.T, env *testEnv) (*Server, sqlmock.Sqlmock) {
	return newTestServerRateLimited(t, env, nil)
}

func newTestServerRateLimited(t *testing.T, env *testEnv, rl *middleware.RateLimitMiddleware) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions := auth.NewSessionStore(db, time.Hour, env.logger)
	limiter := auth.NewLoginLimiter(db, 15*time.Minute, 5, env.logger, nil)

	server := NewServer(Dependencies{
		Users:       env.users,
		Projects:    env.projects,
		Tasks:       env.tasks,
		Timesheets:  env.timesheets,
		AuditStore:  env.auditStore,
		Visibility:  env.visibility,
		Sessions:    sessions,
		Limiter:     limiter,
		Dispatcher:  env.dispatcher,
		Logger:      env.logger,
		RateLimit:   rl,
		SessionAuth: middleware.NewAuthenticator(sessions, env.users),
		Health:      observability.NewHealthChecker(db, nil),
	})
	return server, mock
}

// expectSession queues the session lookup for a valid bearer token and
// returns the token to send.
func expectSession(t *testing.T, mock sqlmock.Sqlmock, userID string) string {
	t.Helper()
	token, hash, err := auth.NewTokenGenerator().GenerateToken()
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE token_hash").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow(
			"sess-1", userID, hash, "10.0.0.8", "go-test",
			now.Add(time.Hour), now, now))
	mock.ExpectExec("UPDATE sessions SET last_used_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	return token
}

func TestHealthz(t *testing.T) {
	env := newTestEnv()
	server, _ := newTestServer(t, env)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv()
	server, _ := newTestServer(t, env)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/projects"},
		{http.MethodGet, "/api/v1/timesheets"},
		{http.MethodGet, "/api/v1/audit"},
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", p.method, p.path)
	}
}

func TestAdminRoutesRejectEmployees(t *testing.T) {
	env := newTestEnv()
	server, mock := newTestServer(t, env)

	env.users.getUserFunc = func(ctx context.Context, id string) (*users.User, error) {
		return activeUser(id, users.RoleEmployee), nil
	}
	token := expectSession(t, mock, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticatedRouteCarriesActor(t *testing.T) {
	env := newTestEnv()
	server, mock := newTestServer(t, env)

	env.users.getUserFunc = func(ctx context.Context, id string) (*users.User, error) {
		return activeUser(id, users.RoleEmployee), nil
	}
	token := expectSession(t, mock, "user-7")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user-7@example.com")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadyz(t *testing.T) {
	env := newTestEnv()
	server, _ := newTestServer(t, env)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres"`)
}

func TestRateLimitKeysAuthenticatedTrafficByUser(t *testing.T) {
	env := newTestEnv()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := middleware.NewRateLimitMiddleware(client, env.logger, nil)
	server, mock := newTestServerRateLimited(t, env, rl)

	env.users.getUserFunc = func(ctx context.Context, id string) (*users.User, error) {
		return activeUser(id, users.RoleEmployee), nil
	}
	token := expectSession(t, mock, "user-7")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The limiter runs after authentication, so the counter lands in the
	// per-user bucket and a NATed office never shares one anonymous window.
	var userKeys, anonKeys int
	for _, key := range mr.Keys() {
		switch {
		case strings.HasPrefix(key, "ratelimit:user:"):
			userKeys++
		case strings.HasPrefix(key, "ratelimit:anon:"):
			anonKeys++
		}
	}
	assert.Equal(t, 1, userKeys)
	assert.Zero(t, anonKeys)

	// Unauthenticated login traffic still counts against the per-IP bucket.
	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	anonKeys = 0
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "ratelimit:anon:") {
			anonKeys++
		}
	}
	assert.Equal(t, 1, anonKeys)
}

func TestUnknownRouteNotFound(t *testing.T) {
	env := newTestEnv()
	server, _ := newTestServer(t, env)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
