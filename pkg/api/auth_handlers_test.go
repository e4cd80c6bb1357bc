package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/users"
)

func newAuthHandlers(t *testing.T, env *testEnv) (*AuthHandlers, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions := auth.NewSessionStore(db, time.Hour, env.logger)
	limiter := auth.NewLoginLimiter(db, 15*time.Minute, 5, env.logger, nil)
	return NewAuthHandlers(env.users, sessions, limiter, env.dispatcher, env.logger), mock
}

func limiterCountRow(emailFailures, ipFailures int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"email_count", "ip_count", "min"}).
		AddRow(emailFailures, ipFailures, nil)
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv()
	h, mock := newAuthHandlers(t, env)

	user := activeUser("user-1", users.RoleEmployee)
	env.users.authenticateFunc = func(ctx context.Context, email, password string) (*users.User, error) {
		assert.Equal(t, "dev@example.com", email)
		assert.Equal(t, "hunter22", password)
		return user, nil
	}

	mock.ExpectQuery("SELECT").WillReturnRows(limiterCountRow(0, 0))
	mock.ExpectExec("INSERT INTO login_attempts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"dev@example.com","password":"hunter22"}`))
	rec := do(h.login, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env2 := decodeEnvelope(t, rec)
	assert.True(t, env2.Success)
	assert.Contains(t, string(env2.Data), `"token"`)
	assert.Contains(t, string(env2.Data), user.Email)

	require.Len(t, env.sink.events, 1)
	assert.Equal(t, events.ActionLogin, env.sink.events[0].Action)
	assert.Equal(t, "user-1", env.sink.events[0].EntityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginBadCredentials(t *testing.T) {
	env := newTestEnv()
	h, mock := newAuthHandlers(t, env)

	env.users.authenticateFunc = func(ctx context.Context, email, password string) (*users.User, error) {
		return nil, users.ErrInvalidCredentials
	}

	mock.ExpectQuery("SELECT").WillReturnRows(limiterCountRow(1, 1))
	mock.ExpectExec("INSERT INTO login_attempts").WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"dev@example.com","password":"wrong"}`))
	rec := do(h.login, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid email or password")
	assert.Empty(t, env.sink.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv()
	h, mock := newAuthHandlers(t, env)

	mock.ExpectQuery("SELECT").WillReturnRows(limiterCountRow(5, 2))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"dev@example.com","password":"hunter22"}`))
	rec := do(h.login, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many failed login attempts")
}

func TestLoginMissingFields(t *testing.T) {
	env := newTestEnv()
	h, _ := newAuthHandlers(t, env)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"dev@example.com"}`))
	rec := do(h.login, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe(t *testing.T) {
	env := newTestEnv()
	h, _ := newAuthHandlers(t, env)

	user := activeUser("user-1", users.RoleEmployee)
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), user)
	rec := do(h.me, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), user.Email)

	rec = do(h.me, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterForcesEmployeeRole(t *testing.T) {
	env := newTestEnv()
	h, _ := newAuthHandlers(t, env)

	var captured users.CreateUserRequest
	env.users.createUserFunc = func(ctx context.Context, req users.CreateUserRequest) (*users.User, []events.Event, error) {
		captured = req
		user := activeUser("user-9", users.RoleEmployee)
		ev := events.NewEvent(events.ActionCreated, "User", user.ID, user.Email)
		return user, []events.Event{ev}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"new@example.com","password":"s3cret","first_name":"New","last_name":"Hire"}`))
	rec := do(h.register, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, users.RoleEmployee, captured.Role)
	require.Len(t, env.sink.events, 1)
	assert.Equal(t, events.ActionCreated, env.sink.events[0].Action)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	env := newTestEnv()
	h, mock := newAuthHandlers(t, env)

	user := activeUser("user-1", users.RoleEmployee)
	env.users.changePassFunc = func(ctx context.Context, id, current, next string) error {
		assert.Equal(t, "user-1", id)
		assert.Equal(t, "old", current)
		assert.Equal(t, "new-password", next)
		return nil
	}
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/auth/password",
		strings.NewReader(`{"current_password":"old","new_password":"new-password"}`)), user)
	rec := do(h.changePassword, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "please log in again")
	assert.NoError(t, mock.ExpectationsWereMet())
}
