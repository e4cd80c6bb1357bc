package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/users"
)

func newUserHandlers(env *testEnv) *UserHandlers {
	return NewUserHandlers(env.users, env.dispatcher, env.logger)
}

func TestCreateUserDispatchesEvents(t *testing.T) {
	env := newTestEnv()
	env.users.createUserFunc = func(ctx context.Context, req users.CreateUserRequest) (*users.User, []events.Event, error) {
		assert.Equal(t, users.RoleAdmin, req.Role)
		user := activeUser("user-9", req.Role)
		ev := events.NewEvent(events.ActionCreated, "User", user.ID, user.Email)
		return user, []events.Event{ev}, nil
	}
	h := newUserHandlers(env)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users",
		strings.NewReader(`{"email":"ops@example.com","password":"s3cret","first_name":"Ops","last_name":"Admin","role":"ADMIN"}`))
	rec := do(h.createUser, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, env.sink.events, 1)
	assert.Equal(t, "User", env.sink.events[0].EntityType)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	env := newTestEnv()
	env.users.createUserFunc = func(ctx context.Context, req users.CreateUserRequest) (*users.User, []events.Event, error) {
		return nil, nil, users.ErrEmailTaken
	}
	h := newUserHandlers(env)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users",
		strings.NewReader(`{"email":"dup@example.com","password":"s3cret","first_name":"Dup","last_name":"User"}`))
	rec := do(h.createUser, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, env.sink.events)
}

func TestListUsersParsesFilter(t *testing.T) {
	env := newTestEnv()
	var captured users.UserFilter
	env.users.listUsersFunc = func(ctx context.Context, filter users.UserFilter) ([]*users.User, error) {
		captured = filter
		return []*users.User{activeUser("user-1", users.RoleEmployee)}, nil
	}
	h := newUserHandlers(env)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users?role=EMPLOYEE&department_id=dep-1&active=true", nil)
	rec := do(h.listUsers, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, users.RoleEmployee, captured.Role)
	assert.Equal(t, "dep-1", captured.DepartmentID)
	assert.True(t, captured.ActiveOnly)
}

func TestDeactivateUser(t *testing.T) {
	env := newTestEnv()
	env.users.deactivateFunc = func(ctx context.Context, id string) ([]events.Event, error) {
		require.Equal(t, "user-1", id)
		return []events.Event{events.NewEvent(events.ActionUpdated, "User", id, "")}, nil
	}
	h := newUserHandlers(env)

	req := withVars(httptest.NewRequest(http.MethodDelete, "/api/v1/users/user-1", nil),
		map[string]string{"id": "user-1"})
	rec := do(h.deactivateUser, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, env.sink.events, 1)
}

func TestDeactivateUnknownUser(t *testing.T) {
	env := newTestEnv()
	env.users.deactivateFunc = func(ctx context.Context, id string) ([]events.Event, error) {
		return nil, users.ErrNotFound
	}
	h := newUserHandlers(env)

	req := withVars(httptest.NewRequest(http.MethodDelete, "/api/v1/users/ghost", nil),
		map[string]string{"id": "ghost"})
	rec := do(h.deactivateUser, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
