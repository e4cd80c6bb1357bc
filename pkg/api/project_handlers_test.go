package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/projects"
	"github.com/platinummonkey/foreman/pkg/users"
)

func newProjectHandlers(env *testEnv) *ProjectHandlers {
	return NewProjectHandlers(env.projects, env.visibility, env.dispatcher, env.logger)
}

func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

func TestGetProjectHiddenFromOutsiders(t *testing.T) {
	env := newTestEnv()
	h := newProjectHandlers(env)

	user := activeUser("outsider", users.RoleEmployee)
	req := withVars(asUser(httptest.NewRequest(http.MethodGet, "/api/v1/projects/proj-1", nil), user),
		map[string]string{"id": "proj-1"})
	rec := do(h.get, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "resource not found")
}

func TestGetProjectVisibleToMember(t *testing.T) {
	env := newTestEnv()
	env.projects.roles["user-1|proj-1"] = projects.RoleViewer
	env.projects.getFunc = func(ctx context.Context, id string) (*projects.Project, error) {
		require.Equal(t, "proj-1", id)
		return &projects.Project{ID: "proj-1", Name: "Apollo", Code: "APL"}, nil
	}
	h := newProjectHandlers(env)

	user := activeUser("user-1", users.RoleEmployee)
	req := withVars(asUser(httptest.NewRequest(http.MethodGet, "/api/v1/projects/proj-1", nil), user),
		map[string]string{"id": "proj-1"})
	rec := do(h.get, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Apollo")
}

func TestUpdateProjectRequiresLead(t *testing.T) {
	env := newTestEnv()
	env.projects.roles["user-1|proj-1"] = projects.RoleDeveloper
	h := newProjectHandlers(env)

	user := activeUser("user-1", users.RoleEmployee)
	req := withVars(asUser(httptest.NewRequest(http.MethodPut, "/api/v1/projects/proj-1",
		strings.NewReader(`{"name":"Renamed"}`)), user),
		map[string]string{"id": "proj-1"})
	rec := do(h.update, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "project management rights required")
}

func TestCreateProjectDispatchesEvents(t *testing.T) {
	env := newTestEnv()
	env.projects.createFunc = func(ctx context.Context, actorID string, req projects.CreateProjectRequest) (*projects.Project, []events.Event, error) {
		assert.Equal(t, "user-1", actorID)
		project := &projects.Project{ID: "proj-1", Name: req.Name, Code: req.Code}
		ev := events.NewEvent(events.ActionCreated, "Project", project.ID, project.Name)
		return project, []events.Event{ev}, nil
	}
	h := newProjectHandlers(env)

	user := activeUser("user-1", users.RoleEmployee)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/projects",
		strings.NewReader(`{"name":"Apollo","code":"APL"}`)), user)
	rec := do(h.create, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, env.sink.events, 1)
	assert.Equal(t, "Project", env.sink.events[0].EntityType)
}

func TestAddMemberRequiresUserID(t *testing.T) {
	env := newTestEnv()
	env.projects.roles["lead-1|proj-1"] = projects.RoleLead
	h := newProjectHandlers(env)

	user := activeUser("lead-1", users.RoleEmployee)
	req := withVars(asUser(httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/members",
		strings.NewReader(`{"role":"DEVELOPER"}`)), user),
		map[string]string{"id": "proj-1"})
	rec := do(h.addMember, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id is required")
}

func TestRemoveMemberSelfNeedsOnlyMembership(t *testing.T) {
	env := newTestEnv()
	env.projects.roles["user-1|proj-1"] = projects.RoleTester
	var removed string
	env.projects.removeMemberFunc = func(ctx context.Context, projectID, userID string) ([]events.Event, error) {
		removed = userID
		return nil, nil
	}
	h := newProjectHandlers(env)

	user := activeUser("user-1", users.RoleEmployee)
	req := withVars(asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/projects/proj-1/members/user-1", nil), user),
		map[string]string{"id": "proj-1", "userID": "user-1"})
	rec := do(h.removeMember, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-1", removed)
}

func TestRemoveOtherMemberRequiresLead(t *testing.T) {
	env := newTestEnv()
	env.projects.roles["user-1|proj-1"] = projects.RoleDeveloper
	h := newProjectHandlers(env)

	user := activeUser("user-1", users.RoleEmployee)
	req := withVars(asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/projects/proj-1/members/user-2", nil), user),
		map[string]string{"id": "proj-1", "userID": "user-2"})
	rec := do(h.removeMember, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateInvitationUsesPathProject(t *testing.T) {
	env := newTestEnv()
	env.projects.roles["lead-1|proj-1"] = projects.RoleLead
	var captured projects.CreateInvitationRequest
	env.projects.createInvitationFunc = func(ctx context.Context, actor projects.ActorInfo, req projects.CreateInvitationRequest) (*projects.Invitation, []events.Event, error) {
		captured = req
		assert.Equal(t, "lead-1", actor.UserID)
		inv := &projects.Invitation{ID: "inv-1", ProjectID: req.ProjectID, Email: req.Email}
		return inv, []events.Event{events.NewEvent(events.ActionCreated, "ProjectInvitation", inv.ID, inv.Email)}, nil
	}
	h := newProjectHandlers(env)

	user := activeUser("lead-1", users.RoleEmployee)
	req := withVars(asUser(httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/invitations",
		strings.NewReader(`{"email":"new@example.com","role":"DEVELOPER","project_id":"spoofed"}`)), user),
		map[string]string{"id": "proj-1"})
	rec := do(h.createInvitation, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "proj-1", captured.ProjectID)
	require.Len(t, env.sink.events, 1)
}

func TestAcceptInvitationExpired(t *testing.T) {
	env := newTestEnv()
	env.projects.acceptInvitationFunc = func(ctx context.Context, token string, user projects.AcceptingUser) (*projects.Invitation, []events.Event, error) {
		return nil, nil, projects.ErrInvitationExpired
	}
	h := newProjectHandlers(env)

	user := activeUser("user-1", users.RoleEmployee)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/invitations/accept",
		strings.NewReader(`{"token":"abcd"}`)), user)
	rec := do(h.acceptInvitation, req)

	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestAcceptInvitationEmailMismatch(t *testing.T) {
	env := newTestEnv()
	env.projects.acceptInvitationFunc = func(ctx context.Context, token string, user projects.AcceptingUser) (*projects.Invitation, []events.Event, error) {
		return nil, nil, projects.ErrEmailMismatch
	}
	h := newProjectHandlers(env)

	user := activeUser("user-1", users.RoleEmployee)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/invitations/accept",
		strings.NewReader(`{"token":"abcd"}`)), user)
	rec := do(h.acceptInvitation, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAcceptInvitationSuccess(t *testing.T) {
	env := newTestEnv()
	env.projects.acceptInvitationFunc = func(ctx context.Context, token string, user projects.AcceptingUser) (*projects.Invitation, []events.Event, error) {
		assert.Equal(t, "abcd", token)
		assert.Equal(t, "user-1@example.com", user.Email)
		now := time.Now().UTC()
		inv := &projects.Invitation{ID: "inv-1", ProjectID: "proj-1", AcceptedAt: &now}
		return inv, []events.Event{events.NewEvent(events.ActionUpdated, "ProjectInvitation", inv.ID, "new@example.com")}, nil
	}
	h := newProjectHandlers(env)

	user := activeUser("user-1", users.RoleEmployee)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/invitations/accept",
		strings.NewReader(`{"token":"abcd"}`)), user)
	rec := do(h.acceptInvitation, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "invitation accepted")
	require.Len(t, env.sink.events, 1)
}

func TestDeleteInvitationChecksProjectManage(t *testing.T) {
	env := newTestEnv()
	env.projects.roles["dev-1|proj-1"] = projects.RoleDeveloper
	env.projects.getInvitationFunc = func(ctx context.Context, id string) (*projects.Invitation, error) {
		return &projects.Invitation{ID: id, ProjectID: "proj-1"}, nil
	}
	h := newProjectHandlers(env)

	user := activeUser("dev-1", users.RoleEmployee)
	req := withVars(asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/invitations/inv-1", nil), user),
		map[string]string{"id": "inv-1"})
	rec := do(h.deleteInvitation, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDuplicateInvitationConflict(t *testing.T) {
	env := newTestEnv()
	env.projects.roles["lead-1|proj-1"] = projects.RoleLead
	env.projects.createInvitationFunc = func(ctx context.Context, actor projects.ActorInfo, req projects.CreateInvitationRequest) (*projects.Invitation, []events.Event, error) {
		return nil, nil, projects.ErrDuplicateInvitation
	}
	h := newProjectHandlers(env)

	user := activeUser("lead-1", users.RoleEmployee)
	req := withVars(asUser(httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/invitations",
		strings.NewReader(`{"email":"new@example.com","role":"DEVELOPER"}`)), user),
		map[string]string{"id": "proj-1"})
	rec := do(h.createInvitation, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
