package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/foreman/pkg/audit"
	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/projects"
	"github.com/platinummonkey/foreman/pkg/tasks"
	"github.com/platinummonkey/foreman/pkg/timesheets"
	"github.com/platinummonkey/foreman/pkg/users"
	"github.com/platinummonkey/foreman/pkg/visibility"
)

// recordingSink captures dispatched events for assertions.
type recordingSink struct {
	events []events.Event
}

func (s *recordingSink) Handle(ctx context.Context, ev events.Event) error {
	s.events = append(s.events, ev)
	return nil
}

type mockUserService struct {
	users.Service
	createUserFunc   func(ctx context.Context, req users.CreateUserRequest) (*users.User, []events.Event, error)
	getUserFunc      func(ctx context.Context, id string) (*users.User, error)
	listUsersFunc    func(ctx context.Context, filter users.UserFilter) ([]*users.User, error)
	authenticateFunc func(ctx context.Context, email, password string) (*users.User, error)
	recordLoginFunc  func(ctx context.Context, id string, at time.Time) error
	changePassFunc   func(ctx context.Context, id, current, next string) error
	deactivateFunc   func(ctx context.Context, id string) ([]events.Event, error)
}

func (m *mockUserService) CreateUser(ctx context.Context, req users.CreateUserRequest) (*users.User, []events.Event, error) {
	return m.createUserFunc(ctx, req)
}

func (m *mockUserService) GetUser(ctx context.Context, id string) (*users.User, error) {
	return m.getUserFunc(ctx, id)
}

func (m *mockUserService) ListUsers(ctx context.Context, filter users.UserFilter) ([]*users.User, error) {
	return m.listUsersFunc(ctx, filter)
}

func (m *mockUserService) Authenticate(ctx context.Context, email, password string) (*users.User, error) {
	return m.authenticateFunc(ctx, email, password)
}

func (m *mockUserService) RecordLogin(ctx context.Context, id string, at time.Time) error {
	if m.recordLoginFunc != nil {
		return m.recordLoginFunc(ctx, id, at)
	}
	return nil
}

func (m *mockUserService) ChangePassword(ctx context.Context, id, current, next string) error {
	return m.changePassFunc(ctx, id, current, next)
}

func (m *mockUserService) DeactivateUser(ctx context.Context, id string) ([]events.Event, error) {
	return m.deactivateFunc(ctx, id)
}

type mockProjectService struct {
	projects.Service
	createFunc           func(ctx context.Context, actorID string, req projects.CreateProjectRequest) (*projects.Project, []events.Event, error)
	getFunc              func(ctx context.Context, id string) (*projects.Project, error)
	listForUserFunc      func(ctx context.Context, userID string) ([]*projects.Project, error)
	updateFunc           func(ctx context.Context, id string, req projects.UpdateProjectRequest) (*projects.Project, []events.Event, error)
	addMemberFunc        func(ctx context.Context, projectID, userID string, role projects.MemberRole) (*projects.Member, []events.Event, error)
	removeMemberFunc     func(ctx context.Context, projectID, userID string) ([]events.Event, error)
	createInvitationFunc func(ctx context.Context, actor projects.ActorInfo, req projects.CreateInvitationRequest) (*projects.Invitation, []events.Event, error)
	acceptInvitationFunc func(ctx context.Context, token string, user projects.AcceptingUser) (*projects.Invitation, []events.Event, error)
	getInvitationFunc    func(ctx context.Context, id string) (*projects.Invitation, error)

	// membership facts consumed by the visibility engine
	roles    map[string]projects.MemberRole // "userID|projectID" -> role
	managers map[string]bool                // "userID|projectID" -> manages
}

func (m *mockProjectService) CreateProject(ctx context.Context, actorID string, req projects.CreateProjectRequest) (*projects.Project, []events.Event, error) {
	return m.createFunc(ctx, actorID, req)
}

func (m *mockProjectService) GetProject(ctx context.Context, id string) (*projects.Project, error) {
	return m.getFunc(ctx, id)
}

func (m *mockProjectService) ListProjectsForUser(ctx context.Context, userID string) ([]*projects.Project, error) {
	return m.listForUserFunc(ctx, userID)
}

func (m *mockProjectService) UpdateProject(ctx context.Context, id string, req projects.UpdateProjectRequest) (*projects.Project, []events.Event, error) {
	return m.updateFunc(ctx, id, req)
}

func (m *mockProjectService) AddMember(ctx context.Context, projectID, userID string, role projects.MemberRole) (*projects.Member, []events.Event, error) {
	return m.addMemberFunc(ctx, projectID, userID, role)
}

func (m *mockProjectService) RemoveMember(ctx context.Context, projectID, userID string) ([]events.Event, error) {
	return m.removeMemberFunc(ctx, projectID, userID)
}

func (m *mockProjectService) CreateInvitation(ctx context.Context, actor projects.ActorInfo, req projects.CreateInvitationRequest) (*projects.Invitation, []events.Event, error) {
	return m.createInvitationFunc(ctx, actor, req)
}

func (m *mockProjectService) AcceptInvitation(ctx context.Context, token string, user projects.AcceptingUser) (*projects.Invitation, []events.Event, error) {
	return m.acceptInvitationFunc(ctx, token, user)
}

func (m *mockProjectService) GetInvitation(ctx context.Context, id string) (*projects.Invitation, error) {
	return m.getInvitationFunc(ctx, id)
}

func (m *mockProjectService) RoleInProject(ctx context.Context, userID, projectID string) (projects.MemberRole, error) {
	return m.roles[userID+"|"+projectID], nil
}

func (m *mockProjectService) IsProjectManager(ctx context.Context, userID, projectID string) (bool, error) {
	return m.managers[userID+"|"+projectID], nil
}

func (m *mockProjectService) VisibleProjectIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	for key := range m.roles {
		if len(key) > len(userID) && key[:len(userID)+1] == userID+"|" {
			ids = append(ids, key[len(userID)+1:])
		}
	}
	return ids, nil
}

type mockTaskService struct {
	tasks.Service
	createFunc       func(ctx context.Context, actorID string, req tasks.CreateTaskRequest) (*tasks.Task, []events.Event, error)
	getFunc          func(ctx context.Context, id string) (*tasks.Task, error)
	changeStatusFunc func(ctx context.Context, actorID, id string, status tasks.Status) (*tasks.Task, []events.Event, error)
	assignFunc       func(ctx context.Context, actorID, id string, assigneeID *string) (*tasks.Task, []events.Event, error)
	reorderFunc      func(ctx context.Context, id string, orderIndex int) (*tasks.Task, error)
	deleteFunc       func(ctx context.Context, id string) ([]events.Event, error)
}

func (m *mockTaskService) CreateTask(ctx context.Context, actorID string, req tasks.CreateTaskRequest) (*tasks.Task, []events.Event, error) {
	return m.createFunc(ctx, actorID, req)
}

func (m *mockTaskService) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	return m.getFunc(ctx, id)
}

func (m *mockTaskService) ChangeStatus(ctx context.Context, actorID, id string, status tasks.Status) (*tasks.Task, []events.Event, error) {
	return m.changeStatusFunc(ctx, actorID, id, status)
}

func (m *mockTaskService) AssignTask(ctx context.Context, actorID, id string, assigneeID *string) (*tasks.Task, []events.Event, error) {
	return m.assignFunc(ctx, actorID, id, assigneeID)
}

func (m *mockTaskService) ReorderTask(ctx context.Context, id string, orderIndex int) (*tasks.Task, error) {
	return m.reorderFunc(ctx, id, orderIndex)
}

func (m *mockTaskService) DeleteTask(ctx context.Context, id string) ([]events.Event, error) {
	return m.deleteFunc(ctx, id)
}

type mockTimesheetService struct {
	timesheets.Service
	createFunc func(ctx context.Context, employeeID string, req timesheets.CreateRequest) (*timesheets.Timesheet, []events.Event, error)
	getFunc    func(ctx context.Context, id string) (*timesheets.Timesheet, error)
	submitFunc func(ctx context.Context, id string) (*timesheets.Timesheet, []events.Event, error)
	decideFunc func(ctx context.Context, id, approverID string, approve bool, comments string) (*timesheets.Timesheet, []events.Event, error)
	listFunc   func(ctx context.Context, filter timesheets.Filter) ([]*timesheets.Timesheet, error)
}

func (m *mockTimesheetService) Create(ctx context.Context, employeeID string, req timesheets.CreateRequest) (*timesheets.Timesheet, []events.Event, error) {
	return m.createFunc(ctx, employeeID, req)
}

func (m *mockTimesheetService) Get(ctx context.Context, id string) (*timesheets.Timesheet, error) {
	return m.getFunc(ctx, id)
}

func (m *mockTimesheetService) Submit(ctx context.Context, id string) (*timesheets.Timesheet, []events.Event, error) {
	return m.submitFunc(ctx, id)
}

func (m *mockTimesheetService) Decide(ctx context.Context, id, approverID string, approve bool, comments string) (*timesheets.Timesheet, []events.Event, error) {
	return m.decideFunc(ctx, id, approverID, approve, comments)
}

func (m *mockTimesheetService) List(ctx context.Context, filter timesheets.Filter) ([]*timesheets.Timesheet, error) {
	return m.listFunc(ctx, filter)
}

type mockAuditStore struct {
	audit.Store
	searchFunc func(ctx context.Context, filter audit.SearchFilter) ([]*audit.Record, error)
	getFunc    func(ctx context.Context, id string) (*audit.Record, error)
}

func (m *mockAuditStore) Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Record, error) {
	return m.searchFunc(ctx, filter)
}

func (m *mockAuditStore) Get(ctx context.Context, id string) (*audit.Record, error) {
	return m.getFunc(ctx, id)
}

// testEnv bundles the handler fixtures for a test.
type testEnv struct {
	users      *mockUserService
	projects   *mockProjectService
	tasks      *mockTaskService
	timesheets *mockTimesheetService
	auditStore *mockAuditStore
	sink       *recordingSink
	dispatcher *events.Dispatcher
	visibility *visibility.Engine
	logger     *observability.Logger
}

func newTestEnv() *testEnv {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	sink := &recordingSink{}
	projectService := &mockProjectService{
		roles:    map[string]projects.MemberRole{},
		managers: map[string]bool{},
	}
	return &testEnv{
		users:      &mockUserService{},
		projects:   projectService,
		tasks:      &mockTaskService{},
		timesheets: &mockTimesheetService{},
		auditStore: &mockAuditStore{},
		sink:       sink,
		dispatcher: events.NewDispatcher(logger, sink),
		visibility: visibility.NewEngine(projectService),
		logger:     logger,
	}
}

// asUser attaches an actor to the request, standing in for the session
// middleware.
func asUser(r *http.Request, user *users.User) *http.Request {
	actor := &auth.Context{User: user, IPAddress: "10.0.0.8", UserAgent: "go-test"}
	return r.WithContext(auth.WithContext(r.Context(), actor))
}

func do(handler http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler(rec, r)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func activeUser(id string, role users.Role) *users.User {
	return &users.User{
		ID:        id,
		Email:     id + "@example.com",
		FirstName: "Test",
		LastName:  "User",
		Role:      role,
		IsActive:  true,
	}
}
