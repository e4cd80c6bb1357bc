package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/foreman/pkg/audit"
	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/middleware"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/projects"
	"github.com/platinummonkey/foreman/pkg/tasks"
	"github.com/platinummonkey/foreman/pkg/timesheets"
	"github.com/platinummonkey/foreman/pkg/users"
	"github.com/platinummonkey/foreman/pkg/visibility"
)

// Dependencies bundles everything the server needs. All fields are required
// except Registry, RateLimit and Health.
type Dependencies struct {
	Users       users.Service
	Projects    projects.Service
	Tasks       tasks.Service
	Timesheets  timesheets.Service
	AuditStore  audit.Store
	Visibility  *visibility.Engine
	Sessions    *auth.SessionStore
	Limiter     *auth.LoginLimiter
	Dispatcher  *events.Dispatcher
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Registry    *prometheus.Registry
	RateLimit   *middleware.RateLimitMiddleware
	SessionAuth *middleware.Authenticator
	Health      *observability.HealthChecker
}

// Server is the HTTP API server.
type Server struct {
	router *mux.Router
	deps   Dependencies

	authHandlers      *AuthHandlers
	userHandlers      *UserHandlers
	projectHandlers   *ProjectHandlers
	taskHandlers      *TaskHandlers
	timesheetHandlers *TimesheetHandlers
	auditHandlers     *AuditHandlers
}

// NewServer creates the server and registers all routes.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}

	s.authHandlers = NewAuthHandlers(deps.Users, deps.Sessions, deps.Limiter, deps.Dispatcher, deps.Logger)
	s.userHandlers = NewUserHandlers(deps.Users, deps.Dispatcher, deps.Logger)
	s.projectHandlers = NewProjectHandlers(deps.Projects, deps.Visibility, deps.Dispatcher, deps.Logger)
	s.taskHandlers = NewTaskHandlers(deps.Tasks, deps.Projects, deps.Visibility, deps.Dispatcher, deps.Logger)
	s.timesheetHandlers = NewTimesheetHandlers(deps.Timesheets, deps.Visibility, deps.Dispatcher, deps.Logger)
	s.auditHandlers = NewAuditHandlers(deps.AuditStore, deps.Logger)

	s.setupRoutes()
	return s
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RequestLogger(s.deps.Logger))
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")
	if s.deps.Health != nil {
		s.router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods("GET")
	}
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Routes reachable without a session share the tight per-IP limit.
	public := v1.NewRoute().Subrouter()
	if s.deps.RateLimit != nil {
		public.Use(s.deps.RateLimit.Handler)
	}
	public.HandleFunc("/auth/login", s.authHandlers.login).Methods("POST")
	public.HandleFunc("/auth/register", s.authHandlers.register).Methods("POST")

	// Everything else requires authentication. The limiter runs after the
	// actor is attached so authenticated traffic is keyed per user.
	authed := v1.NewRoute().Subrouter()
	authed.Use(s.deps.SessionAuth.Authenticate)
	if s.deps.RateLimit != nil {
		authed.Use(s.deps.RateLimit.Handler)
	}

	authed.HandleFunc("/auth/logout", s.authHandlers.logout).Methods("POST")
	authed.HandleFunc("/auth/me", s.authHandlers.me).Methods("GET")
	authed.HandleFunc("/auth/password", s.authHandlers.changePassword).Methods("POST")

	// User and department administration.
	admin := authed.NewRoute().Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/users", s.userHandlers.createUser).Methods("POST")
	admin.HandleFunc("/users", s.userHandlers.listUsers).Methods("GET")
	admin.HandleFunc("/users/{id}", s.userHandlers.getUser).Methods("GET")
	admin.HandleFunc("/users/{id}", s.userHandlers.updateUser).Methods("PUT")
	admin.HandleFunc("/users/{id}", s.userHandlers.deactivateUser).Methods("DELETE")
	admin.HandleFunc("/departments", s.userHandlers.createDepartment).Methods("POST")
	admin.HandleFunc("/departments/{id}", s.userHandlers.updateDepartment).Methods("PUT")
	admin.HandleFunc("/departments/{id}", s.userHandlers.deleteDepartment).Methods("DELETE")
	admin.HandleFunc("/audit", s.auditHandlers.search).Methods("GET")
	admin.HandleFunc("/audit/{id}", s.auditHandlers.get).Methods("GET")

	// Departments are readable by any authenticated user.
	authed.HandleFunc("/departments", s.userHandlers.listDepartments).Methods("GET")
	authed.HandleFunc("/departments/{id}", s.userHandlers.getDepartment).Methods("GET")

	// Projects and membership.
	authed.HandleFunc("/projects", s.projectHandlers.create).Methods("POST")
	authed.HandleFunc("/projects", s.projectHandlers.list).Methods("GET")
	authed.HandleFunc("/projects/{id}", s.projectHandlers.get).Methods("GET")
	authed.HandleFunc("/projects/{id}", s.projectHandlers.update).Methods("PUT")
	authed.HandleFunc("/projects/{id}", s.projectHandlers.delete).Methods("DELETE")
	authed.HandleFunc("/projects/{id}/members", s.projectHandlers.listMembers).Methods("GET")
	authed.HandleFunc("/projects/{id}/members", s.projectHandlers.addMember).Methods("POST")
	authed.HandleFunc("/projects/{id}/members/{userID}", s.projectHandlers.updateMemberRole).Methods("PUT")
	authed.HandleFunc("/projects/{id}/members/{userID}", s.projectHandlers.removeMember).Methods("DELETE")

	// Invitations.
	authed.HandleFunc("/projects/{id}/invitations", s.projectHandlers.createInvitation).Methods("POST")
	authed.HandleFunc("/projects/{id}/invitations", s.projectHandlers.listInvitations).Methods("GET")
	authed.HandleFunc("/invitations/accept", s.projectHandlers.acceptInvitation).Methods("POST")
	authed.HandleFunc("/invitations/reject", s.projectHandlers.rejectInvitation).Methods("POST")
	authed.HandleFunc("/invitations/{id}/resend", s.projectHandlers.resendInvitation).Methods("POST")
	authed.HandleFunc("/invitations/{id}", s.projectHandlers.deleteInvitation).Methods("DELETE")

	// Tasks and sprints.
	authed.HandleFunc("/projects/{id}/tasks", s.taskHandlers.create).Methods("POST")
	authed.HandleFunc("/projects/{id}/tasks", s.taskHandlers.list).Methods("GET")
	authed.HandleFunc("/projects/{id}/sprints", s.taskHandlers.createSprint).Methods("POST")
	authed.HandleFunc("/projects/{id}/sprints", s.taskHandlers.listSprints).Methods("GET")
	authed.HandleFunc("/sprints/{id}", s.taskHandlers.getSprint).Methods("GET")
	authed.HandleFunc("/sprints/{id}", s.taskHandlers.updateSprint).Methods("PUT")
	authed.HandleFunc("/sprints/{id}", s.taskHandlers.deleteSprint).Methods("DELETE")
	authed.HandleFunc("/tasks/{id}", s.taskHandlers.get).Methods("GET")
	authed.HandleFunc("/tasks/{id}", s.taskHandlers.update).Methods("PUT")
	authed.HandleFunc("/tasks/{id}", s.taskHandlers.delete).Methods("DELETE")
	authed.HandleFunc("/tasks/{id}/status", s.taskHandlers.changeStatus).Methods("POST")
	authed.HandleFunc("/tasks/{id}/assign", s.taskHandlers.assign).Methods("POST")
	authed.HandleFunc("/tasks/{id}/reorder", s.taskHandlers.reorder).Methods("POST")
	authed.HandleFunc("/tasks/{id}/activities", s.taskHandlers.listActivities).Methods("GET")

	// Timesheets.
	authed.HandleFunc("/timesheets", s.timesheetHandlers.create).Methods("POST")
	authed.HandleFunc("/timesheets", s.timesheetHandlers.list).Methods("GET")
	authed.HandleFunc("/timesheets/{id}", s.timesheetHandlers.get).Methods("GET")
	authed.HandleFunc("/timesheets/{id}", s.timesheetHandlers.update).Methods("PUT")
	authed.HandleFunc("/timesheets/{id}", s.timesheetHandlers.delete).Methods("DELETE")
	authed.HandleFunc("/timesheets/{id}/submit", s.timesheetHandlers.submit).Methods("POST")
	authed.HandleFunc("/timesheets/{id}/approve", s.timesheetHandlers.decide).Methods("POST")
	authed.HandleFunc("/timesheets/{id}/approvals", s.timesheetHandlers.listApprovals).Methods("GET")
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
