package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/httputil"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/users"
)

// UserHandlers serves user and department administration endpoints.
type UserHandlers struct {
	users      users.Service
	dispatcher *events.Dispatcher
	logger     *observability.Logger
}

// NewUserHandlers creates the user administration handlers.
func NewUserHandlers(userService users.Service, dispatcher *events.Dispatcher, logger *observability.Logger) *UserHandlers {
	return &UserHandlers{users: userService, dispatcher: dispatcher, logger: logger}
}

// createUser handles POST /api/v1/users.
func (h *UserHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, evs, err := h.users.CreateUser(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteCreated(w, user)
}

// listUsers handles GET /api/v1/users.
func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	filter := users.UserFilter{
		Role:         users.Role(httputil.ParseQueryString(r, "role", "")),
		DepartmentID: httputil.ParseQueryString(r, "department_id", ""),
		ActiveOnly:   httputil.ParseQueryString(r, "active", "") == "true",
	}

	list, err := h.users.ListUsers(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// getUser handles GET /api/v1/users/{id}.
func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// updateUser handles PUT /api/v1/users/{id}.
func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	var req users.UpdateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, evs, err := h.users.UpdateUser(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, user)
}

// deactivateUser handles DELETE /api/v1/users/{id}. Users are deactivated,
// never deleted; their history stays referenced.
func (h *UserHandlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	evs, err := h.users.DeactivateUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteNoContent(w)
}

// createDepartment handles POST /api/v1/departments.
func (h *UserHandlers) createDepartment(w http.ResponseWriter, r *http.Request) {
	var req users.CreateDepartmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	dept, evs, err := h.users.CreateDepartment(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteCreated(w, dept)
}

// listDepartments handles GET /api/v1/departments.
func (h *UserHandlers) listDepartments(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.ListDepartments(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// getDepartment handles GET /api/v1/departments/{id}.
func (h *UserHandlers) getDepartment(w http.ResponseWriter, r *http.Request) {
	dept, err := h.users.GetDepartment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, dept)
}

// updateDepartment handles PUT /api/v1/departments/{id}.
func (h *UserHandlers) updateDepartment(w http.ResponseWriter, r *http.Request) {
	var req users.UpdateDepartmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	dept, evs, err := h.users.UpdateDepartment(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, dept)
}

// deleteDepartment handles DELETE /api/v1/departments/{id}. Blocked while
// users are still assigned to the department.
func (h *UserHandlers) deleteDepartment(w http.ResponseWriter, r *http.Request) {
	evs, err := h.users.DeleteDepartment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteNoContent(w)
}
