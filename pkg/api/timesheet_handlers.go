package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/httputil"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/timesheets"
	"github.com/platinummonkey/foreman/pkg/users"
	"github.com/platinummonkey/foreman/pkg/visibility"
)

// TimesheetHandlers serves timesheet entry and approval endpoints.
type TimesheetHandlers struct {
	timesheets timesheets.Service
	visibility *visibility.Engine
	dispatcher *events.Dispatcher
	logger     *observability.Logger
}

// NewTimesheetHandlers creates the timesheet handlers.
func NewTimesheetHandlers(timesheetService timesheets.Service, engine *visibility.Engine, dispatcher *events.Dispatcher, logger *observability.Logger) *TimesheetHandlers {
	return &TimesheetHandlers{
		timesheets: timesheetService,
		visibility: engine,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// timesheetForView loads an entry and checks the actor may see it. Owners,
// ADMINs and the project manager qualify.
func (h *TimesheetHandlers) timesheetForView(w http.ResponseWriter, r *http.Request, user *users.User, id string) *timesheets.Timesheet {
	ts, err := h.timesheets.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return nil
	}

	allowed, err := h.visibility.CanViewTimesheet(r.Context(), user, ts.EmployeeID, ts.ProjectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return nil
	}
	if !allowed {
		httputil.WriteNotFound(w, "resource not found")
		return nil
	}
	return ts
}

// create handles POST /api/v1/timesheets. Entries always belong to the
// actor; logging time for someone else is not supported.
func (h *TimesheetHandlers) create(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req timesheets.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.ProjectID != "" {
		visible, err := h.visibility.CanViewProject(r.Context(), user, req.ProjectID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		if !visible {
			httputil.WriteNotFound(w, "resource not found")
			return
		}
	}

	ts, evs, err := h.timesheets.Create(r.Context(), user.ID, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteCreated(w, ts)
}

// list handles GET /api/v1/timesheets. Non-admin actors only see their own
// entries unless they ask for a project they manage.
func (h *TimesheetHandlers) list(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}

	filter := timesheets.Filter{
		EmployeeID: httputil.ParseQueryString(r, "employee_id", ""),
		ProjectID:  httputil.ParseQueryString(r, "project_id", ""),
		Status:     timesheets.Status(httputil.ParseQueryString(r, "status", "")),
	}
	if from, err := time.Parse("2006-01-02", httputil.ParseQueryString(r, "from", "")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse("2006-01-02", httputil.ParseQueryString(r, "to", "")); err == nil {
		filter.To = &to
	}

	if !user.IsAdmin() {
		if filter.ProjectID != "" {
			manages, err := h.visibility.CanApproveTimesheet(r.Context(), user, filter.ProjectID)
			if err != nil {
				writeServiceError(w, h.logger, err)
				return
			}
			if !manages {
				filter.EmployeeID = user.ID
			}
		} else {
			filter.EmployeeID = user.ID
		}
	}

	list, err := h.timesheets.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// get handles GET /api/v1/timesheets/{id}.
func (h *TimesheetHandlers) get(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	ts := h.timesheetForView(w, r, user, mux.Vars(r)["id"])
	if ts == nil {
		return
	}
	httputil.WriteSuccess(w, ts)
}

// requireOwner 403s when the entry belongs to someone else.
func requireOwner(w http.ResponseWriter, user *users.User, ts *timesheets.Timesheet) bool {
	if ts.EmployeeID != user.ID {
		httputil.WriteForbidden(w, "only the owner may modify this timesheet")
		return false
	}
	return true
}

// update handles PUT /api/v1/timesheets/{id}. Owner only, DRAFT or REJECTED.
func (h *TimesheetHandlers) update(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	ts := h.timesheetForView(w, r, user, mux.Vars(r)["id"])
	if ts == nil {
		return
	}
	if !requireOwner(w, user, ts) {
		return
	}

	var req timesheets.UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, evs, err := h.timesheets.Update(r.Context(), ts.ID, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, updated)
}

// delete handles DELETE /api/v1/timesheets/{id}.
func (h *TimesheetHandlers) delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	ts := h.timesheetForView(w, r, user, mux.Vars(r)["id"])
	if ts == nil {
		return
	}
	if !requireOwner(w, user, ts) {
		return
	}

	evs, err := h.timesheets.Delete(r.Context(), ts.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteNoContent(w)
}

// submit handles POST /api/v1/timesheets/{id}/submit.
func (h *TimesheetHandlers) submit(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	ts := h.timesheetForView(w, r, user, mux.Vars(r)["id"])
	if ts == nil {
		return
	}
	if !requireOwner(w, user, ts) {
		return
	}

	updated, evs, err := h.timesheets.Submit(r.Context(), ts.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, updated)
}

// decide handles POST /api/v1/timesheets/{id}/approve. ADMINs and the
// project manager may approve or reject.
func (h *TimesheetHandlers) decide(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	ts := h.timesheetForView(w, r, user, mux.Vars(r)["id"])
	if ts == nil {
		return
	}

	allowed, err := h.visibility.CanApproveTimesheet(r.Context(), user, ts.ProjectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "timesheet approval rights required")
		return
	}

	var req struct {
		Approve  bool   `json:"approve"`
		Comments string `json:"comments"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, evs, err := h.timesheets.Decide(r.Context(), ts.ID, user.ID, req.Approve, req.Comments)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, updated)
}

// listApprovals handles GET /api/v1/timesheets/{id}/approvals.
func (h *TimesheetHandlers) listApprovals(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	ts := h.timesheetForView(w, r, user, mux.Vars(r)["id"])
	if ts == nil {
		return
	}

	approvals, err := h.timesheets.ListApprovals(r.Context(), ts.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, approvals)
}
