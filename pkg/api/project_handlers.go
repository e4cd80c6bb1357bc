package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/httputil"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/projects"
	"github.com/platinummonkey/foreman/pkg/users"
	"github.com/platinummonkey/foreman/pkg/visibility"
)

// ProjectHandlers serves project, membership and invitation endpoints.
type ProjectHandlers struct {
	projects   projects.Service
	visibility *visibility.Engine
	dispatcher *events.Dispatcher
	logger     *observability.Logger
}

// NewProjectHandlers creates the project handlers.
func NewProjectHandlers(projectService projects.Service, engine *visibility.Engine, dispatcher *events.Dispatcher, logger *observability.Logger) *ProjectHandlers {
	return &ProjectHandlers{
		projects:   projectService,
		visibility: engine,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (*users.User, bool) {
	actor := auth.FromContext(r.Context())
	if actor == nil || actor.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return actor.User, true
}

// requireView 404s when the actor cannot see the project, hiding its
// existence from outsiders.
func (h *ProjectHandlers) requireView(w http.ResponseWriter, r *http.Request, user *users.User, projectID string) bool {
	ok, err := h.visibility.CanViewProject(r.Context(), user, projectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return false
	}
	if !ok {
		httputil.WriteNotFound(w, "resource not found")
		return false
	}
	return true
}

func (h *ProjectHandlers) requireManage(w http.ResponseWriter, r *http.Request, user *users.User, projectID string) bool {
	if !h.requireView(w, r, user, projectID) {
		return false
	}
	ok, err := h.visibility.CanManageProject(r.Context(), user, projectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return false
	}
	if !ok {
		httputil.WriteForbidden(w, "project management rights required")
		return false
	}
	return true
}

// create handles POST /api/v1/projects. The creator becomes the first LEAD.
func (h *ProjectHandlers) create(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req projects.CreateProjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, evs, err := h.projects.CreateProject(r.Context(), user.ID, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteCreated(w, project)
}

// list handles GET /api/v1/projects, filtered to what the actor can see.
func (h *ProjectHandlers) list(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}

	list, err := h.projects.ListProjectsForUser(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// get handles GET /api/v1/projects/{id}.
func (h *ProjectHandlers) get(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireView(w, r, user, projectID) {
		return
	}

	project, err := h.projects.GetProject(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// update handles PUT /api/v1/projects/{id}.
func (h *ProjectHandlers) update(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireManage(w, r, user, projectID) {
		return
	}

	var req projects.UpdateProjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, evs, err := h.projects.UpdateProject(r.Context(), projectID, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, project)
}

// delete handles DELETE /api/v1/projects/{id}.
func (h *ProjectHandlers) delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireManage(w, r, user, projectID) {
		return
	}

	evs, err := h.projects.DeleteProject(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteNoContent(w)
}

// listMembers handles GET /api/v1/projects/{id}/members.
func (h *ProjectHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireView(w, r, user, projectID) {
		return
	}

	members, err := h.projects.ListMembers(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

// addMember handles POST /api/v1/projects/{id}/members.
func (h *ProjectHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireManage(w, r, user, projectID) {
		return
	}

	var req struct {
		UserID string              `json:"user_id"`
		Role   projects.MemberRole `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.WriteValidationError(w, "user_id is required")
		return
	}

	member, evs, err := h.projects.AddMember(r.Context(), projectID, req.UserID, req.Role)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteCreated(w, member)
}

// updateMemberRole handles PUT /api/v1/projects/{id}/members/{userID}.
func (h *ProjectHandlers) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	projectID := vars["id"]
	if !h.requireManage(w, r, user, projectID) {
		return
	}

	var req struct {
		Role projects.MemberRole `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, evs, err := h.projects.UpdateMemberRole(r.Context(), projectID, vars["userID"], req.Role)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, member)
}

// removeMember handles DELETE /api/v1/projects/{id}/members/{userID}.
// Members may remove themselves; removing anyone else needs manage rights.
func (h *ProjectHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	projectID := vars["id"]
	targetID := vars["userID"]

	if targetID == user.ID {
		if !h.requireView(w, r, user, projectID) {
			return
		}
	} else if !h.requireManage(w, r, user, projectID) {
		return
	}

	evs, err := h.projects.RemoveMember(r.Context(), projectID, targetID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteNoContent(w)
}

// createInvitation handles POST /api/v1/projects/{id}/invitations.
func (h *ProjectHandlers) createInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireManage(w, r, user, projectID) {
		return
	}

	var req projects.CreateInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.ProjectID = projectID

	inv, evs, err := h.projects.CreateInvitation(r.Context(),
		projects.ActorInfo{UserID: user.ID, FullName: user.FullName()}, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteCreated(w, inv)
}

// listInvitations handles GET /api/v1/projects/{id}/invitations.
func (h *ProjectHandlers) listInvitations(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireManage(w, r, user, projectID) {
		return
	}

	list, err := h.projects.ListInvitations(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// acceptInvitation handles POST /api/v1/invitations/accept. The token names
// the invitation; the actor must hold the invited email address.
func (h *ProjectHandlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" {
		httputil.WriteValidationError(w, "token is required")
		return
	}

	inv, evs, err := h.projects.AcceptInvitation(r.Context(), req.Token,
		projects.AcceptingUser{UserID: user.ID, Email: user.Email})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccessMessage(w, "invitation accepted", inv)
}

// rejectInvitation handles POST /api/v1/invitations/reject.
func (h *ProjectHandlers) rejectInvitation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" {
		httputil.WriteValidationError(w, "token is required")
		return
	}

	inv, evs, err := h.projects.RejectInvitation(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccessMessage(w, "invitation rejected", inv)
}

// resendInvitation handles POST /api/v1/invitations/{id}/resend.
func (h *ProjectHandlers) resendInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	invitationID := mux.Vars(r)["id"]

	inv, failed := h.invitationForManage(w, r, user, invitationID)
	if inv == nil || failed {
		return
	}

	resent, evs, err := h.projects.ResendInvitation(r.Context(), invitationID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccessMessage(w, "invitation resent", resent)
}

// deleteInvitation handles DELETE /api/v1/invitations/{id}.
func (h *ProjectHandlers) deleteInvitation(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	invitationID := mux.Vars(r)["id"]

	inv, failed := h.invitationForManage(w, r, user, invitationID)
	if inv == nil || failed {
		return
	}

	evs, err := h.projects.DeleteInvitation(r.Context(), invitationID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteNoContent(w)
}

// invitationForManage loads an invitation by ID and checks the actor can
// manage its project. Returns (nil, true) after writing a response on any
// failure.
func (h *ProjectHandlers) invitationForManage(w http.ResponseWriter, r *http.Request, user *users.User, invitationID string) (*projects.Invitation, bool) {
	inv, err := h.projects.GetInvitation(r.Context(), invitationID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return nil, true
	}
	if !h.requireManage(w, r, user, inv.ProjectID) {
		return nil, true
	}
	return inv, false
}
