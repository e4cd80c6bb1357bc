package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/httputil"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/projects"
	"github.com/platinummonkey/foreman/pkg/tasks"
	"github.com/platinummonkey/foreman/pkg/users"
	"github.com/platinummonkey/foreman/pkg/visibility"
)

// TaskHandlers serves task, activity and sprint endpoints.
type TaskHandlers struct {
	tasks      tasks.Service
	projects   projects.Service
	visibility *visibility.Engine
	dispatcher *events.Dispatcher
	logger     *observability.Logger
}

// NewTaskHandlers creates the task handlers.
func NewTaskHandlers(taskService tasks.Service, projectService projects.Service, engine *visibility.Engine, dispatcher *events.Dispatcher, logger *observability.Logger) *TaskHandlers {
	return &TaskHandlers{
		tasks:      taskService,
		projects:   projectService,
		visibility: engine,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *TaskHandlers) requireView(w http.ResponseWriter, r *http.Request, user *users.User, projectID string) bool {
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

// taskForActor loads a task and checks project visibility. Returns nil after
// writing a response when the actor cannot proceed.
func (h *TaskHandlers) taskForActor(w http.ResponseWriter, r *http.Request, user *users.User, taskID string) *tasks.Task {
	task, err := h.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return nil
	}
	if !h.requireView(w, r, user, task.ProjectID) {
		return nil
	}
	return task
}

// create handles POST /api/v1/projects/{id}/tasks.
func (h *TaskHandlers) create(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireView(w, r, user, projectID) {
		return
	}

	allowed, err := h.visibility.CanCreateTask(r.Context(), user, projectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "task creation requires LEAD or DEVELOPER role")
		return
	}

	var req tasks.CreateTaskRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.ProjectID = projectID

	task, evs, err := h.tasks.CreateTask(r.Context(), user.ID, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteCreated(w, task)
}

// list handles GET /api/v1/projects/{id}/tasks.
func (h *TaskHandlers) list(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireView(w, r, user, projectID) {
		return
	}

	filter := tasks.TaskFilter{
		Status:     tasks.Status(httputil.ParseQueryString(r, "status", "")),
		AssigneeID: httputil.ParseQueryString(r, "assignee_id", ""),
		SprintID:   httputil.ParseQueryString(r, "sprint_id", ""),
	}

	list, err := h.tasks.ListTasks(r.Context(), projectID, filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// get handles GET /api/v1/tasks/{id}.
func (h *TaskHandlers) get(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task := h.taskForActor(w, r, user, mux.Vars(r)["id"])
	if task == nil {
		return
	}
	httputil.WriteSuccess(w, task)
}

// update handles PUT /api/v1/tasks/{id}.
func (h *TaskHandlers) update(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task := h.taskForActor(w, r, user, mux.Vars(r)["id"])
	if task == nil {
		return
	}

	allowed, err := h.visibility.CanEditTask(r.Context(), user, task.ProjectID, task.AssigneeID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "task edit rights required")
		return
	}

	var req tasks.UpdateTaskRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, evs, err := h.tasks.UpdateTask(r.Context(), user.ID, task.ID, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, updated)
}

// delete handles DELETE /api/v1/tasks/{id}. LEAD only.
func (h *TaskHandlers) delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task := h.taskForActor(w, r, user, mux.Vars(r)["id"])
	if task == nil {
		return
	}

	allowed, err := h.visibility.CanDeleteTask(r.Context(), user, task.ProjectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "task deletion requires LEAD role")
		return
	}

	evs, err := h.tasks.DeleteTask(r.Context(), task.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteNoContent(w)
}

// changeStatus handles POST /api/v1/tasks/{id}/status.
func (h *TaskHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task := h.taskForActor(w, r, user, mux.Vars(r)["id"])
	if task == nil {
		return
	}

	allowed, err := h.visibility.CanEditTask(r.Context(), user, task.ProjectID, task.AssigneeID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "task edit rights required")
		return
	}

	var req struct {
		Status tasks.Status `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, evs, err := h.tasks.ChangeStatus(r.Context(), user.ID, task.ID, req.Status)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, updated)
}

// assign handles POST /api/v1/tasks/{id}/assign. A null assignee_id
// unassigns the task.
func (h *TaskHandlers) assign(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task := h.taskForActor(w, r, user, mux.Vars(r)["id"])
	if task == nil {
		return
	}

	allowed, err := h.visibility.CanCreateTask(r.Context(), user, task.ProjectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "task assignment requires LEAD or DEVELOPER role")
		return
	}

	var req struct {
		AssigneeID *string `json:"assignee_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, evs, err := h.tasks.AssignTask(r.Context(), user.ID, task.ID, req.AssigneeID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, updated)
}

// reorder handles POST /api/v1/tasks/{id}/reorder. Reordering is cosmetic
// and produces no events.
func (h *TaskHandlers) reorder(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task := h.taskForActor(w, r, user, mux.Vars(r)["id"])
	if task == nil {
		return
	}

	allowed, err := h.visibility.CanEditTask(r.Context(), user, task.ProjectID, task.AssigneeID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "task edit rights required")
		return
	}

	var req struct {
		OrderIndex int `json:"order_index"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, err := h.tasks.ReorderTask(r.Context(), task.ID, req.OrderIndex)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// listActivities handles GET /api/v1/tasks/{id}/activities.
func (h *TaskHandlers) listActivities(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	task := h.taskForActor(w, r, user, mux.Vars(r)["id"])
	if task == nil {
		return
	}

	activities, err := h.tasks.ListActivities(r.Context(), task.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, activities)
}

// createSprint handles POST /api/v1/projects/{id}/sprints.
func (h *TaskHandlers) createSprint(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireView(w, r, user, projectID) {
		return
	}

	allowed, err := h.visibility.CanManageProject(r.Context(), user, projectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "sprint management requires LEAD role")
		return
	}

	var req tasks.CreateSprintRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.ProjectID = projectID

	sprint, evs, err := h.tasks.CreateSprint(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteCreated(w, sprint)
}

// listSprints handles GET /api/v1/projects/{id}/sprints.
func (h *TaskHandlers) listSprints(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	projectID := mux.Vars(r)["id"]
	if !h.requireView(w, r, user, projectID) {
		return
	}

	sprints, err := h.tasks.ListSprints(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, sprints)
}

// sprintForActor loads a sprint and checks project visibility.
func (h *TaskHandlers) sprintForActor(w http.ResponseWriter, r *http.Request, user *users.User, sprintID string) *tasks.Sprint {
	sprint, err := h.tasks.GetSprint(r.Context(), sprintID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return nil
	}
	if !h.requireView(w, r, user, sprint.ProjectID) {
		return nil
	}
	return sprint
}

// getSprint handles GET /api/v1/sprints/{id}.
func (h *TaskHandlers) getSprint(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	sprint := h.sprintForActor(w, r, user, mux.Vars(r)["id"])
	if sprint == nil {
		return
	}
	httputil.WriteSuccess(w, sprint)
}

// updateSprint handles PUT /api/v1/sprints/{id}.
func (h *TaskHandlers) updateSprint(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	sprint := h.sprintForActor(w, r, user, mux.Vars(r)["id"])
	if sprint == nil {
		return
	}

	allowed, err := h.visibility.CanManageProject(r.Context(), user, sprint.ProjectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "sprint management requires LEAD role")
		return
	}

	var req tasks.UpdateSprintRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, evs, err := h.tasks.UpdateSprint(r.Context(), sprint.ID, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteSuccess(w, updated)
}

// deleteSprint handles DELETE /api/v1/sprints/{id}.
func (h *TaskHandlers) deleteSprint(w http.ResponseWriter, r *http.Request) {
	user, ok := requireActor(w, r)
	if !ok {
		return
	}
	sprint := h.sprintForActor(w, r, user, mux.Vars(r)["id"])
	if sprint == nil {
		return
	}

	allowed, err := h.visibility.CanManageProject(r.Context(), user, sprint.ProjectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !allowed {
		httputil.WriteForbidden(w, "sprint management requires LEAD role")
		return
	}

	evs, err := h.tasks.DeleteSprint(r.Context(), sprint.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.dispatcher.Dispatch(r.Context(), evs...)
	httputil.WriteNoContent(w)
}
