package visibility

import (
	"context"

	"github.com/platinummonkey/foreman/pkg/projects"
	"github.com/platinummonkey/foreman/pkg/users"
)

// Engine evaluates access predicates over the membership registry.
type Engine struct {
	members projects.MembershipReader
}

// NewEngine creates an engine over the given membership registry.
func NewEngine(members projects.MembershipReader) *Engine {
	return &Engine{members: members}
}

// CanViewProject reports whether the user manages the project or holds an
// active membership. ADMINs get no shortcut.
func (e *Engine) CanViewProject(ctx context.Context, user *users.User, projectID string) (bool, error) {
	if user == nil {
		return false, nil
	}
	isManager, err := e.members.IsProjectManager(ctx, user.ID, projectID)
	if err != nil {
		return false, err
	}
	if isManager {
		return true, nil
	}
	role, err := e.members.RoleInProject(ctx, user.ID, projectID)
	if err != nil {
		return false, err
	}
	return role != "", nil
}

// VisibleProjectIDs returns the projects the user can see. The answer is
// computed the same way for ADMIN and EMPLOYEE.
func (e *Engine) VisibleProjectIDs(ctx context.Context, user *users.User) ([]string, error) {
	if user == nil {
		return nil, nil
	}
	return e.members.VisibleProjectIDs(ctx, user.ID)
}

// RoleInProject returns the user's active membership role, or "" when none.
func (e *Engine) RoleInProject(ctx context.Context, user *users.User, projectID string) (projects.MemberRole, error) {
	if user == nil {
		return "", nil
	}
	return e.members.RoleInProject(ctx, user.ID, projectID)
}

// CanManageProject reports whether the user may change project settings,
// membership and invitations. Only a LEAD qualifies.
func (e *Engine) CanManageProject(ctx context.Context, user *users.User, projectID string) (bool, error) {
	return e.hasRole(ctx, user, projectID, projects.RoleLead)
}

// CanCreateTask reports whether the user may create tasks in the project.
func (e *Engine) CanCreateTask(ctx context.Context, user *users.User, projectID string) (bool, error) {
	return e.hasRole(ctx, user, projectID, projects.RoleLead, projects.RoleDeveloper)
}

// CanEditTask reports whether the user may modify a task. The assignee may
// always edit their own task.
func (e *Engine) CanEditTask(ctx context.Context, user *users.User, projectID string, assigneeID *string) (bool, error) {
	if user == nil {
		return false, nil
	}
	if assigneeID != nil && *assigneeID == user.ID {
		return true, nil
	}
	return e.hasRole(ctx, user, projectID, projects.RoleLead, projects.RoleDeveloper)
}

// CanDeleteTask reports whether the user may delete tasks in the project.
func (e *Engine) CanDeleteTask(ctx context.Context, user *users.User, projectID string) (bool, error) {
	return e.hasRole(ctx, user, projectID, projects.RoleLead)
}

// CanApproveTimesheet reports whether the user may approve or reject a
// timesheet logged against the project. This is the one place the ADMIN role
// crosses the project boundary.
func (e *Engine) CanApproveTimesheet(ctx context.Context, user *users.User, projectID string) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsAdmin() {
		return true, nil
	}
	return e.members.IsProjectManager(ctx, user.ID, projectID)
}

// CanViewTimesheet reports whether the user may read a timesheet: its owner,
// the project's manager, or an ADMIN.
func (e *Engine) CanViewTimesheet(ctx context.Context, user *users.User, ownerID, projectID string) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.ID == ownerID || user.IsAdmin() {
		return true, nil
	}
	return e.members.IsProjectManager(ctx, user.ID, projectID)
}

func (e *Engine) hasRole(ctx context.Context, user *users.User, projectID string, allowed ...projects.MemberRole) (bool, error) {
	if user == nil {
		return false, nil
	}
	role, err := e.members.RoleInProject(ctx, user.ID, projectID)
	if err != nil {
		return false, err
	}
	for _, a := range allowed {
		if role == a {
			return true, nil
		}
	}
	return false, nil
}
