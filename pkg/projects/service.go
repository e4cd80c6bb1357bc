package projects

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/observability"
)

const projectColumns = `id, code, name, description, department_id, manager_id, status, start_date, end_date, budget, is_active, created_by, created_at, updated_at`

// Service manages projects, memberships and invitations.
type Service interface {
	CreateProject(ctx context.Context, actorID string, req CreateProjectRequest) (*Project, []events.Event, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]*Project, error)
	UpdateProject(ctx context.Context, id string, req UpdateProjectRequest) (*Project, []events.Event, error)
	DeleteProject(ctx context.Context, id string) ([]events.Event, error)

	ListMembers(ctx context.Context, projectID string) ([]*Member, error)
	AddMember(ctx context.Context, projectID, userID string, role MemberRole) (*Member, []events.Event, error)
	UpdateMemberRole(ctx context.Context, projectID, userID string, role MemberRole) (*Member, []events.Event, error)
	RemoveMember(ctx context.Context, projectID, userID string) ([]events.Event, error)

	CreateInvitation(ctx context.Context, actor ActorInfo, req CreateInvitationRequest) (*Invitation, []events.Event, error)
	GetInvitation(ctx context.Context, id string) (*Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*Invitation, error)
	ListInvitations(ctx context.Context, projectID string) ([]*Invitation, error)
	AcceptInvitation(ctx context.Context, token string, user AcceptingUser) (*Invitation, []events.Event, error)
	RejectInvitation(ctx context.Context, token string) (*Invitation, []events.Event, error)
	ResendInvitation(ctx context.Context, id string) (*Invitation, []events.Event, error)
	DeleteInvitation(ctx context.Context, id string) ([]events.Event, error)
	ExpireOverdueInvitations(ctx context.Context) (int64, error)

	MembershipReader
}

// MembershipReader is the narrow read surface the visibility engine needs.
type MembershipReader interface {
	// RoleInProject returns the user's active membership role, or "" when
	// the user is not an active member.
	RoleInProject(ctx context.Context, userID, projectID string) (MemberRole, error)
	// IsProjectManager reports whether the user is the project's manager.
	IsProjectManager(ctx context.Context, userID, projectID string) (bool, error)
	// VisibleProjectIDs returns the ids of projects the user manages or is
	// an active member of.
	VisibleProjectIDs(ctx context.Context, userID string) ([]string, error)
}

// InvitationMailer delivers invitation emails. Failures are logged and never
// fail the operation that triggered the send.
type InvitationMailer interface {
	SendInvitation(ctx context.Context, inv *Invitation, projectName, inviterName string) error
}

// ActorInfo identifies the inviter for invitation creation.
type ActorInfo struct {
	UserID   string
	FullName string
}

// AcceptingUser identifies the logged-in user accepting an invitation.
type AcceptingUser struct {
	UserID string
	Email  string
}

// CreateProjectRequest carries the fields for a new project.
type CreateProjectRequest struct {
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	DepartmentID *string    `json:"department_id,omitempty"`
	ManagerID    *string    `json:"manager_id,omitempty"`
	Status       Status     `json:"status,omitempty"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Budget       *float64   `json:"budget,omitempty"`
}

// UpdateProjectRequest carries a partial update; nil fields are unchanged.
type UpdateProjectRequest struct {
	Name         *string    `json:"name,omitempty"`
	Description  *string    `json:"description,omitempty"`
	DepartmentID *string    `json:"department_id,omitempty"`
	ManagerID    *string    `json:"manager_id,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Budget       *float64   `json:"budget,omitempty"`
	IsActive     *bool      `json:"is_active,omitempty"`
}

// CreateInvitationRequest carries the fields for a new invitation.
type CreateInvitationRequest struct {
	ProjectID string     `json:"-"`
	Email     string     `json:"email"`
	Role      MemberRole `json:"role"`
	Message   string     `json:"message,omitempty"`
}

// PostgresService is the database-backed Service implementation.
type PostgresService struct {
	db        *sql.DB
	logger    *observability.Logger
	mailer    InvitationMailer
	inviteTTL time.Duration
}

// NewPostgresService creates a project service. inviteTTL controls how long
// new invitations stay valid.
func NewPostgresService(db *sql.DB, logger *observability.Logger, mailer InvitationMailer, inviteTTL time.Duration) *PostgresService {
	if inviteTTL <= 0 {
		inviteTTL = 7 * 24 * time.Hour
	}
	return &PostgresService{
		db:        db,
		logger:    logger,
		mailer:    mailer,
		inviteTTL: inviteTTL,
	}
}

// CreateProject inserts the project and the creator's LEAD membership in one
// transaction. A project is never observable without a LEAD.
func (s *PostgresService) CreateProject(ctx context.Context, actorID string, req CreateProjectRequest) (*Project, []events.Event, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	name := strings.TrimSpace(req.Name)
	if code == "" {
		return nil, nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	}
	if name == "" {
		return nil, nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	status := req.Status
	if status == "" {
		status = StatusPlanning
	}
	if !status.Valid() {
		return nil, nil, &ValidationError{Field: "status", Reason: "unknown project status"}
	}
	if req.EndDate != nil && req.EndDate.Before(req.StartDate) {
		return nil, nil, &ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}
	if req.Budget != nil && *req.Budget < 0 {
		return nil, nil, &ValidationError{Field: "budget", Reason: "must not be negative"}
	}

	now := time.Now().UTC()
	project := &Project{
		ID:           uuid.New().String(),
		Code:         code,
		Name:         name,
		Description:  req.Description,
		DepartmentID: req.DepartmentID,
		ManagerID:    req.ManagerID,
		Status:       status,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Budget:       req.Budget,
		IsActive:     true,
		CreatedBy:    actorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, code, name, description, department_id, manager_id, status, start_date, end_date, budget, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		project.ID, project.Code, project.Name, project.Description,
		project.DepartmentID, project.ManagerID, string(project.Status),
		project.StartDate, project.EndDate, project.Budget, project.IsActive,
		project.CreatedBy, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrCodeTaken
		}
		return nil, nil, fmt.Errorf("failed to create project: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role, is_active, joined_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)`,
		uuid.New().String(), project.ID, actorID, string(RoleLead), now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit project creation: %w", err)
	}

	ev := events.NewEvent(events.ActionCreated, "Project", project.ID, project.Name)
	return project, []events.Event{ev}, nil
}

func (s *PostgresService) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// ListProjectsForUser returns projects the user manages or is an active
// member of. There is no unfiltered listing; visibility is the only door.
func (s *PostgresService) ListProjectsForUser(ctx context.Context, userID string) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.id, p.code, p.name, p.description, p.department_id, p.manager_id, p.status, p.start_date, p.end_date, p.budget, p.is_active, p.created_by, p.created_at, p.updated_at
		FROM projects p
		LEFT JOIN project_members pm ON pm.project_id = p.id AND pm.is_active = TRUE
		WHERE p.manager_id = $1 OR pm.user_id = $1
		ORDER BY p.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *PostgresService) UpdateProject(ctx context.Context, id string, req UpdateProjectRequest) (*Project, []events.Event, error) {
	before, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	after := *before
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, nil, &ValidationError{Field: "name", Reason: "must not be empty"}
		}
		after.Name = name
	}
	if req.Description != nil {
		after.Description = *req.Description
	}
	if req.DepartmentID != nil {
		if *req.DepartmentID == "" {
			after.DepartmentID = nil
		} else {
			after.DepartmentID = req.DepartmentID
		}
	}
	if req.ManagerID != nil {
		if *req.ManagerID == "" {
			after.ManagerID = nil
		} else {
			after.ManagerID = req.ManagerID
		}
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, nil, &ValidationError{Field: "status", Reason: "unknown project status"}
		}
		after.Status = *req.Status
	}
	if req.StartDate != nil {
		after.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		after.EndDate = req.EndDate
	}
	if req.Budget != nil {
		if *req.Budget < 0 {
			return nil, nil, &ValidationError{Field: "budget", Reason: "must not be negative"}
		}
		after.Budget = req.Budget
	}
	if req.IsActive != nil {
		after.IsActive = *req.IsActive
	}
	if after.EndDate != nil && after.EndDate.Before(after.StartDate) {
		return nil, nil, &ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}
	after.UpdatedAt = time.Now().UTC()

	changes := events.Diff(before, &after)
	if changes == nil {
		return before, nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE projects
		SET name = $1, description = $2, department_id = $3, manager_id = $4,
		    status = $5, start_date = $6, end_date = $7, budget = $8,
		    is_active = $9, updated_at = $10
		WHERE id = $11`,
		after.Name, after.Description, after.DepartmentID, after.ManagerID,
		string(after.Status), after.StartDate, after.EndDate, after.Budget,
		after.IsActive, after.UpdatedAt, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update project: %w", err)
	}

	ev := events.NewEvent(events.ActionUpdated, "Project", id, after.Name).WithChanges(changes)
	return &after, []events.Event{ev}, nil
}

// DeleteProject removes the project. Members, invitations, tasks and
// timesheets under it go with it via ON DELETE CASCADE.
func (s *PostgresService) DeleteProject(ctx context.Context, id string) ([]events.Event, error) {
	project, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete project: %w", err)
	}
	ev := events.NewEvent(events.ActionDeleted, "Project", id, project.Name)
	return []events.Event{ev}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var status string
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.DepartmentID,
		&p.ManagerID, &status, &p.StartDate, &p.EndDate, &p.Budget,
		&p.IsActive, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Status = Status(status)
	return &p, nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}
