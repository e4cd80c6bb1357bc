package projects

import (
	"errors"
	"fmt"
	"time"
)

// Status is a project lifecycle status.
type Status string

const (
	StatusPlanning  Status = "PLANNING"
	StatusActive    Status = "ACTIVE"
	StatusOnHold    Status = "ON_HOLD"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known project status.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanning, StatusActive, StatusOnHold, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// MemberRole is a per-project role. LEAD holds management rights inside the
// project; the other roles scope what a member can do with tasks.
type MemberRole string

const (
	RoleLead      MemberRole = "LEAD"
	RoleDeveloper MemberRole = "DEVELOPER"
	RoleTester    MemberRole = "TESTER"
	RoleAnalyst   MemberRole = "ANALYST"
	RoleDesigner  MemberRole = "DESIGNER"
	RoleViewer    MemberRole = "VIEWER"
)

// Valid reports whether r is a known project role.
func (r MemberRole) Valid() bool {
	switch r {
	case RoleLead, RoleDeveloper, RoleTester, RoleAnalyst, RoleDesigner, RoleViewer:
		return true
	}
	return false
}

// Project is a unit of work with its own membership boundary.
type Project struct {
	ID           string     `json:"id" db:"id"`
	Code         string     `json:"code" db:"code"`
	Name         string     `json:"name" db:"name"`
	Description  string     `json:"description" db:"description"`
	DepartmentID *string    `json:"department_id,omitempty" db:"department_id"`
	ManagerID    *string    `json:"manager_id,omitempty" db:"manager_id"`
	Status       Status     `json:"status" db:"status"`
	StartDate    time.Time  `json:"start_date" db:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty" db:"end_date"`
	Budget       *float64   `json:"budget,omitempty" db:"budget"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedBy    string     `json:"created_by" db:"created_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// IsOverdue reports whether the project ran past its end date without
// reaching a terminal status.
func (p *Project) IsOverdue() bool {
	if p.EndDate == nil {
		return false
	}
	if p.Status == StatusCompleted || p.Status == StatusCancelled {
		return false
	}
	return time.Now().UTC().After(*p.EndDate)
}

// DurationDays returns the planned duration in days, or 0 when open ended.
func (p *Project) DurationDays() int {
	if p.EndDate == nil {
		return 0
	}
	return int(p.EndDate.Sub(p.StartDate).Hours() / 24)
}

// Member is a user's membership in one project.
type Member struct {
	ID        string     `json:"id" db:"id"`
	ProjectID string     `json:"project_id" db:"project_id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Role      MemberRole `json:"role" db:"role"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	JoinedAt  time.Time  `json:"joined_at" db:"joined_at"`

	// Joined display fields, populated on list/get only.
	Email    string `json:"email,omitempty" db:"-"`
	FullName string `json:"full_name,omitempty" db:"-"`
}

// InvitationStatus is the state of one invitation. All transitions out of
// PENDING are terminal.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationRejected InvitationStatus = "REJECTED"
	InvitationExpired  InvitationStatus = "EXPIRED"
)

// Invitation invites an email address into a project at a given role.
type Invitation struct {
	ID         string           `json:"id" db:"id"`
	ProjectID  string           `json:"project_id" db:"project_id"`
	Email      string           `json:"email" db:"email"`
	InviterID  string           `json:"inviter_id" db:"inviter_id"`
	Role       MemberRole       `json:"role" db:"role"`
	Token      string           `json:"-" db:"token"`
	Message    string           `json:"message,omitempty" db:"message"`
	Status     InvitationStatus `json:"status" db:"status"`
	ExpiresAt  time.Time        `json:"expires_at" db:"expires_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

// Expired reports whether the invitation is past its expiry regardless of
// the stored status.
func (i *Invitation) Expired() bool {
	return time.Now().UTC().After(i.ExpiresAt)
}

var (
	// ErrNotFound is returned when a project, member or invitation does
	// not exist.
	ErrNotFound = errors.New("not found")
	// ErrCodeTaken is returned when a project code collides.
	ErrCodeTaken = errors.New("project code already in use")
	// ErrDuplicateMember is returned when adding a user who already holds
	// an active membership.
	ErrDuplicateMember = errors.New("user is already a project member")
	// ErrDuplicateInvitation is returned when a PENDING invitation already
	// exists for the same project and email.
	ErrDuplicateInvitation = errors.New("a pending invitation already exists for this email")
	// ErrInvitationExpired is returned when accepting an invitation past
	// its expiry. The row has been flipped to EXPIRED as a side effect.
	ErrInvitationExpired = errors.New("invitation has expired")
	// ErrEmailMismatch is returned when the accepting user's email does
	// not match the invited address.
	ErrEmailMismatch = errors.New("invitation was issued to a different email address")
	// ErrLastLead is returned when removing or demoting the only LEAD of a
	// project that still has active members.
	ErrLastLead = errors.New("project must keep at least one LEAD")
)

// InvalidStateError is returned for operations against an invitation that is
// not in the state the operation requires.
type InvalidStateError struct {
	Status InvitationStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invitation is %s and can no longer be modified", e.Status)
}

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
