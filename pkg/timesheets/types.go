package timesheets

import (
	"errors"
	"fmt"
	"time"
)

// Status is a timesheet workflow status.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// Valid reports whether s is a known timesheet status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Editable reports whether a timesheet in this status may be updated or
// deleted by its owner.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusRejected
}

const (
	// MinHours is the smallest bookable amount per entry.
	MinHours = 0.5
	// MaxHours caps one entry at a full day.
	MaxHours = 24.0
)

// Timesheet is one employee's hours on a project (optionally a task) for one
// date.
type Timesheet struct {
	ID          string     `json:"id" db:"id"`
	EmployeeID  string     `json:"employee_id" db:"employee_id"`
	ProjectID   string     `json:"project_id" db:"project_id"`
	TaskID      *string    `json:"task_id,omitempty" db:"task_id"`
	Date        time.Time  `json:"date" db:"date"`
	Hours       float64    `json:"hours" db:"hours"`
	Description string     `json:"description" db:"description"`
	Status      Status     `json:"status" db:"status"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty" db:"submitted_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Approval records one approve/reject decision on a timesheet.
type Approval struct {
	ID          string    `json:"id" db:"id"`
	TimesheetID string    `json:"timesheet_id" db:"timesheet_id"`
	ApproverID  string    `json:"approver_id" db:"approver_id"`
	Status      Status    `json:"status" db:"status"`
	Comments    string    `json:"comments" db:"comments"`
	DecidedAt   time.Time `json:"decided_at" db:"decided_at"`
}

var (
	// ErrNotFound is returned when a timesheet does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEntry is returned when an entry for the same employee,
	// project, task and date already exists.
	ErrDuplicateEntry = errors.New("a timesheet for this project, task and date already exists")
	// ErrNotSubmitted is returned when approving or rejecting a timesheet
	// that is not awaiting review.
	ErrNotSubmitted = errors.New("timesheet is not awaiting review")
)

// NotEditableError is returned when modifying a timesheet that left the
// editable states.
type NotEditableError struct {
	Status Status
}

func (e *NotEditableError) Error() string {
	return fmt.Sprintf("timesheet is %s and can no longer be edited", e.Status)
}

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
