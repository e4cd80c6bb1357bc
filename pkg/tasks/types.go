package tasks

import (
	"errors"
	"fmt"
	"time"
)

// Status is a task workflow status.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusCompleted  Status = "COMPLETED"
	StatusBlocked    Status = "BLOCKED"
)

// Valid reports whether s is a known task status.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// Priority orders tasks within a column.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task is a unit of work inside a project.
type Task struct {
	ID             string     `json:"id" db:"id"`
	ProjectID      string     `json:"project_id" db:"project_id"`
	SprintID       *string    `json:"sprint_id,omitempty" db:"sprint_id"`
	ParentID       *string    `json:"parent_id,omitempty" db:"parent_id"`
	Title          string     `json:"title" db:"title"`
	Description    string     `json:"description" db:"description"`
	Status         Status     `json:"status" db:"status"`
	Priority       Priority   `json:"priority" db:"priority"`
	AssigneeID     *string    `json:"assignee_id,omitempty" db:"assignee_id"`
	CreatorID      string     `json:"creator_id" db:"creator_id"`
	DueDate        *time.Time `json:"due_date,omitempty" db:"due_date"`
	OrderIndex     int        `json:"order_index" db:"order_index"`
	StoryPoints    *int       `json:"story_points,omitempty" db:"story_points"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty" db:"estimated_hours"`
	ActualHours    *float64   `json:"actual_hours,omitempty" db:"actual_hours"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// ActivityKind classifies a task activity entry.
type ActivityKind string

const (
	ActivityCreated       ActivityKind = "CREATED"
	ActivityStatusChanged ActivityKind = "STATUS_CHANGED"
	ActivityAssigned      ActivityKind = "ASSIGNED"
	ActivityUpdated       ActivityKind = "UPDATED"
)

// Activity is one entry in a task's history trail.
type Activity struct {
	ID        string       `json:"id" db:"id"`
	TaskID    string       `json:"task_id" db:"task_id"`
	ActorID   *string      `json:"actor_id,omitempty" db:"actor_id"`
	Kind      ActivityKind `json:"kind" db:"kind"`
	Field     string       `json:"field,omitempty" db:"field"`
	OldValue  string       `json:"old_value,omitempty" db:"old_value"`
	NewValue  string       `json:"new_value,omitempty" db:"new_value"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// SprintStatus is a sprint lifecycle status.
type SprintStatus string

const (
	SprintPlanned   SprintStatus = "PLANNED"
	SprintActive    SprintStatus = "ACTIVE"
	SprintCompleted SprintStatus = "COMPLETED"
)

// Valid reports whether s is a known sprint status.
func (s SprintStatus) Valid() bool {
	return s == SprintPlanned || s == SprintActive || s == SprintCompleted
}

// Sprint is a timeboxed iteration inside a project.
type Sprint struct {
	ID        string       `json:"id" db:"id"`
	ProjectID string       `json:"project_id" db:"project_id"`
	Name      string       `json:"name" db:"name"`
	Goal      string       `json:"goal" db:"goal"`
	Status    SprintStatus `json:"status" db:"status"`
	StartDate time.Time    `json:"start_date" db:"start_date"`
	EndDate   time.Time    `json:"end_date" db:"end_date"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// ErrNotFound is returned when a task or sprint does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
