package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/observability"
)

const taskColumns = `id, project_id, sprint_id, parent_id, title, description, status, priority, assignee_id, creator_id, due_date, order_index, story_points, estimated_hours, actual_hours, created_at, updated_at`

// Service manages tasks, sprints and task activities.
type Service interface {
	CreateTask(ctx context.Context, actorID string, req CreateTaskRequest) (*Task, []events.Event, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, projectID string, filter TaskFilter) ([]*Task, error)
	UpdateTask(ctx context.Context, actorID, id string, req UpdateTaskRequest) (*Task, []events.Event, error)
	ChangeStatus(ctx context.Context, actorID, id string, status Status) (*Task, []events.Event, error)
	AssignTask(ctx context.Context, actorID, id string, assigneeID *string) (*Task, []events.Event, error)
	ReorderTask(ctx context.Context, id string, orderIndex int) (*Task, error)
	DeleteTask(ctx context.Context, id string) ([]events.Event, error)
	ListActivities(ctx context.Context, taskID string) ([]*Activity, error)

	CreateSprint(ctx context.Context, req CreateSprintRequest) (*Sprint, []events.Event, error)
	GetSprint(ctx context.Context, id string) (*Sprint, error)
	ListSprints(ctx context.Context, projectID string) ([]*Sprint, error)
	UpdateSprint(ctx context.Context, id string, req UpdateSprintRequest) (*Sprint, []events.Event, error)
	DeleteSprint(ctx context.Context, id string) ([]events.Event, error)
}

// CreateTaskRequest carries the fields for a new task.
type CreateTaskRequest struct {
	ProjectID      string     `json:"-"`
	SprintID       *string    `json:"sprint_id,omitempty"`
	ParentID       *string    `json:"parent_id,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Priority       Priority   `json:"priority,omitempty"`
	AssigneeID     *string    `json:"assignee_id,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	StoryPoints    *int       `json:"story_points,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
}

// UpdateTaskRequest carries a partial update; nil fields are unchanged.
// Status and assignee have dedicated operations and are not updatable here.
type UpdateTaskRequest struct {
	SprintID       *string    `json:"sprint_id,omitempty"`
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Priority       *Priority  `json:"priority,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	StoryPoints    *int       `json:"story_points,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	ActualHours    *float64   `json:"actual_hours,omitempty"`
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	Status     Status
	AssigneeID string
	SprintID   string
}

// PostgresService is the database-backed Service implementation.
type PostgresService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresService creates a task service over the given database.
func NewPostgresService(db *sql.DB, logger *observability.Logger) *PostgresService {
	return &PostgresService{db: db, logger: logger}
}

func (s *PostgresService) CreateTask(ctx context.Context, actorID string, req CreateTaskRequest) (*Task, []events.Event, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return nil, nil, &ValidationError{Field: "priority", Reason: "unknown priority"}
	}

	now := time.Now().UTC()
	task := &Task{
		ID:             uuid.New().String(),
		ProjectID:      req.ProjectID,
		SprintID:       req.SprintID,
		ParentID:       req.ParentID,
		Title:          title,
		Description:    req.Description,
		Status:         StatusTodo,
		Priority:       priority,
		AssigneeID:     req.AssigneeID,
		CreatorID:      actorID,
		DueDate:        req.DueDate,
		StoryPoints:    req.StoryPoints,
		EstimatedHours: req.EstimatedHours,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// New tasks land at the bottom of their column.
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(order_index), -1) + 1 FROM tasks WHERE project_id = $1 AND status = $2`,
		task.ProjectID, string(task.Status)).Scan(&task.OrderIndex)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute order index: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, sprint_id, parent_id, title, description, status, priority, assignee_id, creator_id, due_date, order_index, story_points, estimated_hours, actual_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		task.ID, task.ProjectID, task.SprintID, task.ParentID, task.Title,
		task.Description, string(task.Status), string(task.Priority),
		task.AssigneeID, task.CreatorID, task.DueDate, task.OrderIndex,
		task.StoryPoints, task.EstimatedHours, task.ActualHours,
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := insertActivity(ctx, tx, task.ID, &actorID, ActivityCreated, "", "", ""); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit task creation: %w", err)
	}

	ev := events.NewEvent(events.ActionCreated, "Task", task.ID, task.Title).
		WithMeta("project_id", task.ProjectID)
	evs := []events.Event{ev}
	if task.AssigneeID != nil {
		evs = append(evs, assignmentEvent(task, *task.AssigneeID))
	}
	return task, evs, nil
}

func (s *PostgresService) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (s *PostgresService) ListTasks(ctx context.Context, projectID string, filter TaskFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = $1`
	args := []interface{}{projectID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.AssigneeID != "" {
		args = append(args, filter.AssigneeID)
		query += fmt.Sprintf(" AND assignee_id = $%d", len(args))
	}
	if filter.SprintID != "" {
		args = append(args, filter.SprintID)
		query += fmt.Sprintf(" AND sprint_id = $%d", len(args))
	}
	query += " ORDER BY status, order_index"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresService) UpdateTask(ctx context.Context, actorID, id string, req UpdateTaskRequest) (*Task, []events.Event, error) {
	before, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	after := *before
	if req.SprintID != nil {
		if *req.SprintID == "" {
			after.SprintID = nil
		} else {
			after.SprintID = req.SprintID
		}
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, nil, &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		after.Title = title
	}
	if req.Description != nil {
		after.Description = *req.Description
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			return nil, nil, &ValidationError{Field: "priority", Reason: "unknown priority"}
		}
		after.Priority = *req.Priority
	}
	if req.DueDate != nil {
		after.DueDate = req.DueDate
	}
	if req.StoryPoints != nil {
		after.StoryPoints = req.StoryPoints
	}
	if req.EstimatedHours != nil {
		after.EstimatedHours = req.EstimatedHours
	}
	if req.ActualHours != nil {
		after.ActualHours = req.ActualHours
	}
	after.UpdatedAt = time.Now().UTC()

	changes := events.Diff(before, &after)
	if changes == nil {
		return before, nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks
		SET sprint_id = $1, title = $2, description = $3, priority = $4,
		    due_date = $5, story_points = $6, estimated_hours = $7,
		    actual_hours = $8, updated_at = $9
		WHERE id = $10`,
		after.SprintID, after.Title, after.Description, string(after.Priority),
		after.DueDate, after.StoryPoints, after.EstimatedHours,
		after.ActualHours, after.UpdatedAt, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update task: %w", err)
	}

	for field, change := range changes {
		if err := insertActivity(ctx, tx, id, &actorID, ActivityUpdated, field, change.Old, change.New); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit task update: %w", err)
	}

	ev := events.NewEvent(events.ActionUpdated, "Task", id, after.Title).
		WithChanges(changes).
		WithMeta("project_id", after.ProjectID)
	return &after, []events.Event{ev}, nil
}

// ChangeStatus moves a task across the board. The change is recorded with
// its own STATUS_CHANGED action, not folded into a generic update.
func (s *PostgresService) ChangeStatus(ctx context.Context, actorID, id string, status Status) (*Task, []events.Event, error) {
	if !status.Valid() {
		return nil, nil, &ValidationError{Field: "status", Reason: "unknown task status"}
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if task.Status == status {
		return task, nil, nil
	}
	old := task.Status

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var orderIndex int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(order_index), -1) + 1 FROM tasks WHERE project_id = $1 AND status = $2`,
		task.ProjectID, string(status)).Scan(&orderIndex)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute order index: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, order_index = $2, updated_at = $3 WHERE id = $4`,
		string(status), orderIndex, now, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to change task status: %w", err)
	}
	if err := insertActivity(ctx, tx, id, &actorID, ActivityStatusChanged, "status", string(old), string(status)); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit status change: %w", err)
	}

	task.Status = status
	task.OrderIndex = orderIndex
	task.UpdatedAt = now

	ev := events.NewEvent(events.ActionStatusChanged, "Task", id, task.Title).
		WithChanges(map[string]events.FieldChange{
			"status": {Old: string(old), New: string(status)},
		}).
		WithMeta("project_id", task.ProjectID)
	return task, []events.Event{ev}, nil
}

// AssignTask sets or clears the assignee. Assignment events carry the
// assignee id so the notifier can email them.
func (s *PostgresService) AssignTask(ctx context.Context, actorID, id string, assigneeID *string) (*Task, []events.Event, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	oldAssignee := ""
	if task.AssigneeID != nil {
		oldAssignee = *task.AssigneeID
	}
	newAssignee := ""
	if assigneeID != nil {
		newAssignee = *assigneeID
	}
	if oldAssignee == newAssignee {
		return task, nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET assignee_id = $1, updated_at = $2 WHERE id = $3`,
		assigneeID, now, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to assign task: %w", err)
	}
	if err := insertActivity(ctx, tx, id, &actorID, ActivityAssigned, "assignee_id", oldAssignee, newAssignee); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit assignment: %w", err)
	}

	task.AssigneeID = assigneeID
	task.UpdatedAt = now

	ev := events.NewEvent(events.ActionUpdated, "Task", id, task.Title).
		WithChanges(map[string]events.FieldChange{
			"assignee_id": {Old: oldAssignee, New: newAssignee},
		}).
		WithMeta("project_id", task.ProjectID)
	evs := []events.Event{ev}
	if newAssignee != "" {
		evs = append(evs, assignmentEvent(task, newAssignee))
	}
	return task, evs, nil
}

// ReorderTask moves a task inside its column. Pure board cosmetics; no audit
// row and no activity entry.
func (s *PostgresService) ReorderTask(ctx context.Context, id string, orderIndex int) (*Task, error) {
	if orderIndex < 0 {
		return nil, &ValidationError{Field: "order_index", Reason: "must not be negative"}
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Shift the rest of the column down to make room.
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET order_index = order_index + 1
		WHERE project_id = $1 AND status = $2 AND order_index >= $3 AND id <> $4`,
		task.ProjectID, string(task.Status), orderIndex, id)
	if err != nil {
		return nil, fmt.Errorf("failed to shift tasks: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET order_index = $1, updated_at = $2 WHERE id = $3`,
		orderIndex, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to reorder task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reorder: %w", err)
	}

	task.OrderIndex = orderIndex
	return task, nil
}

func (s *PostgresService) DeleteTask(ctx context.Context, id string) ([]events.Event, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete task: %w", err)
	}
	ev := events.NewEvent(events.ActionDeleted, "Task", id, task.Title).
		WithMeta("project_id", task.ProjectID)
	return []events.Event{ev}, nil
}

// ListActivities returns a task's history trail, newest first.
func (s *PostgresService) ListActivities(ctx context.Context, taskID string) ([]*Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, actor_id, kind, field, old_value, new_value, created_at
		FROM task_activities WHERE task_id = $1 ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var acts []*Activity
	for rows.Next() {
		a := &Activity{}
		var kind string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.ActorID, &kind, &a.Field,
			&a.OldValue, &a.NewValue, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Kind = ActivityKind(kind)
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

func insertActivity(ctx context.Context, tx *sql.Tx, taskID string, actorID *string, kind ActivityKind, field, oldVal, newVal string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_activities (id, task_id, actor_id, kind, field, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), taskID, actorID, string(kind), field, oldVal, newVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record task activity: %w", err)
	}
	return nil
}

func assignmentEvent(task *Task, assigneeID string) events.Event {
	return events.NewEvent(events.ActionUpdated, "TaskAssignment", task.ID, task.Title).
		WithMeta("project_id", task.ProjectID).
		WithMeta("assignee_id", assigneeID).
		WithMeta("notify", "assignment")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var status, priority string
	err := row.Scan(&t.ID, &t.ProjectID, &t.SprintID, &t.ParentID, &t.Title,
		&t.Description, &status, &priority, &t.AssigneeID, &t.CreatorID,
		&t.DueDate, &t.OrderIndex, &t.StoryPoints, &t.EstimatedHours,
		&t.ActualHours, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	return &t, nil
}
