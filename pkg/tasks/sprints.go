package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/foreman/pkg/events"
)

const sprintColumns = `id, project_id, name, goal, status, start_date, end_date, created_at, updated_at`

// CreateSprintRequest carries the fields for a new sprint.
type CreateSprintRequest struct {
	ProjectID string    `json:"-"`
	Name      string    `json:"name"`
	Goal      string    `json:"goal"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// UpdateSprintRequest carries a partial sprint update.
type UpdateSprintRequest struct {
	Name      *string       `json:"name,omitempty"`
	Goal      *string       `json:"goal,omitempty"`
	Status    *SprintStatus `json:"status,omitempty"`
	StartDate *time.Time    `json:"start_date,omitempty"`
	EndDate   *time.Time    `json:"end_date,omitempty"`
}

func (s *PostgresService) CreateSprint(ctx context.Context, req CreateSprintRequest) (*Sprint, []events.Event, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, nil, &ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}

	now := time.Now().UTC()
	sprint := &Sprint{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		Name:      name,
		Goal:      req.Goal,
		Status:    SprintPlanned,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sprints (id, project_id, name, goal, status, start_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sprint.ID, sprint.ProjectID, sprint.Name, sprint.Goal,
		string(sprint.Status), sprint.StartDate, sprint.EndDate,
		sprint.CreatedAt, sprint.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sprint: %w", err)
	}

	ev := events.NewEvent(events.ActionCreated, "Sprint", sprint.ID, sprint.Name).
		WithMeta("project_id", sprint.ProjectID)
	return sprint, []events.Event{ev}, nil
}

func (s *PostgresService) GetSprint(ctx context.Context, id string) (*Sprint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sprintColumns+` FROM sprints WHERE id = $1`, id)
	return scanSprint(row)
}

func (s *PostgresService) ListSprints(ctx context.Context, projectID string) ([]*Sprint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sprintColumns+` FROM sprints WHERE project_id = $1 ORDER BY start_date DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sprints: %w", err)
	}
	defer rows.Close()

	var sprints []*Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		sprints = append(sprints, sp)
	}
	return sprints, rows.Err()
}

func (s *PostgresService) UpdateSprint(ctx context.Context, id string, req UpdateSprintRequest) (*Sprint, []events.Event, error) {
	before, err := s.GetSprint(ctx, id)
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
	if req.Goal != nil {
		after.Goal = *req.Goal
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, nil, &ValidationError{Field: "status", Reason: "unknown sprint status"}
		}
		after.Status = *req.Status
	}
	if req.StartDate != nil {
		after.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		after.EndDate = *req.EndDate
	}
	if after.EndDate.Before(after.StartDate) {
		return nil, nil, &ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}
	after.UpdatedAt = time.Now().UTC()

	changes := events.Diff(before, &after)
	if changes == nil {
		return before, nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sprints SET name = $1, goal = $2, status = $3, start_date = $4, end_date = $5, updated_at = $6
		WHERE id = $7`,
		after.Name, after.Goal, string(after.Status), after.StartDate,
		after.EndDate, after.UpdatedAt, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update sprint: %w", err)
	}

	ev := events.NewEvent(events.ActionUpdated, "Sprint", id, after.Name).
		WithChanges(changes).
		WithMeta("project_id", after.ProjectID)
	return &after, []events.Event{ev}, nil
}

// DeleteSprint removes a sprint. Tasks keep existing with their sprint id
// nulled by the schema's ON DELETE SET NULL.
func (s *PostgresService) DeleteSprint(ctx context.Context, id string) ([]events.Event, error) {
	sprint, err := s.GetSprint(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sprints WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete sprint: %w", err)
	}
	ev := events.NewEvent(events.ActionDeleted, "Sprint", id, sprint.Name).
		WithMeta("project_id", sprint.ProjectID)
	return []events.Event{ev}, nil
}

func scanSprint(row rowScanner) (*Sprint, error) {
	var sp Sprint
	var status string
	err := row.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.Goal, &status,
		&sp.StartDate, &sp.EndDate, &sp.CreatedAt, &sp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sprint: %w", err)
	}
	sp.Status = SprintStatus(status)
	return &sp, nil
}
