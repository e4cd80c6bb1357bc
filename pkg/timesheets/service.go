package timesheets

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

const timesheetColumns = `id, employee_id, project_id, task_id, date, hours, description, status, submitted_at, created_at, updated_at`

// Service manages timesheets and their approval workflow.
type Service interface {
	Create(ctx context.Context, employeeID string, req CreateRequest) (*Timesheet, []events.Event, error)
	Get(ctx context.Context, id string) (*Timesheet, error)
	List(ctx context.Context, filter Filter) ([]*Timesheet, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Timesheet, []events.Event, error)
	Delete(ctx context.Context, id string) ([]events.Event, error)
	Submit(ctx context.Context, id string) (*Timesheet, []events.Event, error)
	Decide(ctx context.Context, id, approverID string, approve bool, comments string) (*Timesheet, []events.Event, error)
	ListApprovals(ctx context.Context, timesheetID string) ([]*Approval, error)
}

// CreateRequest carries the fields for a new timesheet entry.
type CreateRequest struct {
	ProjectID   string    `json:"project_id"`
	TaskID      *string   `json:"task_id,omitempty"`
	Date        time.Time `json:"date"`
	Hours       float64   `json:"hours"`
	Description string    `json:"description"`
}

// UpdateRequest carries a partial update; nil fields are unchanged.
type UpdateRequest struct {
	TaskID      *string    `json:"task_id,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
	Hours       *float64   `json:"hours,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	EmployeeID string
	ProjectID  string
	Status     Status
	From       *time.Time
	To         *time.Time
}

// PostgresService is the database-backed Service implementation.
type PostgresService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresService creates a timesheet service over the given database.
func NewPostgresService(db *sql.DB, logger *observability.Logger) *PostgresService {
	return &PostgresService{db: db, logger: logger}
}

func validateHoursAndDate(hours float64, date time.Time) error {
	if hours < MinHours || hours > MaxHours {
		return &ValidationError{Field: "hours", Reason: fmt.Sprintf("must be between %.1f and %.0f", MinHours, MaxHours)}
	}
	if date.After(endOfToday()) {
		return &ValidationError{Field: "date", Reason: "must not be in the future"}
	}
	return nil
}

func (s *PostgresService) Create(ctx context.Context, employeeID string, req CreateRequest) (*Timesheet, []events.Event, error) {
	if req.ProjectID == "" {
		return nil, nil, &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if err := validateHoursAndDate(req.Hours, req.Date); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	ts := &Timesheet{
		ID:          uuid.New().String(),
		EmployeeID:  employeeID,
		ProjectID:   req.ProjectID,
		TaskID:      req.TaskID,
		Date:        dateOnly(req.Date),
		Hours:       req.Hours,
		Description: strings.TrimSpace(req.Description),
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timesheets (id, employee_id, project_id, task_id, date, hours, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ts.ID, ts.EmployeeID, ts.ProjectID, ts.TaskID, ts.Date, ts.Hours,
		ts.Description, string(ts.Status), ts.CreatedAt, ts.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrDuplicateEntry
		}
		return nil, nil, fmt.Errorf("failed to create timesheet: %w", err)
	}

	ev := events.NewEvent(events.ActionCreated, "Timesheet", ts.ID, ts.repr()).
		WithMeta("project_id", ts.ProjectID).
		WithMeta("employee_id", ts.EmployeeID)
	return ts, []events.Event{ev}, nil
}

func (s *PostgresService) Get(ctx context.Context, id string) (*Timesheet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+timesheetColumns+` FROM timesheets WHERE id = $1`, id)
	return scanTimesheet(row)
}

func (s *PostgresService) List(ctx context.Context, filter Filter) ([]*Timesheet, error) {
	query := `SELECT ` + timesheetColumns + ` FROM timesheets`
	var conds []string
	var args []interface{}
	if filter.EmployeeID != "" {
		args = append(args, filter.EmployeeID)
		conds = append(conds, fmt.Sprintf("employee_id = $%d", len(args)))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		conds = append(conds, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, dateOnly(*filter.From))
		conds = append(conds, fmt.Sprintf("date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, dateOnly(*filter.To))
		conds = append(conds, fmt.Sprintf("date <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list timesheets: %w", err)
	}
	defer rows.Close()

	var sheets []*Timesheet
	for rows.Next() {
		ts, err := scanTimesheet(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, ts)
	}
	return sheets, rows.Err()
}

func (s *PostgresService) Update(ctx context.Context, id string, req UpdateRequest) (*Timesheet, []events.Event, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !before.Status.Editable() {
		return nil, nil, &NotEditableError{Status: before.Status}
	}

	after := *before
	if req.TaskID != nil {
		if *req.TaskID == "" {
			after.TaskID = nil
		} else {
			after.TaskID = req.TaskID
		}
	}
	if req.Date != nil {
		after.Date = dateOnly(*req.Date)
	}
	if req.Hours != nil {
		after.Hours = *req.Hours
	}
	if req.Description != nil {
		after.Description = strings.TrimSpace(*req.Description)
	}
	if err := validateHoursAndDate(after.Hours, after.Date); err != nil {
		return nil, nil, err
	}
	after.UpdatedAt = time.Now().UTC()

	changes := events.Diff(before, &after)
	if changes == nil {
		return before, nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE timesheets SET task_id = $1, date = $2, hours = $3, description = $4, updated_at = $5
		WHERE id = $6`,
		after.TaskID, after.Date, after.Hours, after.Description, after.UpdatedAt, id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrDuplicateEntry
		}
		return nil, nil, fmt.Errorf("failed to update timesheet: %w", err)
	}

	ev := events.NewEvent(events.ActionUpdated, "Timesheet", id, after.repr()).
		WithChanges(changes).
		WithMeta("project_id", after.ProjectID).
		WithMeta("employee_id", after.EmployeeID)
	return &after, []events.Event{ev}, nil
}

func (s *PostgresService) Delete(ctx context.Context, id string) ([]events.Event, error) {
	ts, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ts.Status.Editable() {
		return nil, &NotEditableError{Status: ts.Status}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timesheets WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete timesheet: %w", err)
	}
	ev := events.NewEvent(events.ActionDeleted, "Timesheet", id, ts.repr()).
		WithMeta("project_id", ts.ProjectID).
		WithMeta("employee_id", ts.EmployeeID)
	return []events.Event{ev}, nil
}

// Submit sends a DRAFT or REJECTED timesheet for review.
func (s *PostgresService) Submit(ctx context.Context, id string) (*Timesheet, []events.Event, error) {
	ts, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !ts.Status.Editable() {
		return nil, nil, &NotEditableError{Status: ts.Status}
	}
	old := ts.Status

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE timesheets SET status = $1, submitted_at = $2, updated_at = $2 WHERE id = $3`,
		string(StatusSubmitted), now, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to submit timesheet: %w", err)
	}
	ts.Status = StatusSubmitted
	ts.SubmittedAt = &now
	ts.UpdatedAt = now

	ev := events.NewEvent(events.ActionUpdated, "Timesheet", id, ts.repr()).
		WithChanges(map[string]events.FieldChange{
			"status": {Old: string(old), New: string(StatusSubmitted)},
		}).
		WithMeta("project_id", ts.ProjectID).
		WithMeta("employee_id", ts.EmployeeID)
	return ts, []events.Event{ev}, nil
}

// Decide approves or rejects a SUBMITTED timesheet and records the decision.
func (s *PostgresService) Decide(ctx context.Context, id, approverID string, approve bool, comments string) (*Timesheet, []events.Event, error) {
	ts, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if ts.Status != StatusSubmitted {
		return nil, nil, ErrNotSubmitted
	}

	next := StatusApproved
	action := events.ActionApproved
	if !approve {
		next = StatusRejected
		action = events.ActionRejected
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE timesheets SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(next), now, id, string(StatusSubmitted))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update timesheet status: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO timesheet_approvals (id, timesheet_id, approver_id, status, comments, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), id, approverID, string(next), comments, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record approval: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit decision: %w", err)
	}

	ts.Status = next
	ts.UpdatedAt = now

	ev := events.NewEvent(action, "Timesheet", id, ts.repr()).
		WithChanges(map[string]events.FieldChange{
			"status": {Old: string(StatusSubmitted), New: string(next)},
		}).
		WithMeta("project_id", ts.ProjectID).
		WithMeta("employee_id", ts.EmployeeID).
		WithMeta("comments", comments).
		WithMeta("notify", "timesheet_decision")
	return ts, []events.Event{ev}, nil
}

// ListApprovals returns the decision history for a timesheet, newest first.
func (s *PostgresService) ListApprovals(ctx context.Context, timesheetID string) ([]*Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timesheet_id, approver_id, status, comments, decided_at
		FROM timesheet_approvals WHERE timesheet_id = $1 ORDER BY decided_at DESC`, timesheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		a := &Approval{}
		var status string
		if err := rows.Scan(&a.ID, &a.TimesheetID, &a.ApproverID, &status,
			&a.Comments, &a.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		a.Status = Status(status)
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (t *Timesheet) repr() string {
	return fmt.Sprintf("%.1fh on %s", t.Hours, t.Date.Format("2006-01-02"))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func endOfToday() time.Time {
	return dateOnly(time.Now()).Add(24*time.Hour - time.Nanosecond)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTimesheet(row rowScanner) (*Timesheet, error) {
	var ts Timesheet
	var status string
	err := row.Scan(&ts.ID, &ts.EmployeeID, &ts.ProjectID, &ts.TaskID, &ts.Date,
		&ts.Hours, &ts.Description, &status, &ts.SubmittedAt, &ts.CreatedAt, &ts.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan timesheet: %w", err)
	}
	ts.Status = Status(status)
	return &ts, nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}
