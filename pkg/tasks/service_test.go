package tasks

import (
	"context"
	"database/sql/driver"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/observability"
)

func newTestService(t *testing.T) (*PostgresService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewPostgresService(db, logger), mock
}

func taskRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "project_id", "sprint_id", "parent_id", "title", "description",
		"status", "priority", "assignee_id", "creator_id", "due_date",
		"order_index", "story_points", "estimated_hours", "actual_hours",
		"created_at", "updated_at",
	})
}

func storedTask(status Status, assignee *string) []driver.Value {
	now := time.Now().UTC()
	return []driver.Value{
		"task-1", "proj-1", nil, nil, "Fix login", "", string(status), "MEDIUM",
		assignee, "user-1", nil, 0, nil, nil, nil, now, now,
	}
}

func TestCreateTask(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("proj-1", "TODO").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(3))
	mock.ExpectExec("INSERT INTO tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO task_activities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, evs, err := svc.CreateTask(context.Background(), "user-1", CreateTaskRequest{
		ProjectID: "proj-1",
		Title:     "  Fix login  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Fix login", task.Title)
	assert.Equal(t, StatusTodo, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, 3, task.OrderIndex)

	require.Len(t, evs, 1)
	assert.Equal(t, events.ActionCreated, evs[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskWithAssigneeEmitsNotification(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(0))
	mock.ExpectExec("INSERT INTO tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO task_activities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assignee := "user-2"
	_, evs, err := svc.CreateTask(context.Background(), "user-1", CreateTaskRequest{
		ProjectID:  "proj-1",
		Title:      "Fix login",
		AssigneeID: &assignee,
	})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "TaskAssignment", evs[1].EntityType)
	assert.Equal(t, "user-2", evs[1].Meta["assignee_id"])
}

func TestCreateTaskValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.CreateTask(context.Background(), "user-1", CreateTaskRequest{ProjectID: "proj-1"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	_, _, err = svc.CreateTask(context.Background(), "user-1", CreateTaskRequest{
		ProjectID: "proj-1", Title: "X", Priority: "CRITICAL",
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "priority", verr.Field)
}

func TestChangeStatus(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WithArgs("task-1").
		WillReturnRows(taskRows().AddRow(storedTask(StatusTodo, nil)...))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("proj-1", "IN_PROGRESS").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(2))
	mock.ExpectExec("UPDATE tasks SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO task_activities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, evs, err := svc.ChangeStatus(context.Background(), "user-1", "task-1", StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, task.Status)
	assert.Equal(t, 2, task.OrderIndex)

	// A status change gets its own action, never a generic update.
	require.Len(t, evs, 1)
	assert.Equal(t, events.ActionStatusChanged, evs[0].Action)
	assert.Equal(t, "TODO", evs[0].Changes["status"].Old)
	assert.Equal(t, "IN_PROGRESS", evs[0].Changes["status"].New)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeStatusNoop(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WillReturnRows(taskRows().AddRow(storedTask(StatusTodo, nil)...))

	_, evs, err := svc.ChangeStatus(context.Background(), "user-1", "task-1", StatusTodo)
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignTask(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WillReturnRows(taskRows().AddRow(storedTask(StatusTodo, nil)...))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tasks SET assignee_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO task_activities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assignee := "user-2"
	task, evs, err := svc.AssignTask(context.Background(), "user-1", "task-1", &assignee)
	require.NoError(t, err)
	require.NotNil(t, task.AssigneeID)
	assert.Equal(t, "user-2", *task.AssigneeID)

	require.Len(t, evs, 2)
	assert.Equal(t, "assignment", evs[1].Meta["notify"])
}

func TestAssignTaskNoop(t *testing.T) {
	svc, mock := newTestService(t)
	assignee := "user-2"

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WillReturnRows(taskRows().AddRow(storedTask(StatusTodo, &assignee)...))

	_, evs, err := svc.AssignTask(context.Background(), "user-1", "task-1", &assignee)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestReorderTask(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WillReturnRows(taskRows().AddRow(storedTask(StatusTodo, nil)...))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tasks SET order_index = order_index").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("UPDATE tasks SET order_index = \\$1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := svc.ReorderTask(context.Background(), "task-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, task.OrderIndex)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReorderTaskNegativeIndex(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ReorderTask(context.Background(), "task-1", -1)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestUpdateTaskNoChanges(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WillReturnRows(taskRows().AddRow(storedTask(StatusTodo, nil)...))

	title := "Fix login"
	_, evs, err := svc.UpdateTask(context.Background(), "user-1", "task-1", UpdateTaskRequest{Title: &title})
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WillReturnRows(taskRows())

	_, err := svc.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSprintValidation(t *testing.T) {
	svc, _ := newTestService(t)
	start := time.Now().UTC()

	_, _, err := svc.CreateSprint(context.Background(), CreateSprintRequest{
		ProjectID: "proj-1", StartDate: start, EndDate: start.Add(time.Hour),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	_, _, err = svc.CreateSprint(context.Background(), CreateSprintRequest{
		ProjectID: "proj-1", Name: "Sprint 1", StartDate: start, EndDate: start.Add(-time.Hour),
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "end_date", verr.Field)
}

func TestCreateSprint(t *testing.T) {
	svc, mock := newTestService(t)
	start := time.Now().UTC()

	mock.ExpectExec("INSERT INTO sprints").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sprint, evs, err := svc.CreateSprint(context.Background(), CreateSprintRequest{
		ProjectID: "proj-1", Name: "Sprint 1", Goal: "Ship login",
		StartDate: start, EndDate: start.Add(14 * 24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, SprintPlanned, sprint.Status)
	require.Len(t, evs, 1)
	assert.Equal(t, "Sprint", evs[0].EntityType)
}
