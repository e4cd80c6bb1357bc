package migrations

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/foreman/pkg/observability"
)

func TestMigrationsAreOrderedAndComplete(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions must be sequential")
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, strings.TrimSpace(m.SQL))
	}
}

func TestMigrationsCoverAllTables(t *testing.T) {
	var all strings.Builder
	for _, m := range GetMigrations() {
		all.WriteString(m.SQL)
	}
	schema := all.String()

	tables := []string{
		"departments", "users", "projects", "project_members",
		"project_invitations", "sprints", "tasks", "task_activities",
		"timesheets", "timesheet_approvals", "sessions", "login_attempts",
		"audit_logs",
	}
	for _, table := range tables {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table, "missing table %s", table)
	}
}

func TestProjectsManagerIsNullable(t *testing.T) {
	var ddl string
	for _, m := range GetMigrations() {
		if strings.Contains(m.SQL, "CREATE TABLE IF NOT EXISTS projects") {
			ddl = m.SQL
			break
		}
	}
	require.NotEmpty(t, ddl)

	// A project may exist without a manager, and deleting the manager's
	// account must not take the project down with it.
	assert.Contains(t, ddl, "manager_id TEXT REFERENCES users(id) ON DELETE SET NULL")
	assert.NotContains(t, ddl, "manager_id TEXT NOT NULL")
}

func TestRunSkipsAppliedMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	total := len(GetMigrations())

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	appliedRows := sqlmock.NewRows([]string{"version"})
	for v := 1; v < total; v++ {
		appliedRows.AddRow(v)
	}
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(appliedRows)

	// Only the last migration should execute.
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(total, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	require.NoError(t, Run(context.Background(), db, logger))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunNoopWhenUpToDate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	appliedRows := sqlmock.NewRows([]string{"version"})
	for v := 1; v <= len(GetMigrations()); v++ {
		appliedRows.AddRow(v)
	}
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(appliedRows)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	require.NoError(t, Run(context.Background(), db, logger))
	assert.NoError(t, mock.ExpectationsWereMet())
}
