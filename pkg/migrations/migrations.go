// Package migrations holds the database schema and a minimal forward-only
// migration runner. Each migration runs in its own transaction and is
// recorded in schema_migrations.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/foreman/pkg/observability"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the full schema history in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create departments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS departments (
					id TEXT PRIMARY KEY,
					code VARCHAR(20) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					manager_id TEXT,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email VARCHAR(255) NOT NULL,
					password_hash TEXT NOT NULL,
					first_name VARCHAR(100) NOT NULL,
					last_name VARCHAR(100) NOT NULL,
					role VARCHAR(20) NOT NULL DEFAULT 'EMPLOYEE',
					department_id TEXT REFERENCES departments(id) ON DELETE SET NULL,
					employee_id VARCHAR(50),
					phone VARCHAR(50),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					must_change_password BOOLEAN NOT NULL DEFAULT FALSE,
					last_login_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX users_email_key ON users(LOWER(email));
				CREATE INDEX idx_users_department_id ON users(department_id);
				CREATE INDEX idx_users_role ON users(role);

				ALTER TABLE departments
					ADD CONSTRAINT fk_departments_manager
					FOREIGN KEY (manager_id) REFERENCES users(id) ON DELETE SET NULL;
			`,
		},
		{
			Version:     3,
			Description: "Create projects and project_members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS projects (
					id TEXT PRIMARY KEY,
					code VARCHAR(20) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					department_id TEXT REFERENCES departments(id) ON DELETE SET NULL,
					manager_id TEXT REFERENCES users(id) ON DELETE SET NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'PLANNING',
					start_date TIMESTAMPTZ NOT NULL,
					end_date TIMESTAMPTZ,
					budget DOUBLE PRECISION,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_by TEXT NOT NULL REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_projects_manager_id ON projects(manager_id);
				CREATE INDEX idx_projects_status ON projects(status);

				CREATE TABLE IF NOT EXISTS project_members (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(20) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(project_id, user_id)
				);

				CREATE INDEX idx_project_members_user_id ON project_members(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create project_invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS project_invitations (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL,
					inviter_id TEXT NOT NULL REFERENCES users(id),
					role VARCHAR(20) NOT NULL,
					token VARCHAR(64) NOT NULL UNIQUE,
					message TEXT NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
					expires_at TIMESTAMPTZ NOT NULL,
					accepted_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX project_invitations_pending_key
					ON project_invitations(project_id, LOWER(email))
					WHERE status = 'PENDING';
				CREATE INDEX idx_project_invitations_project_id ON project_invitations(project_id);
			`,
		},
		{
			Version:     5,
			Description: "Create sprints, tasks and task_activities tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS sprints (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					goal TEXT NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL DEFAULT 'PLANNED',
					start_date TIMESTAMPTZ NOT NULL,
					end_date TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS tasks (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					sprint_id TEXT REFERENCES sprints(id) ON DELETE SET NULL,
					parent_id TEXT REFERENCES tasks(id) ON DELETE CASCADE,
					title VARCHAR(500) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL DEFAULT 'TODO',
					priority VARCHAR(20) NOT NULL DEFAULT 'MEDIUM',
					assignee_id TEXT REFERENCES users(id) ON DELETE SET NULL,
					creator_id TEXT NOT NULL REFERENCES users(id),
					due_date TIMESTAMPTZ,
					order_index INT NOT NULL DEFAULT 0,
					story_points INT,
					estimated_hours DOUBLE PRECISION,
					actual_hours DOUBLE PRECISION,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_tasks_project_id ON tasks(project_id);
				CREATE INDEX idx_tasks_assignee_id ON tasks(assignee_id);
				CREATE INDEX idx_tasks_status ON tasks(project_id, status, order_index);

				CREATE TABLE IF NOT EXISTS task_activities (
					id TEXT PRIMARY KEY,
					task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
					actor_id TEXT,
					kind VARCHAR(30) NOT NULL,
					field VARCHAR(100) NOT NULL DEFAULT '',
					old_value TEXT NOT NULL DEFAULT '',
					new_value TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_task_activities_task_id ON task_activities(task_id);
			`,
		},
		{
			Version:     6,
			Description: "Create timesheets and timesheet_approvals tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS timesheets (
					id TEXT PRIMARY KEY,
					employee_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					task_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,
					date TIMESTAMPTZ NOT NULL,
					hours DOUBLE PRECISION NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL DEFAULT 'DRAFT',
					submitted_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX timesheets_entry_key
					ON timesheets(employee_id, project_id, COALESCE(task_id, ''), date);
				CREATE INDEX idx_timesheets_project_id ON timesheets(project_id);
				CREATE INDEX idx_timesheets_status ON timesheets(status);

				CREATE TABLE IF NOT EXISTS timesheet_approvals (
					id TEXT PRIMARY KEY,
					timesheet_id TEXT NOT NULL REFERENCES timesheets(id) ON DELETE CASCADE,
					approver_id TEXT NOT NULL REFERENCES users(id),
					status VARCHAR(20) NOT NULL,
					comments TEXT NOT NULL DEFAULT '',
					decided_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_timesheet_approvals_timesheet_id ON timesheet_approvals(timesheet_id);
			`,
		},
		{
			Version:     7,
			Description: "Create sessions and login_attempts tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					ip_address VARCHAR(45) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					expires_at TIMESTAMPTZ NOT NULL,
					last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_sessions_user_id ON sessions(user_id);
				CREATE INDEX idx_sessions_expires_at ON sessions(expires_at);

				CREATE TABLE IF NOT EXISTS login_attempts (
					id TEXT PRIMARY KEY,
					email VARCHAR(255) NOT NULL,
					ip_address VARCHAR(45) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					success BOOLEAN NOT NULL,
					attempted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_login_attempts_email ON login_attempts(email, attempted_at);
				CREATE INDEX idx_login_attempts_ip ON login_attempts(ip_address, attempted_at);
			`,
		},
		{
			Version:     8,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id TEXT PRIMARY KEY,
					actor_id TEXT,
					actor_name VARCHAR(255) NOT NULL,
					action VARCHAR(30) NOT NULL,
					entity_type VARCHAR(50) NOT NULL,
					entity_id TEXT NOT NULL,
					entity_repr TEXT NOT NULL DEFAULT '',
					changes JSONB,
					ip_address VARCHAR(45) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					request_id TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_logs_entity ON audit_logs(entity_type, entity_id);
				CREATE INDEX idx_audit_logs_actor_id ON audit_logs(actor_id);
				CREATE INDEX idx_audit_logs_created_at ON audit_logs(created_at);
			`,
		},
	}
}

// Run executes all pending migrations in order.
func Run(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
