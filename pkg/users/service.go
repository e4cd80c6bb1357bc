package users

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/observability"
)

const userColumns = `id, email, first_name, last_name, role, department_id, employee_id, phone, is_active, must_change_password, last_login_at, created_at, updated_at`

const departmentColumns = `id, code, name, description, manager_id, is_active, created_at, updated_at`

// Service manages user accounts and departments.
type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, []events.Event, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]*User, error)
	UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (*User, []events.Event, error)
	DeactivateUser(ctx context.Context, id string) ([]events.Event, error)
	ChangePassword(ctx context.Context, id, current, next string) error
	Authenticate(ctx context.Context, email, password string) (*User, error)
	RecordLogin(ctx context.Context, id string, at time.Time) error

	CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (*Department, []events.Event, error)
	GetDepartment(ctx context.Context, id string) (*Department, error)
	ListDepartments(ctx context.Context) ([]*Department, error)
	UpdateDepartment(ctx context.Context, id string, req UpdateDepartmentRequest) (*Department, []events.Event, error)
	DeleteDepartment(ctx context.Context, id string) ([]events.Event, error)
}

// CreateUserRequest carries the fields for a new account.
type CreateUserRequest struct {
	Email        string  `json:"email"`
	Password     string  `json:"password"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Role         Role    `json:"role"`
	DepartmentID *string `json:"department_id,omitempty"`
	EmployeeID   *string `json:"employee_id,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	// MustChangePassword forces a password change on first login, used for
	// admin-provisioned accounts with temporary passwords.
	MustChangePassword bool `json:"must_change_password,omitempty"`
}

// UpdateUserRequest carries a partial update; nil fields are left unchanged.
type UpdateUserRequest struct {
	FirstName    *string `json:"first_name,omitempty"`
	LastName     *string `json:"last_name,omitempty"`
	Role         *Role   `json:"role,omitempty"`
	DepartmentID *string `json:"department_id,omitempty"`
	EmployeeID   *string `json:"employee_id,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// CreateDepartmentRequest carries the fields for a new department.
type CreateDepartmentRequest struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ManagerID   *string `json:"manager_id,omitempty"`
}

// UpdateDepartmentRequest carries a partial department update.
type UpdateDepartmentRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	ManagerID   *string `json:"manager_id,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// UserFilter narrows ListUsers results.
type UserFilter struct {
	Role         Role
	DepartmentID string
	ActiveOnly   bool
}

// PostgresService is the database-backed Service implementation.
type PostgresService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresService creates a user service over the given database.
func NewPostgresService(db *sql.DB, logger *observability.Logger) *PostgresService {
	return &PostgresService{db: db, logger: logger}
}

func (s *PostgresService) CreateUser(ctx context.Context, req CreateUserRequest) (*User, []events.Event, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, &ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	if len(req.Password) < 8 {
		return nil, nil, &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	role := req.Role
	if role == "" {
		role = RoleEmployee
	}
	if !role.Valid() {
		return nil, nil, &ValidationError{Field: "role", Reason: "must be ADMIN or EMPLOYEE"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:                 uuid.New().String(),
		Email:              email,
		FirstName:          strings.TrimSpace(req.FirstName),
		LastName:           strings.TrimSpace(req.LastName),
		Role:               role,
		DepartmentID:       req.DepartmentID,
		EmployeeID:         req.EmployeeID,
		Phone:              req.Phone,
		IsActive:           true,
		MustChangePassword: req.MustChangePassword,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, department_id, employee_id, phone, is_active, must_change_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		user.ID, user.Email, string(hash), user.FirstName, user.LastName, string(user.Role),
		user.DepartmentID, user.EmployeeID, user.Phone, user.IsActive, user.MustChangePassword,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	ev := events.NewEvent(events.ActionCreated, "User", user.ID, user.FullName())
	return user, []events.Event{ev}, nil
}

func (s *PostgresService) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresService) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (s *PostgresService) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var conds []string
	var args []interface{}
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.DepartmentID != "" {
		args = append(args, filter.DepartmentID)
		conds = append(conds, fmt.Sprintf("department_id = $%d", len(args)))
	}
	if filter.ActiveOnly {
		conds = append(conds, "is_active = TRUE")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_name, first_name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresService) UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (*User, []events.Event, error) {
	before, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	after := *before
	if req.FirstName != nil {
		after.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		after.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Role != nil {
		if !req.Role.Valid() {
			return nil, nil, &ValidationError{Field: "role", Reason: "must be ADMIN or EMPLOYEE"}
		}
		after.Role = *req.Role
	}
	if req.DepartmentID != nil {
		if *req.DepartmentID == "" {
			after.DepartmentID = nil
		} else {
			after.DepartmentID = req.DepartmentID
		}
	}
	if req.EmployeeID != nil {
		after.EmployeeID = req.EmployeeID
	}
	if req.Phone != nil {
		after.Phone = req.Phone
	}
	if req.IsActive != nil {
		after.IsActive = *req.IsActive
	}
	after.UpdatedAt = time.Now().UTC()

	changes := events.Diff(before, &after)
	if changes == nil {
		return before, nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE users
		SET first_name = $1, last_name = $2, role = $3, department_id = $4,
		    employee_id = $5, phone = $6, is_active = $7, updated_at = $8
		WHERE id = $9`,
		after.FirstName, after.LastName, string(after.Role), after.DepartmentID,
		after.EmployeeID, after.Phone, after.IsActive, after.UpdatedAt, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update user: %w", err)
	}

	ev := events.NewEvent(events.ActionUpdated, "User", id, after.FullName()).WithChanges(changes)
	return &after, []events.Event{ev}, nil
}

// DeactivateUser soft-deletes an account. Historical records (timesheets,
// audit entries) keep referring to it.
func (s *PostgresService) DeactivateUser(ctx context.Context, id string) ([]events.Event, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate user: %w", err)
	}
	ev := events.NewEvent(events.ActionUpdated, "User", id, user.FullName()).
		WithChanges(map[string]events.FieldChange{
			"is_active": {Old: "true", New: "false"},
		})
	return []events.Event{ev}, nil
}

func (s *PostgresService) ChangePassword(ctx context.Context, id, current, next string) error {
	if len(next) < 8 {
		return &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE id = $1 AND is_active = TRUE`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, must_change_password = FALSE, updated_at = $2 WHERE id = $3`,
		string(newHash), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// Authenticate verifies an email/password pair. It returns
// ErrInvalidCredentials for unknown emails, wrong passwords and inactive
// accounts alike.
func (s *PostgresService) Authenticate(ctx context.Context, email, password string) (*User, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	var hash string
	var active bool
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, is_active FROM users WHERE email = $1`, normalized).
		Scan(&hash, &active)
	if err == sql.ErrNoRows {
		// Burn a comparison so the timing of unknown emails matches
		// known ones.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !active {
		return nil, ErrInvalidCredentials
	}
	return s.GetUserByEmail(ctx, normalized)
}

func (s *PostgresService) RecordLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

func (s *PostgresService) CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (*Department, []events.Event, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	name := strings.TrimSpace(req.Name)
	if code == "" {
		return nil, nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	}
	if name == "" {
		return nil, nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	now := time.Now().UTC()
	dept := &Department{
		ID:          uuid.New().String(),
		Code:        code,
		Name:        name,
		Description: req.Description,
		ManagerID:   req.ManagerID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, code, name, description, manager_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		dept.ID, dept.Code, dept.Name, dept.Description, dept.ManagerID,
		dept.IsActive, dept.CreatedAt, dept.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, &ValidationError{Field: "code", Reason: "department code or name already exists"}
		}
		return nil, nil, fmt.Errorf("failed to create department: %w", err)
	}
	ev := events.NewEvent(events.ActionCreated, "Department", dept.ID, dept.Name)
	return dept, []events.Event{ev}, nil
}

func (s *PostgresService) GetDepartment(ctx context.Context, id string) (*Department, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id)
	return scanDepartment(row)
}

func (s *PostgresService) ListDepartments(ctx context.Context) ([]*Department, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+departmentColumns+` FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var depts []*Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		depts = append(depts, d)
	}
	return depts, rows.Err()
}

func (s *PostgresService) UpdateDepartment(ctx context.Context, id string, req UpdateDepartmentRequest) (*Department, []events.Event, error) {
	before, err := s.GetDepartment(ctx, id)
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
	if req.ManagerID != nil {
		if *req.ManagerID == "" {
			after.ManagerID = nil
		} else {
			after.ManagerID = req.ManagerID
		}
	}
	if req.IsActive != nil {
		after.IsActive = *req.IsActive
	}
	after.UpdatedAt = time.Now().UTC()

	changes := events.Diff(before, &after)
	if changes == nil {
		return before, nil, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE departments SET name = $1, description = $2, manager_id = $3, is_active = $4, updated_at = $5 WHERE id = $6`,
		after.Name, after.Description, after.ManagerID, after.IsActive, after.UpdatedAt, id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, &ValidationError{Field: "name", Reason: "department name already exists"}
		}
		return nil, nil, fmt.Errorf("failed to update department: %w", err)
	}
	ev := events.NewEvent(events.ActionUpdated, "Department", id, after.Name).WithChanges(changes)
	return &after, []events.Event{ev}, nil
}

func (s *PostgresService) DeleteDepartment(ctx context.Context, id string) ([]events.Event, error) {
	dept, err := s.GetDepartment(ctx, id)
	if err != nil {
		return nil, err
	}
	var assigned int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE department_id = $1`, id).Scan(&assigned); err != nil {
		return nil, fmt.Errorf("failed to count department users: %w", err)
	}
	if assigned > 0 {
		return nil, ErrDepartmentInUse
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM departments WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete department: %w", err)
	}
	ev := events.NewEvent(events.ActionDeleted, "Department", id, dept.Name)
	return []events.Event{ev}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &role,
		&u.DepartmentID, &u.EmployeeID, &u.Phone, &u.IsActive,
		&u.MustChangePassword, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Role = Role(role)
	return &u, nil
}

func scanDepartment(row rowScanner) (*Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Description, &d.ManagerID,
		&d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan department: %w", err)
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}
