package users

import (
	"errors"
	"fmt"
	"time"
)

// Role is a system-level role. It controls administrative surfaces only and
// grants no implicit visibility into projects.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLOYEE"
)

// Valid reports whether r is a known system role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEmployee
}

// User is an account in the system. PasswordHash is never carried on the
// struct; credential checks go through Service.Authenticate.
type User struct {
	ID                 string     `json:"id" db:"id"`
	Email              string     `json:"email" db:"email"`
	FirstName          string     `json:"first_name" db:"first_name"`
	LastName           string     `json:"last_name" db:"last_name"`
	Role               Role       `json:"role" db:"role"`
	DepartmentID       *string    `json:"department_id,omitempty" db:"department_id"`
	EmployeeID         *string    `json:"employee_id,omitempty" db:"employee_id"`
	Phone              *string    `json:"phone,omitempty" db:"phone"`
	IsActive           bool       `json:"is_active" db:"is_active"`
	MustChangePassword bool       `json:"must_change_password" db:"must_change_password"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// FullName returns the display name used in audit entries and emails.
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Email
	}
	return fmt.Sprintf("%s %s", u.FirstName, u.LastName)
}

// IsAdmin reports whether the user holds the ADMIN system role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Department groups users for reporting purposes.
type Department struct {
	ID          string    `json:"id" db:"id"`
	Code        string    `json:"code" db:"code"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	ManagerID   *string   `json:"manager_id,omitempty" db:"manager_id"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

var (
	// ErrNotFound is returned when a user or department does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when creating or updating a user with an
	// email address already in use.
	ErrEmailTaken = errors.New("email already in use")
	// ErrInvalidCredentials is returned by Authenticate for a bad
	// email/password pair or an inactive account. The two cases are
	// deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDepartmentInUse is returned when deleting a department that still
	// has users assigned.
	ErrDepartmentInUse = errors.New("department has assigned users")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
