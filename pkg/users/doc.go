// Package users implements the identity store: user accounts with system
// roles (ADMIN/EMPLOYEE), department affiliation, and credential checks.
//
// System roles only gate system administration surfaces (user and department
// management, audit queries, timesheet approval). Project-level access is
// strictly membership based and lives in pkg/projects and pkg/visibility.
package users
