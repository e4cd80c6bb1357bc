// Package api wires the HTTP surface: routing, authentication endpoints, and
// per-feature handlers for users, departments, projects, tasks, timesheets
// and the audit log. Every response uses the envelope from pkg/httputil and
// every mutation dispatches its domain events before returning.
package api
