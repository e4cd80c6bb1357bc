// Package timesheets implements time entries and their approval workflow.
//
// A timesheet moves DRAFT -> SUBMITTED -> APPROVED/REJECTED and is editable
// only while DRAFT or REJECTED. The (employee, project, task, date) tuple is
// unique; the database constraint is the concurrency backstop and surfaces
// as a Conflict error.
package timesheets
