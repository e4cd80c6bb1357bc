// Package tasks implements tasks, sprints and the per-task activity trail.
// Status changes are first-class: they keep their own audit action and
// activity entries so a board's history can be replayed.
package tasks
