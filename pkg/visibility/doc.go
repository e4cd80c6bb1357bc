// Package visibility is the single authorization decision point for
// project-scoped resources.
//
// Every predicate is a pure function over the membership registry: no side
// effects, no caching, no mutation. Handlers call exactly one predicate
// before a guarded operation and translate false into a 403.
//
// The system ADMIN role deliberately grants no project visibility or manage
// rights. Its only project-scoped power is timesheet approval.
package visibility
