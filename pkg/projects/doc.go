// Package projects implements projects, the membership registry, and the
// invitation workflow.
//
// Membership is the sole source of project visibility. A user sees a project
// if they manage it or hold an active membership; system ADMINs get no
// shortcut. Invitations follow a PENDING -> ACCEPTED/REJECTED/EXPIRED state
// machine with lazy expiry evaluated whenever a row is read.
package projects
