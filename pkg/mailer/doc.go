// Package mailer delivers outbound email over SMTP. It renders invitation
// and notification messages and exposes an events.Sink that mails users
// affected by task assignments and timesheet decisions. All sends are
// best-effort; callers treat mail failure as a logged warning, never as an
// operation failure.
package mailer
