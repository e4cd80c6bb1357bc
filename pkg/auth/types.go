package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/foreman/pkg/users"
)

// Context carries the authenticated actor and request provenance through a
// request. It is stored in the request context by the auth middleware and
// read back by handlers and the audit recorder.
type Context struct {
	User      *users.User
	IPAddress string
	UserAgent string
}

// UserID returns the actor's id, or empty when unauthenticated.
func (c *Context) UserID() string {
	if c == nil || c.User == nil {
		return ""
	}
	return c.User.ID
}

// ActorName returns the actor's display name, or "system" when absent.
func (c *Context) ActorName() string {
	if c == nil || c.User == nil {
		return "system"
	}
	return c.User.FullName()
}

// Session is an issued login session. TokenHash is the SHA-256 of the bearer
// token; the plaintext is returned once at creation and never persisted.
type Session struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	TokenHash  string    `json:"-" db:"token_hash"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at" db:"last_used_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// LoginAttempt is one recorded login try, successful or not. Failed attempts
// feed the rate limiter; all attempts feed the audit trail.
type LoginAttempt struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	IPAddress   string    `json:"ip_address" db:"ip_address"`
	UserAgent   string    `json:"user_agent" db:"user_agent"`
	Success     bool      `json:"success" db:"success"`
	AttemptedAt time.Time `json:"attempted_at" db:"attempted_at"`
}

var (
	// ErrInvalidToken is returned for unknown, malformed or revoked tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrSessionExpired is returned when a session exists but has expired.
	ErrSessionExpired = errors.New("session expired")
)

// RateLimitedError is returned when an email or IP has exceeded the allowed
// failed login attempts inside the rolling window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many failed login attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

// IsRateLimited reports whether err is a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
