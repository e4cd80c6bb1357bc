package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/foreman/pkg/observability"
)

// LoginLimiter records login attempts and throttles brute force by email and
// by source IP over a rolling window. Successful logins are recorded but do
// not count against the limit.
type LoginLimiter struct {
	db          *sql.DB
	window      time.Duration
	maxFailures int
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewLoginLimiter creates a limiter allowing maxFailures failed attempts per
// email or per IP inside window.
func NewLoginLimiter(db *sql.DB, window time.Duration, maxFailures int, logger *observability.Logger, metrics *observability.Metrics) *LoginLimiter {
	return &LoginLimiter{
		db:          db,
		window:      window,
		maxFailures: maxFailures,
		logger:      logger,
		metrics:     metrics,
	}
}

// Check returns a RateLimitedError when either the email or the IP has
// reached the failure limit inside the window. Call before verifying
// credentials so locked-out callers learn nothing about the password.
func (l *LoginLimiter) Check(ctx context.Context, email, ipAddress string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	since := time.Now().UTC().Add(-l.window)

	var emailFailures, ipFailures int
	var oldest sql.NullTime
	err := l.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE email = $1),
			COUNT(*) FILTER (WHERE ip_address = $2),
			MIN(attempted_at)
		FROM login_attempts
		WHERE success = FALSE AND attempted_at >= $3 AND (email = $1 OR ip_address = $2)`,
		email, ipAddress, since).
		Scan(&emailFailures, &ipFailures, &oldest)
	if err != nil {
		return fmt.Errorf("failed to count login attempts: %w", err)
	}

	if emailFailures >= l.maxFailures || ipFailures >= l.maxFailures {
		retryAfter := l.window
		if oldest.Valid {
			retryAfter = time.Until(oldest.Time.Add(l.window))
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		if l.metrics != nil {
			l.metrics.RateLimitedTotal.WithLabelValues("login").Inc()
		}
		l.logger.WithField("email", email).
			WithField("ip_address", ipAddress).
			Warn("login rate limit exceeded")
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return nil
}

// Record stores one attempt. Failures count against the caller; successes
// are kept for the audit trail only.
func (l *LoginLimiter) Record(ctx context.Context, email, ipAddress, userAgent string, success bool) error {
	attempt := LoginAttempt{
		ID:          uuid.New().String(),
		Email:       strings.ToLower(strings.TrimSpace(email)),
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Success:     success,
		AttemptedAt: time.Now().UTC(),
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO login_attempts (id, email, ip_address, user_agent, success, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		attempt.ID, attempt.Email, attempt.IPAddress, attempt.UserAgent,
		attempt.Success, attempt.AttemptedAt)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	if l.metrics != nil {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		l.metrics.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	}
	return nil
}

// DeleteOlderThan prunes attempts past the retention period. Run from the
// background sweeper so the table does not grow unbounded.
func (l *LoginLimiter) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := l.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune login attempts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
