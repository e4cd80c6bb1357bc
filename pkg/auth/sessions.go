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

// SessionStore issues and validates login sessions backed by Postgres.
type SessionStore struct {
	db     *sql.DB
	tokens *TokenGenerator
	ttl    time.Duration
	logger *observability.Logger
}

// NewSessionStore creates a session store. ttl controls how long issued
// sessions stay valid.
func NewSessionStore(db *sql.DB, ttl time.Duration, logger *observability.Logger) *SessionStore {
	return &SessionStore{
		db:     db,
		tokens: NewTokenGenerator(),
		ttl:    ttl,
		logger: logger,
	}
}

// Create issues a new session for the user and returns the plaintext token.
// The plaintext is not recoverable afterwards.
func (s *SessionStore) Create(ctx context.Context, userID, ipAddress, userAgent string) (string, *Session, error) {
	token, hash, err := s.tokens.GenerateToken()
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	session := &Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		TokenHash:  hash,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(s.ttl),
		LastUsedAt: now,
		CreatedAt:  now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, ip_address, user_agent, expires_at, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.UserID, session.TokenHash, session.IPAddress,
		session.UserAgent, session.ExpiresAt, session.LastUsedAt, session.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	return token, session, nil
}

// Validate resolves a presented bearer token to its session. Expired
// sessions are deleted on sight and reported as ErrSessionExpired.
func (s *SessionStore) Validate(ctx context.Context, token string) (*Session, error) {
	if err := s.tokens.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}
	hash := s.tokens.HashToken(token)

	var session Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, ip_address, user_agent, expires_at, last_used_at, created_at
		FROM sessions WHERE token_hash = $1`, hash).
		Scan(&session.ID, &session.UserID, &session.TokenHash, &session.IPAddress,
			&session.UserAgent, &session.ExpiresAt, &session.LastUsedAt, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if session.Expired() {
		if _, derr := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, session.ID); derr != nil {
			s.logger.WithError(derr).WithField("session_id", session.ID).Warn("failed to delete expired session")
		}
		return nil, ErrSessionExpired
	}

	// Touch last_used_at best effort; a failure here must not fail the request.
	now := time.Now().UTC()
	if _, uerr := s.db.ExecContext(ctx, `UPDATE sessions SET last_used_at = $1 WHERE id = $2`, now, session.ID); uerr != nil {
		s.logger.WithError(uerr).WithField("session_id", session.ID).Warn("failed to touch session")
	} else {
		session.LastUsedAt = now
	}

	return &session, nil
}

// Revoke deletes the session for the given token. Revoking an unknown token
// is not an error; logout is idempotent.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	hash := s.tokens.HashToken(token)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, hash); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser deletes every session the user holds, e.g. after a
// password change or deactivation.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry. Run periodically from
// the background sweeper.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ExtractBearerToken pulls the token out of an Authorization header value.
func ExtractBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}
