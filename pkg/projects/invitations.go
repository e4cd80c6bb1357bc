package projects

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/foreman/pkg/events"
)

const invitationColumns = `id, project_id, email, inviter_id, role, token, message, status, expires_at, accepted_at, created_at`

// CreateInvitation creates a PENDING invitation and sends the email inside
// the request, best effort. A send failure is logged and the invitation is
// kept; it can be resent later.
func (s *PostgresService) CreateInvitation(ctx context.Context, actor ActorInfo, req CreateInvitationRequest) (*Invitation, []events.Event, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, &ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	if !req.Role.Valid() {
		return nil, nil, &ValidationError{Field: "role", Reason: "unknown project role"}
	}

	project, err := s.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, nil, err
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	inv := &Invitation{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		Email:     email,
		InviterID: actor.UserID,
		Role:      req.Role,
		Token:     token,
		Message:   req.Message,
		Status:    InvitationPending,
		ExpiresAt: now.Add(s.inviteTTL),
		CreatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_invitations (id, project_id, email, inviter_id, role, token, message, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.ProjectID, inv.Email, inv.InviterID, string(inv.Role),
		inv.Token, inv.Message, string(inv.Status), inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrDuplicateInvitation
		}
		return nil, nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	s.sendInvitationMail(ctx, inv, project.Name, actor.FullName)

	ev := events.NewEvent(events.ActionCreated, "ProjectInvitation", inv.ID,
		fmt.Sprintf("%s invited to %s", inv.Email, project.Name)).
		WithMeta("project_id", inv.ProjectID).
		WithMeta("email", inv.Email).
		WithMeta("role", string(inv.Role))
	return inv, []events.Event{ev}, nil
}

// GetInvitation returns an invitation by ID, flipping an overdue PENDING row
// to EXPIRED on the way out.
func (s *PostgresService) GetInvitation(ctx context.Context, id string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM project_invitations WHERE id = $1`, id)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, err
	}
	if inv.Status == InvitationPending && inv.Expired() {
		if err := s.markExpired(ctx, inv.ID); err != nil {
			return nil, err
		}
		inv.Status = InvitationExpired
	}
	return inv, nil
}

// GetInvitationByToken resolves a token, flipping an overdue PENDING row to
// EXPIRED on the way out.
func (s *PostgresService) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM project_invitations WHERE token = $1`, token)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, err
	}
	if inv.Status == InvitationPending && inv.Expired() {
		if err := s.markExpired(ctx, inv.ID); err != nil {
			return nil, err
		}
		inv.Status = InvitationExpired
	}
	return inv, nil
}

// ListInvitations returns all invitations for a project, newest first.
// Overdue PENDING rows are expired before listing.
func (s *PostgresService) ListInvitations(ctx context.Context, projectID string) ([]*Invitation, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE project_invitations SET status = 'EXPIRED'
		WHERE project_id = $1 AND status = 'PENDING' AND expires_at < $2`,
		projectID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to expire invitations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM project_invitations WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invs []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// AcceptInvitation accepts a PENDING invitation for the logged-in user and
// creates the membership atomically. The invited email must match the
// user's, case-insensitively; only then is re-accepting an already ACCEPTED
// invitation a no-op success.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token string, user AcceptingUser) (*Invitation, []events.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM project_invitations WHERE token = $1 FOR UPDATE`, token)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, nil, err
	}

	// Email is checked before any status branch so a replayed token never
	// leaks the invitation to anyone but the invited user.
	if !strings.EqualFold(inv.Email, strings.TrimSpace(user.Email)) {
		return nil, nil, ErrEmailMismatch
	}
	if inv.Status == InvitationAccepted {
		return inv, nil, nil
	}
	if inv.Status != InvitationPending {
		return nil, nil, &InvalidStateError{Status: inv.Status}
	}
	if inv.Expired() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE project_invitations SET status = 'EXPIRED' WHERE id = $1`, inv.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to expire invitation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, nil, fmt.Errorf("failed to commit expiry: %w", err)
		}
		inv.Status = InvitationExpired
		return inv, nil, ErrInvitationExpired
	}

	now := time.Now().UTC()
	// An existing active membership is left untouched; the invitation still
	// completes so the token cannot be replayed.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role, is_active, joined_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (project_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, is_active = TRUE, joined_at = EXCLUDED.joined_at
		WHERE project_members.is_active = FALSE`,
		uuid.New().String(), inv.ProjectID, user.UserID, string(inv.Role), now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create membership: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE project_invitations SET status = 'ACCEPTED', accepted_at = $1 WHERE id = $2`,
		now, inv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	inv.Status = InvitationAccepted
	inv.AcceptedAt = &now

	ev := events.NewEvent(events.ActionUpdated, "ProjectInvitation", inv.ID,
		fmt.Sprintf("%s joined project", inv.Email)).
		WithChanges(map[string]events.FieldChange{
			"status": {Old: string(InvitationPending), New: string(InvitationAccepted)},
		}).
		WithMeta("project_id", inv.ProjectID).
		WithMeta("user_id", user.UserID)
	return inv, []events.Event{ev}, nil
}

// RejectInvitation declines a PENDING invitation.
func (s *PostgresService) RejectInvitation(ctx context.Context, token string) (*Invitation, []events.Event, error) {
	inv, err := s.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if inv.Status != InvitationPending {
		return nil, nil, &InvalidStateError{Status: inv.Status}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE project_invitations SET status = 'REJECTED' WHERE id = $1 AND status = 'PENDING'`,
		inv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reject invitation: %w", err)
	}
	inv.Status = InvitationRejected

	ev := events.NewEvent(events.ActionUpdated, "ProjectInvitation", inv.ID,
		fmt.Sprintf("%s declined invitation", inv.Email)).
		WithChanges(map[string]events.FieldChange{
			"status": {Old: string(InvitationPending), New: string(InvitationRejected)},
		}).
		WithMeta("project_id", inv.ProjectID)
	return inv, []events.Event{ev}, nil
}

// ResendInvitation extends an invitation's expiry and re-sends the email.
// An EXPIRED invitation is revived back to PENDING with a fresh window;
// ACCEPTED and REJECTED are terminal and rejected.
func (s *PostgresService) ResendInvitation(ctx context.Context, id string) (*Invitation, []events.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM project_invitations WHERE id = $1`, id)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, nil, err
	}
	if inv.Status != InvitationPending && inv.Status != InvitationExpired {
		return nil, nil, &InvalidStateError{Status: inv.Status}
	}

	inv.ExpiresAt = time.Now().UTC().Add(s.inviteTTL)
	// The status guard keeps a concurrent acceptance from being undone.
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_invitations SET status = 'PENDING', expires_at = $1
		WHERE id = $2 AND status IN ('PENDING', 'EXPIRED')`,
		inv.ExpiresAt, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extend invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, &InvalidStateError{Status: InvitationAccepted}
	}
	inv.Status = InvitationPending

	project, err := s.GetProject(ctx, inv.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	s.sendInvitationMail(ctx, inv, project.Name, "")

	ev := events.NewEvent(events.ActionUpdated, "ProjectInvitation", inv.ID,
		fmt.Sprintf("invitation to %s resent", inv.Email)).
		WithMeta("project_id", inv.ProjectID).
		WithMeta("email", inv.Email)
	return inv, []events.Event{ev}, nil
}

// DeleteInvitation withdraws a PENDING invitation.
func (s *PostgresService) DeleteInvitation(ctx context.Context, id string) ([]events.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM project_invitations WHERE id = $1`, id)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvitationPending {
		return nil, &InvalidStateError{Status: inv.Status}
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM project_invitations WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete invitation: %w", err)
	}

	ev := events.NewEvent(events.ActionDeleted, "ProjectInvitation", inv.ID,
		fmt.Sprintf("invitation to %s withdrawn", inv.Email)).
		WithMeta("project_id", inv.ProjectID)
	return []events.Event{ev}, nil
}

// ExpireOverdueInvitations flips every overdue PENDING invitation to
// EXPIRED. Run from the background sweeper; observable behavior is the same
// as lazy expiry, the sweep just keeps listings tidy.
func (s *PostgresService) ExpireOverdueInvitations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_invitations SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *PostgresService) markExpired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE project_invitations SET status = 'EXPIRED' WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("failed to expire invitation: %w", err)
	}
	return nil
}

func (s *PostgresService) sendInvitationMail(ctx context.Context, inv *Invitation, projectName, inviterName string) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendInvitation(ctx, inv, projectName, inviterName); err != nil {
		s.logger.WithError(err).
			WithField("invitation_id", inv.ID).
			WithField("email", inv.Email).
			Warn("failed to send invitation email")
	}
}

func scanInvitation(row rowScanner) (*Invitation, error) {
	var inv Invitation
	var role, status string
	err := row.Scan(&inv.ID, &inv.ProjectID, &inv.Email, &inv.InviterID, &role,
		&inv.Token, &inv.Message, &status, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}
	inv.Role = MemberRole(role)
	inv.Status = InvitationStatus(status)
	return &inv, nil
}

// generateInviteToken returns 32 random bytes hex encoded.
func generateInviteToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
