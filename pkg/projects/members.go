package projects

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/foreman/pkg/events"
)

// ListMembers returns all active members of a project with their display
// fields joined in.
func (s *PostgresService) ListMembers(ctx context.Context, projectID string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pm.id, pm.project_id, pm.user_id, pm.role, pm.is_active, pm.joined_at,
		       u.email, u.first_name, u.last_name
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = $1 AND pm.is_active = TRUE
		ORDER BY pm.joined_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		var role, first, last string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.IsActive,
			&m.JoinedAt, &m.Email, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = MemberRole(role)
		m.FullName = first + " " + last
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember adds a user at the given role. Re-adding a user whose membership
// was deactivated reactivates it at the new role.
func (s *PostgresService) AddMember(ctx context.Context, projectID, userID string, role MemberRole) (*Member, []events.Event, error) {
	if !role.Valid() {
		return nil, nil, &ValidationError{Field: "role", Reason: "unknown project role"}
	}

	now := time.Now().UTC()
	member := &Member{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		IsActive:  true,
		JoinedAt:  now,
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role, is_active, joined_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (project_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, is_active = TRUE, joined_at = EXCLUDED.joined_at
		WHERE project_members.is_active = FALSE`,
		member.ID, projectID, userID, string(role), now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil, ErrDuplicateMember
	}

	ev := events.NewEvent(events.ActionCreated, "ProjectMember", member.ID,
		fmt.Sprintf("%s in %s", userID, projectID)).
		WithMeta("project_id", projectID).
		WithMeta("user_id", userID).
		WithMeta("role", string(role))
	return member, []events.Event{ev}, nil
}

// UpdateMemberRole changes a member's role. Demoting the only LEAD is
// rejected while the project has other active members.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, projectID, userID string, role MemberRole) (*Member, []events.Event, error) {
	if !role.Valid() {
		return nil, nil, &ValidationError{Field: "role", Reason: "unknown project role"}
	}

	current, err := s.RoleInProject(ctx, userID, projectID)
	if err != nil {
		return nil, nil, err
	}
	if current == "" {
		return nil, nil, ErrNotFound
	}
	if current == role {
		member, err := s.getMember(ctx, projectID, userID)
		return member, nil, err
	}
	if current == RoleLead && role != RoleLead {
		if err := s.ensureAnotherLead(ctx, projectID, userID); err != nil {
			return nil, nil, err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE project_members SET role = $1
		WHERE project_id = $2 AND user_id = $3 AND is_active = TRUE`,
		string(role), projectID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update member role: %w", err)
	}

	member, err := s.getMember(ctx, projectID, userID)
	if err != nil {
		return nil, nil, err
	}
	ev := events.NewEvent(events.ActionUpdated, "ProjectMember", member.ID,
		fmt.Sprintf("%s in %s", userID, projectID)).
		WithChanges(map[string]events.FieldChange{
			"role": {Old: string(current), New: string(role)},
		}).
		WithMeta("project_id", projectID).
		WithMeta("user_id", userID)
	return member, []events.Event{ev}, nil
}

// RemoveMember deactivates a membership. The row is kept for history; the
// unique (project, user) pair allows later reactivation via AddMember.
func (s *PostgresService) RemoveMember(ctx context.Context, projectID, userID string) ([]events.Event, error) {
	current, err := s.RoleInProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if current == "" {
		return nil, ErrNotFound
	}
	if current == RoleLead {
		if err := s.ensureAnotherLead(ctx, projectID, userID); err != nil {
			return nil, err
		}
	}

	member, err := s.getMember(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE project_members SET is_active = FALSE
		WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove member: %w", err)
	}

	ev := events.NewEvent(events.ActionDeleted, "ProjectMember", member.ID,
		fmt.Sprintf("%s in %s", userID, projectID)).
		WithMeta("project_id", projectID).
		WithMeta("user_id", userID)
	return []events.Event{ev}, nil
}

// RoleInProject implements MembershipReader.
func (s *PostgresService) RoleInProject(ctx context.Context, userID, projectID string) (MemberRole, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM project_members
		WHERE project_id = $1 AND user_id = $2 AND is_active = TRUE`,
		projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up membership: %w", err)
	}
	return MemberRole(role), nil
}

// IsProjectManager implements MembershipReader.
func (s *PostgresService) IsProjectManager(ctx context.Context, userID, projectID string) (bool, error) {
	var isManager bool
	err := s.db.QueryRowContext(ctx, `
		SELECT manager_id = $1 FROM projects WHERE id = $2`,
		userID, projectID).Scan(&isManager)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up project manager: %w", err)
	}
	return isManager, nil
}

// VisibleProjectIDs implements MembershipReader.
func (s *PostgresService) VisibleProjectIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.id
		FROM projects p
		LEFT JOIN project_members pm ON pm.project_id = p.id AND pm.is_active = TRUE
		WHERE p.manager_id = $1 OR pm.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list visible projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresService) getMember(ctx context.Context, projectID, userID string) (*Member, error) {
	m := &Member{}
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, user_id, role, is_active, joined_at
		FROM project_members
		WHERE project_id = $1 AND user_id = $2 AND is_active = TRUE`,
		projectID, userID).
		Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.IsActive, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m.Role = MemberRole(role)
	return m, nil
}

// ensureAnotherLead fails with ErrLastLead when userID is the only active
// LEAD and other active members remain.
func (s *PostgresService) ensureAnotherLead(ctx context.Context, projectID, userID string) error {
	var otherLeads, otherMembers int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE role = 'LEAD' AND user_id <> $2),
			COUNT(*) FILTER (WHERE user_id <> $2)
		FROM project_members
		WHERE project_id = $1 AND is_active = TRUE`,
		projectID, userID).Scan(&otherLeads, &otherMembers)
	if err != nil {
		return fmt.Errorf("failed to count leads: %w", err)
	}
	if otherLeads == 0 && otherMembers > 0 {
		return ErrLastLead
	}
	return nil
}
