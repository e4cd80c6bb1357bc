package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/foreman/pkg/observability"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

const recordColumns = `id, actor_id, actor_name, action, entity_type, entity_id, entity_repr, changes, ip_address, user_agent, request_id, created_at`

// Store provides read access to the audit log.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Search(ctx context.Context, filter SearchFilter) ([]*Record, error)
	ListForEntity(ctx context.Context, entityType, entityID string) ([]*Record, error)
}

// PostgresStore implements Store.
type PostgresStore struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresStore creates an audit reader over the given database.
func NewPostgresStore(db *sql.DB, logger *observability.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Get returns a single audit record by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM audit_logs WHERE id = $1`, id)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return record, nil
}

// Search returns audit records matching the filter, newest first.
func (s *PostgresStore) Search(ctx context.Context, filter SearchFilter) ([]*Record, error) {
	var (
		conditions []string
		args       []interface{}
	)
	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.ActorID != "" {
		addCondition("actor_id = $%d", filter.ActorID)
	}
	if filter.Action != "" {
		addCondition("action = $%d", string(filter.Action))
	}
	if filter.EntityType != "" {
		addCondition("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		addCondition("entity_id = $%d", filter.EntityID)
	}
	if filter.From != nil {
		addCondition("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		addCondition("created_at <= $%d", *filter.To)
	}

	query := `SELECT ` + recordColumns + ` FROM audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListForEntity returns the full trail for one entity, newest first.
func (s *PostgresStore) ListForEntity(ctx context.Context, entityType, entityID string) ([]*Record, error) {
	return s.Search(ctx, SearchFilter{EntityType: entityType, EntityID: entityID, Limit: maxSearchLimit})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record  Record
		payload []byte
	)
	err := row.Scan(
		&record.ID, &record.ActorID, &record.ActorName, &record.Action,
		&record.EntityType, &record.EntityID, &record.EntityRepr, &payload,
		&record.IPAddress, &record.UserAgent, &record.RequestID, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &record.Changes); err != nil {
			return nil, fmt.Errorf("failed to decode changes: %w", err)
		}
	}
	return &record, nil
}
