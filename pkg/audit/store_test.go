package audit

import (
	"context"
	"database/sql/driver"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/observability"
)

var recordColumnList = []string{
	"id", "actor_id", "actor_name", "action", "entity_type", "entity_id",
	"entity_repr", "changes", "ip_address", "user_agent", "request_id", "created_at",
}

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewPostgresStore(db, logger), mock
}

func auditRow(id string, createdAt time.Time) []driver.Value {
	return []driver.Value{
		id, "user-1", "Jane Doe", "UPDATE", "project", "proj-1",
		"Apollo", []byte(`{"status":{"old":"PLANNING","new":"ACTIVE"}}`),
		"10.0.0.8", "go-test", "req-42", createdAt,
	}
}

func TestGetRecord(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE id = \\$1").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows(recordColumnList).AddRow(auditRow("rec-1", now)...))

	record, err := store.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)
	require.NotNil(t, record.ActorID)
	assert.Equal(t, "user-1", *record.ActorID)
	assert.Equal(t, events.ActionUpdated, record.Action)
	require.Contains(t, record.Changes, "status")
	assert.Equal(t, "PLANNING", record.Changes["status"].Old)
	assert.Equal(t, "ACTIVE", record.Changes["status"].New)
}

func TestGetRecordNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(recordColumnList))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchDefaultLimit(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM audit_logs ORDER BY created_at DESC LIMIT \\$1").
		WithArgs(defaultSearchLimit).
		WillReturnRows(sqlmock.NewRows(recordColumnList).
			AddRow(auditRow("rec-2", now)...).
			AddRow(auditRow("rec-1", now.Add(-time.Hour))...))

	records, err := store.Search(context.Background(), SearchFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec-2", records[0].ID)
}

func TestSearchCombinesFilters(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE actor_id = \\$1 AND action = \\$2 AND entity_type = \\$3 AND created_at >= \\$4 ORDER BY created_at DESC LIMIT \\$5 OFFSET \\$6").
		WithArgs("user-1", "UPDATE", "project", from, 25, 50).
		WillReturnRows(sqlmock.NewRows(recordColumnList).AddRow(auditRow("rec-9", now)...))

	records, err := store.Search(context.Background(), SearchFilter{
		ActorID:    "user-1",
		Action:     events.ActionUpdated,
		EntityType: "project",
		From:       &from,
		Limit:      25,
		Offset:     50,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-9", records[0].ID)
}

func TestSearchCapsLimit(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM audit_logs ORDER BY created_at DESC LIMIT \\$1").
		WithArgs(maxSearchLimit).
		WillReturnRows(sqlmock.NewRows(recordColumnList))

	records, err := store.Search(context.Background(), SearchFilter{Limit: 100000})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListForEntity(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE entity_type = \\$1 AND entity_id = \\$2 ORDER BY created_at DESC LIMIT \\$3").
		WithArgs("project", "proj-1", maxSearchLimit).
		WillReturnRows(sqlmock.NewRows(recordColumnList).AddRow(auditRow("rec-3", now)...))

	records, err := store.ListForEntity(context.Background(), "project", "proj-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "proj-1", records[0].EntityID)
}
