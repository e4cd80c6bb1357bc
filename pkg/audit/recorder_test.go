package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/contextkeys"
	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/users"
)

func newTestRecorder(t *testing.T) (*DBRecorder, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewDBRecorder(db, logger, nil), mock
}

func actorContext() context.Context {
	actor := &auth.Context{
		User: &users.User{
			ID:        "user-1",
			Email:     "jane@example.com",
			FirstName: "Jane",
			LastName:  "Doe",
		},
		IPAddress: "10.0.0.8",
		UserAgent: "go-test",
	}
	ctx := auth.WithContext(context.Background(), actor)
	return contextkeys.WithRequestID(ctx, "req-42")
}

func TestHandleRecordsUpdateWithActor(t *testing.T) {
	recorder, mock := newTestRecorder(t)

	ev := events.NewEvent(events.ActionUpdated, "project", "proj-1", "Apollo").
		WithChanges(map[string]events.FieldChange{
			"status": {Old: "PLANNING", New: "ACTIVE"},
		})

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), "user-1", "Jane Doe", "UPDATE", "project",
			"proj-1", "Apollo", []byte(`{"status":{"old":"PLANNING","new":"ACTIVE"}}`),
			"10.0.0.8", "go-test", "req-42", ev.OccurredAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := recorder.Handle(actorContext(), ev)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCreateUsesMarkerChanges(t *testing.T) {
	recorder, mock := newTestRecorder(t)

	ev := events.NewEvent(events.ActionCreated, "task", "task-1", "Fix login")

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), "user-1", "Jane Doe", "CREATE", "task",
			"task-1", "Fix login", []byte(`{"action":{"new":"created"}}`),
			"10.0.0.8", "go-test", "req-42", ev.OccurredAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, recorder.Handle(actorContext(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDeleteUsesMarkerChanges(t *testing.T) {
	recorder, mock := newTestRecorder(t)

	ev := events.NewEvent(events.ActionDeleted, "task", "task-1", "Fix login")

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), "user-1", "Jane Doe", "DELETE", "task",
			"task-1", "Fix login", []byte(`{"action":{"old":"deleted"}}`),
			"10.0.0.8", "go-test", "req-42", ev.OccurredAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, recorder.Handle(actorContext(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWithoutActorRecordsSystem(t *testing.T) {
	recorder, mock := newTestRecorder(t)

	ev := events.NewEvent(events.ActionDeleted, "session", "sess-1", "expired session")

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), nil, "system", "DELETE", "session",
			"sess-1", "expired session", []byte(`{"action":{"old":"deleted"}}`),
			"", "", "", ev.OccurredAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, recorder.Handle(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSkipsEmptyUpdate(t *testing.T) {
	recorder, mock := newTestRecorder(t)

	ev := events.NewEvent(events.ActionUpdated, "project", "proj-1", "Apollo")

	require.NoError(t, recorder.Handle(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleReturnsInsertError(t *testing.T) {
	recorder, mock := newTestRecorder(t)

	ev := events.NewEvent(events.ActionCreated, "task", "task-1", "Fix login")

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnError(errors.New("connection refused"))

	err := recorder.Handle(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write audit record")
}

func TestHandleLoginEventCarriesNoChanges(t *testing.T) {
	recorder, mock := newTestRecorder(t)

	now := time.Now().UTC()
	ev := events.Event{
		Action:     events.ActionLogin,
		EntityType: "user",
		EntityID:   "user-1",
		EntityRepr: "jane@example.com",
		OccurredAt: now,
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), "user-1", "Jane Doe", "LOGIN", "user",
			"user-1", "jane@example.com", []byte(`null`),
			"10.0.0.8", "go-test", "req-42", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, recorder.Handle(actorContext(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}
