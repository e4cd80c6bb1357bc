package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/contextkeys"
	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/observability"
)

// DBRecorder writes audit rows for dispatched domain events. It implements
// events.Sink.
type DBRecorder struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewDBRecorder creates a recorder over the given database.
func NewDBRecorder(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *DBRecorder {
	return &DBRecorder{db: db, logger: logger, metrics: metrics}
}

// Handle writes one audit row for the event. Actor and request provenance
// come from the context placed there by the auth middleware; a missing actor
// records a system entry.
func (r *DBRecorder) Handle(ctx context.Context, ev events.Event) error {
	changes := ev.Changes
	switch ev.Action {
	case events.ActionCreated:
		changes = createdMarker
	case events.ActionDeleted:
		changes = deletedMarker
	case events.ActionUpdated:
		// Zero-diff updates never produce an event, but guard anyway.
		if len(changes) == 0 {
			return nil
		}
	}

	record := Record{
		ID:         uuid.New().String(),
		Action:     ev.Action,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		EntityRepr: ev.EntityRepr,
		Changes:    changes,
		RequestID:  contextkeys.GetRequestID(ctx),
		CreatedAt:  ev.OccurredAt,
	}
	if actor := auth.FromContext(ctx); actor != nil {
		if id := actor.UserID(); id != "" {
			record.ActorID = &id
		}
		record.ActorName = actor.ActorName()
		record.IPAddress = actor.IPAddress
		record.UserAgent = actor.UserAgent
	} else {
		record.ActorName = "system"
	}

	payload, err := json.Marshal(record.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_name, action, entity_type, entity_id, entity_repr, changes, ip_address, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID, record.ActorID, record.ActorName, string(record.Action),
		record.EntityType, record.EntityID, record.EntityRepr, payload,
		record.IPAddress, record.UserAgent, record.RequestID, record.CreatedAt)
	if err != nil {
		if r.metrics != nil {
			r.metrics.AuditWritesTotal.WithLabelValues(string(ev.Action), "error").Inc()
		}
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	if r.metrics != nil {
		r.metrics.AuditWritesTotal.WithLabelValues(string(ev.Action), "ok").Inc()
	}
	return nil
}
