package events

import (
	"time"
)

// Action identifies what happened to an entity
type Action string

const (
	ActionCreated       Action = "CREATE"
	ActionUpdated       Action = "UPDATE"
	ActionDeleted       Action = "DELETE"
	ActionStatusChanged Action = "STATUS_CHANGED"
	ActionLogin         Action = "LOGIN"
	ActionLogout        Action = "LOGOUT"
	ActionApproved      Action = "APPROVE"
	ActionRejected      Action = "REJECT"
)

// FieldChange captures an old/new value pair for a single field
type FieldChange struct {
	Old string `json:"old,omitempty"`
	New string `json:"new,omitempty"`
}

// Event describes a single domain mutation
type Event struct {
	Action     Action
	EntityType string
	EntityID   string
	EntityRepr string

	// Changes holds the per-field diff for updates; nil for create/delete
	Changes map[string]FieldChange

	// Meta carries notification hints (recipient email, subject context)
	Meta map[string]string

	OccurredAt time.Time
}

// NewEvent constructs an event stamped with the current time
func NewEvent(action Action, entityType, entityID, entityRepr string) Event {
	return Event{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		EntityRepr: entityRepr,
		OccurredAt: time.Now().UTC(),
	}
}

// WithChanges attaches a field diff to the event
func (e Event) WithChanges(changes map[string]FieldChange) Event {
	e.Changes = changes
	return e
}

// WithMeta attaches a notification hint to the event
func (e Event) WithMeta(key, value string) Event {
	if e.Meta == nil {
		e.Meta = make(map[string]string)
	}
	e.Meta[key] = value
	return e
}
