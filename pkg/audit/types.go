package audit

import (
	"errors"
	"time"

	"github.com/platinummonkey/foreman/pkg/events"
)

// Record is one append-only audit row.
type Record struct {
	ID         string                        `json:"id" db:"id"`
	ActorID    *string                       `json:"actor_id,omitempty" db:"actor_id"`
	ActorName  string                        `json:"actor_name" db:"actor_name"`
	Action     events.Action                 `json:"action" db:"action"`
	EntityType string                        `json:"entity_type" db:"entity_type"`
	EntityID   string                        `json:"entity_id" db:"entity_id"`
	EntityRepr string                        `json:"entity_repr" db:"entity_repr"`
	Changes    map[string]events.FieldChange `json:"changes,omitempty" db:"changes"`
	IPAddress  string                        `json:"ip_address" db:"ip_address"`
	UserAgent  string                        `json:"user_agent" db:"user_agent"`
	RequestID  string                        `json:"request_id,omitempty" db:"request_id"`
	CreatedAt  time.Time                     `json:"created_at" db:"created_at"`
}

// SearchFilter narrows audit queries. Zero values mean "any".
type SearchFilter struct {
	ActorID    string
	Action     events.Action
	EntityType string
	EntityID   string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// ErrNotFound is returned when an audit record does not exist.
var ErrNotFound = errors.New("not found")

// Markers written into the changes column for create and delete records, so
// every row carries a non-null changes payload.
var (
	createdMarker = map[string]events.FieldChange{"action": {New: "created"}}
	deletedMarker = map[string]events.FieldChange{"action": {Old: "deleted"}}
)
