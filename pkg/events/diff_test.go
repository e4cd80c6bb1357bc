package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTask struct {
	ID        string     `db:"id"`
	Title     string     `db:"title"`
	Status    string     `db:"status"`
	DueDate   *time.Time `db:"due_date"`
	Internal  string
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func TestDiff(t *testing.T) {
	t.Run("no changes returns nil", func(t *testing.T) {
		a := fakeTask{ID: "1", Title: "fix login", Status: "TODO"}
		b := a
		b.UpdatedAt = time.Now() // bookkeeping only
		assert.Nil(t, Diff(&a, &b))
	})

	t.Run("status change produces one entry", func(t *testing.T) {
		a := fakeTask{ID: "1", Title: "fix login", Status: "TODO"}
		b := a
		b.Status = "IN_PROGRESS"

		changes := Diff(&a, &b)
		assert.Len(t, changes, 1)
		assert.Equal(t, FieldChange{Old: "TODO", New: "IN_PROGRESS"}, changes["status"])
	})

	t.Run("nil pointer becomes empty string", func(t *testing.T) {
		due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		a := fakeTask{ID: "1"}
		b := a
		b.DueDate = &due

		changes := Diff(&a, &b)
		assert.Equal(t, FieldChange{Old: "", New: "2026-03-01T00:00:00Z"}, changes["due_date"])
	})

	t.Run("untagged fields are ignored", func(t *testing.T) {
		a := fakeTask{Internal: "x"}
		b := fakeTask{Internal: "y"}
		assert.Nil(t, Diff(&a, &b))
	})

	t.Run("mismatched types return nil", func(t *testing.T) {
		assert.Nil(t, Diff(&fakeTask{}, "not a struct"))
	})
}

func TestEventBuilders(t *testing.T) {
	ev := NewEvent(ActionStatusChanged, "Task", "t-1", "TASK-1 fix login").
		WithChanges(map[string]FieldChange{"status": {Old: "TODO", New: "IN_PROGRESS"}}).
		WithMeta("assignee_email", "dev@example.com")

	assert.Equal(t, ActionStatusChanged, ev.Action)
	assert.Equal(t, "Task", ev.EntityType)
	assert.Equal(t, "dev@example.com", ev.Meta["assignee_email"])
	assert.False(t, ev.OccurredAt.IsZero())
}
