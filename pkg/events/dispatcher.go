package events

import (
	"context"

	"github.com/platinummonkey/foreman/pkg/observability"
)

// Sink receives dispatched events. Implementations must not assume they are
// the only sink and must tolerate events they do not care about.
type Sink interface {
	Handle(ctx context.Context, event Event) error
}

// Dispatcher fans events out to the registered sinks
type Dispatcher struct {
	sinks  []Sink
	logger *observability.Logger
}

// NewDispatcher creates a dispatcher over the given sinks
func NewDispatcher(logger *observability.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		logger: logger,
	}
}

// Dispatch delivers each event to every sink. Sink failures are logged and
// swallowed so that a broken audit or notification path never fails the
// business operation that produced the event.
func (d *Dispatcher) Dispatch(ctx context.Context, evs ...Event) {
	for _, ev := range evs {
		for _, sink := range d.sinks {
			if err := sink.Handle(ctx, ev); err != nil {
				d.logger.WithError(err).
					WithField("action", string(ev.Action)).
					WithField("entity_type", ev.EntityType).
					WithField("entity_id", ev.EntityID).
					Warn("event sink failed")
			}
		}
	}
}
