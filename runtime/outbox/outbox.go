// Package outbox implements the fabric's Transactional Outbox: a
// per-execution queue of events persisted alongside execution state and
// drained to an external event bus after commit, yielding at-least-once
// delivery without coupling commit to bus availability (spec §4.7).
package outbox

import (
	"context"

	"github.com/execfabric/fabric/runtime/clock"
	"github.com/execfabric/fabric/runtime/ferrors"
)

// Event is a single outbox entry.
type Event struct {
	ExecutionID string
	EventID     string
	EventType   string
	Data        map[string]any
}

// Store persists outbox entries and their publication state, keyed by
// execution id (spec §4.7). Open Question (a) resolution: rather than
// leaving published entries visible in the same append-only stream,
// publication state lives in a separate pending-acknowledgment set so
// GetPendingEvents is a simple set-difference instead of a stream scan for
// tombstones — see DESIGN.md.
type Store interface {
	// Append adds ev to executionID's queue.
	Append(ctx context.Context, ev Event) error
	// Events returns every event ever appended for executionID, in append order.
	Events(ctx context.Context, executionID string) ([]Event, error)
	// MarkPublished records eventID as published for executionID. Idempotent.
	MarkPublished(ctx context.Context, executionID, eventID string) error
	// PublishedIDs returns the set of event ids already marked published for executionID.
	PublishedIDs(ctx context.Context, executionID string) (map[string]bool, error)
}

// Publisher is the external event bus the outbox drains into (out of the
// core's scope; runtime/outbox/pulsepublisher provides one implementation
// over goa.design/pulse). Publish must be safe to call more than once for
// the same event id — the bus is expected to de-duplicate (spec §4.7).
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Outbox implements spec §4.7's operations over a Store and Publisher.
type Outbox struct {
	store     Store
	publisher Publisher
}

// New constructs an Outbox. store must be non-nil; publisher may be nil, in
// which case Drain is a no-op that leaves all events pending (useful when
// the event bus is not yet wired — this is not a §8A failure because event
// bus absence never fails an execution, spec §7).
func New(store Store, publisher Publisher) *Outbox {
	return &Outbox{store: store, publisher: publisher}
}

// Append stores a realm-emitted event in executionID's queue (spec §4.4 step 8).
func (o *Outbox) Append(ctx context.Context, executionID, eventType string, data map[string]any) (Event, error) {
	if o.store == nil {
		return Event{}, ferrors.Contract8A("outbox store")
	}
	ev := Event{
		ExecutionID: executionID,
		EventID:     clock.NewID("outbox-event"),
		EventType:   eventType,
		Data:        data,
	}
	if err := o.store.Append(ctx, ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Events returns every event ever appended for executionID, regardless of
// publish state (spec §6 execution status "events?" field).
func (o *Outbox) Events(ctx context.Context, executionID string) ([]Event, error) {
	if o.store == nil {
		return nil, ferrors.Contract8A("outbox store")
	}
	return o.store.Events(ctx, executionID)
}

// GetPendingEvents returns every event for executionID not yet marked published.
func (o *Outbox) GetPendingEvents(ctx context.Context, executionID string) ([]Event, error) {
	if o.store == nil {
		return nil, ferrors.Contract8A("outbox store")
	}
	all, err := o.store.Events(ctx, executionID)
	if err != nil {
		return nil, err
	}
	published, err := o.store.PublishedIDs(ctx, executionID)
	if err != nil {
		return nil, err
	}
	pending := make([]Event, 0, len(all))
	for _, ev := range all {
		if !published[ev.EventID] {
			pending = append(pending, ev)
		}
	}
	return pending, nil
}

// Drain publishes every pending event for executionID and marks each
// published. A publish failure stops the drain but is not surfaced as an
// execution failure by callers — the outbox simply retains the unpublished
// remainder for a later drain pass (spec §4.4 step 12, §4.7).
func (o *Outbox) Drain(ctx context.Context, executionID string) error {
	pending, err := o.GetPendingEvents(ctx, executionID)
	if err != nil {
		return err
	}
	if o.publisher == nil {
		return nil
	}
	for _, ev := range pending {
		if err := o.publisher.Publish(ctx, ev); err != nil {
			return ferrors.Wrap(ferrors.BackendUnavailable, err, "outbox drain: publish failed for event %s", ev.EventID)
		}
		if err := o.store.MarkPublished(ctx, executionID, ev.EventID); err != nil {
			return err
		}
	}
	return nil
}
