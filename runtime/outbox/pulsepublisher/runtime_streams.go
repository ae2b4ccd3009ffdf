package pulse

import (
	"context"
	"errors"

	"github.com/execfabric/fabric/runtime/outbox"
	clientspulse "github.com/execfabric/fabric/runtime/outbox/pulsepublisher/clients/pulse"
)

// Bus wires a caller-provided Pulse client into the outbox's publishing path.
// It owns a publishing sink (used as outbox.New's Publisher) and can spawn
// subscribers that reuse the same client so services do not need to manage
// multiple Pulse connections.
type Bus struct {
	sink   *Sink
	client clientspulse.Client
}

// BusOptions configures the helper returned by NewBus.
type BusOptions struct {
	// Client is the Pulse client used for both publishing and subscribing. Required.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink (stream ID derivation,
	// marshaling). Leave zero-valued for defaults.
	Sink Options
}

// NewBus constructs helpers for publishing outbox events to Pulse and
// subscribing to the resulting streams. Callers pass the returned Publisher
// to outbox.New and keep the helper around to create subscribers later on.
func NewBus(opts BusOptions) (*Bus, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &Bus{sink: sink, client: opts.Client}, nil
}

// Publisher exposes the publishing sink so callers can pass it to outbox.New.
func (b *Bus) Publisher() outbox.Publisher {
	return b.sink
}

// NewSubscriber constructs a Pulse-backed subscriber that reuses the
// helper's client, keeping publishing and consumption on the same Redis
// connection pool.
func (b *Bus) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = b.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink (and therefore the underlying Pulse
// client). Call this during service shutdown after all subscribers have been
// canceled.
func (b *Bus) Close(ctx context.Context) error {
	return b.sink.Close(ctx)
}
