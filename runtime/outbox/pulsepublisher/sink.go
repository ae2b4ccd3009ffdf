// Package pulse implements outbox.Publisher over goa.design/pulse streams,
// realizing the external event bus the Transactional Outbox drains into
// (spec §4.7). It mirrors the layering used by Pulse deployments generally:
// build a Redis client, pass it to the Pulse client, hand the resulting
// sink to outbox.New.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/execfabric/fabric/runtime/outbox"
	"github.com/execfabric/fabric/runtime/outbox/pulsepublisher/clients/pulse"
)

type (
	// Options configures the Pulse-backed Publisher.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client pulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults to
		// `outbox/<ExecutionID>`.
		StreamID func(outbox.Event) (string, error)
		// MarshalEnvelope allows overriding the envelope serialization (primarily for tests).
		MarshalEnvelope func(Envelope) ([]byte, error)
		// OnPublished, when set, is invoked after an event has been successfully
		// written to the underlying Pulse stream.
		OnPublished func(context.Context, PublishedEvent) error
	}

	// Sink publishes outbox events into Pulse streams, implementing
	// outbox.Publisher. Thread-safe for concurrent Publish calls.
	Sink struct {
		client pulse.Client
		opts   sinkOptions
	}

	sinkOptions struct {
		streamID        func(outbox.Event) (string, error)
		marshalEnvelope func(Envelope) ([]byte, error)
		onPublished     func(context.Context, PublishedEvent) error
	}

	// Envelope wraps an outbox event for transmission over a Pulse stream.
	Envelope struct {
		ExecutionID string         `json:"execution_id"`
		EventID     string         `json:"event_id"`
		EventType   string         `json:"event_type"`
		Timestamp   time.Time      `json:"timestamp"`
		Data        map[string]any `json:"data,omitempty"`
	}

	// PublishedEvent describes an outbox event successfully written to a
	// Pulse stream, together with the concrete stream name and the
	// Redis-assigned entry id.
	PublishedEvent struct {
		Event    outbox.Event
		StreamID string
		EntryID  string
	}
)

// NewSink constructs a Pulse-backed outbox.Publisher. opts.Client is
// required; StreamID and MarshalEnvelope default to the built-ins.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	cfg := sinkOptions{
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
		onPublished:     opts.OnPublished,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		cfg.marshalEnvelope = opts.MarshalEnvelope
	}
	return &Sink{client: opts.Client, opts: cfg}, nil
}

// Publish implements outbox.Publisher.
func (s *Sink) Publish(ctx context.Context, ev outbox.Event) error {
	streamID, err := s.opts.streamID(ev)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := Envelope{
		ExecutionID: ev.ExecutionID,
		EventID:     ev.EventID,
		EventType:   ev.EventType,
		Timestamp:   time.Now().UTC(),
		Data:        ev.Data,
	}
	payload, err := s.opts.marshalEnvelope(env)
	if err != nil {
		return err
	}
	entryID, err := handle.Add(ctx, env.EventType, payload)
	if err != nil {
		return err
	}
	if cb := s.opts.onPublished; cb != nil {
		return cb(ctx, PublishedEvent{Event: ev, StreamID: streamID, EntryID: entryID})
	}
	return nil
}

// Close releases resources owned by the sink.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(ev outbox.Event) (string, error) {
	if ev.ExecutionID == "" {
		return "", errors.New("outbox event missing execution id")
	}
	return pulse.OutboxStreamName(ev.ExecutionID), nil
}

func defaultMarshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

var _ outbox.Publisher = (*Sink)(nil)
