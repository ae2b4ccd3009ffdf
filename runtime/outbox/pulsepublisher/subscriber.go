package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	"github.com/execfabric/fabric/runtime/outbox"
	clientspulse "github.com/execfabric/fabric/runtime/outbox/pulsepublisher/clients/pulse"
)

type (
	// EnvelopeDecoder converts a raw Pulse payload back into an outbox event.
	EnvelopeDecoder func([]byte) (outbox.Event, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to "fabric_outbox_subscriber".
		SinkName string
		// Buffer specifies the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes event payloads. Defaults to decoding Envelope JSON.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes an outbox Pulse stream and emits outbox.Event
	// values — a utility for downstream consumers of the event bus, outside
	// the core's read path (spec §4.7 treats the bus as write-only from the
	// core's perspective).
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "fabric_outbox_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{client: opts.Client, buffer: buffer, name: name, decode: decoder}, nil
}

// SubscribeToExecution opens a Pulse sink on executionID's outbox stream,
// using the same naming convention (clientspulse.OutboxStreamName) the
// publishing Sink's default StreamID uses. Prefer this over Subscribe
// unless a caller has a non-default stream id to read from.
func (s *Subscriber) SubscribeToExecution(
	ctx context.Context,
	executionID string,
	opts ...streamopts.Sink,
) (<-chan outbox.Event, <-chan error, context.CancelFunc, error) {
	return s.Subscribe(ctx, clientspulse.OutboxStreamName(executionID), opts...)
}

// Subscribe opens a Pulse sink on streamID and returns channels of decoded
// events and errors. The returned cancel function stops consumption, closes
// the underlying sink, and closes both channels.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamID string,
	opts ...streamopts.Sink,
) (<-chan outbox.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan outbox.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- outbox.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

func decodeEnvelope(payload []byte) (outbox.Event, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		ExecutionID: env.ExecutionID,
		EventID:     env.EventID,
		EventType:   env.EventType,
		Data:        env.Data,
	}, nil
}
