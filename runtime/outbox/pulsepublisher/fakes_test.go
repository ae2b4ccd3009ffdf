package pulse

import (
	"context"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/execfabric/fabric/runtime/outbox/pulsepublisher/clients/pulse"
)

type fakeClient struct {
	stream     *fakeStream
	streamErr  error
	closeCount int
	lastStream string
}

func (f *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	f.lastStream = name
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func (f *fakeClient) Close(ctx context.Context) error {
	f.closeCount++
	return nil
}

type fakeStream struct {
	sink       *fakeSink
	lastEvent  string
	addPayload []byte
	addID      string
	addErr     error
}

func (f *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	f.lastEvent = event
	f.addPayload = payload
	if f.addErr != nil {
		return "", f.addErr
	}
	if f.addID == "" {
		return "0-0", nil
	}
	return f.addID, nil
}

func (f *fakeStream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
	return f.sink, nil
}

func (f *fakeStream) Destroy(ctx context.Context) error { return nil }

type fakeSink struct {
	events chan *streaming.Event
	closed bool
	acked  []*streaming.Event
}

func (f *fakeSink) Subscribe() <-chan *streaming.Event { return f.events }

func (f *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	f.acked = append(f.acked, evt)
	return nil
}

func (f *fakeSink) Close(context.Context) { f.closed = true }
