package pulse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
)

func TestBusPublisherLifecycle(t *testing.T) {
	client := &fakeClient{stream: &fakeStream{sink: &fakeSink{events: make(chan *streaming.Event)}}}
	bus, err := NewBus(BusOptions{Client: client})
	require.NoError(t, err)
	require.NotNil(t, bus.Publisher())
	require.NoError(t, bus.Close(context.Background()))
	require.Equal(t, 1, client.closeCount)
}

func TestBusSubscriberUsesClient(t *testing.T) {
	eventsCh := make(chan *streaming.Event)
	sink := &fakeSink{events: eventsCh}
	client := &fakeClient{stream: &fakeStream{sink: sink}}
	bus, err := NewBus(BusOptions{Client: client})
	require.NoError(t, err)

	sub, err := bus.NewSubscriber(SubscriberOptions{SinkName: "front", Buffer: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, errs, stop, err := sub.Subscribe(ctx, "outbox/exec-1")
	if err != nil {
		cancel()
		require.FailNowf(t, "subscribe", "subscribe error: %v", err)
	}
	close(eventsCh)
	stop()
	cancel()

	select {
	case _, ok := <-events:
		require.False(t, ok, "expected closed events channel")
	case <-time.After(time.Second):
		require.FailNow(t, "timeout waiting for events close")
	}
	select {
	case _, ok := <-errs:
		require.False(t, ok, "expected closed errs channel")
	case <-time.After(time.Second):
		require.FailNow(t, "timeout waiting for errs close")
	}
	require.True(t, sink.closed)
}
