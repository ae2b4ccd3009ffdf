package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"github.com/execfabric/fabric/runtime/outbox"
)

func TestSubscribeEmitsEvents(t *testing.T) {
	eventCh := make(chan *streaming.Event, 1)
	sink := &fakeSink{events: eventCh}
	str := &fakeStream{sink: sink}
	cli := &fakeClient{stream: str}

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "outbox/exec-123")
	require.NoError(t, err)
	defer cancel()

	payload, _ := json.Marshal(Envelope{
		ExecutionID: "exec-123",
		EventID:     "evt-1",
		EventType:   "step.completed",
		Timestamp:   time.Now(),
		Data:        map[string]any{"chunk": "hi"},
	})
	eventCh <- &streaming.Event{ID: "1-0", Payload: payload}
	close(eventCh)

	got := <-events
	require.Equal(t, "exec-123", got.ExecutionID)
	require.Equal(t, "evt-1", got.EventID)
	require.Equal(t, "hi", got.Data["chunk"])
	require.Empty(t, errs)
	require.Len(t, sink.acked, 1)
	require.Equal(t, "1-0", sink.acked[0].ID)
}

func TestSubscribeDecoderError(t *testing.T) {
	eventCh := make(chan *streaming.Event, 1)
	sink := &fakeSink{events: eventCh}
	cli := &fakeClient{stream: &fakeStream{sink: sink}}

	sub, err := NewSubscriber(SubscriberOptions{
		Client: cli,
		Decoder: func([]byte) (outbox.Event, error) {
			return outbox.Event{}, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "outbox/exec-1")
	require.NoError(t, err)
	defer cancel()
	eventCh <- &streaming.Event{Payload: []byte("{}")}
	close(eventCh)

	require.Empty(t, events)
	require.EqualError(t, <-errs, "pulse decode payload: decode error")
}
