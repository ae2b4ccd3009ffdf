package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/outbox"
)

func TestPublishSendsEnvelope(t *testing.T) {
	str := &fakeStream{}
	cli := &fakeClient{stream: str}

	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	err = sink.Publish(context.Background(), outbox.Event{
		ExecutionID: "exec-123",
		EventID:     "evt-1",
		EventType:   "step.completed",
		Data:        map[string]any{"status": "ok"},
	})
	require.NoError(t, err)
	require.Equal(t, "outbox/exec-123", cli.lastStream)
	require.Equal(t, "step.completed", str.lastEvent)

	var env Envelope
	require.NoError(t, json.Unmarshal(str.addPayload, &env))
	require.Equal(t, "exec-123", env.ExecutionID)
	require.Equal(t, "evt-1", env.EventID)
	require.Equal(t, "ok", env.Data["status"])
}

func TestPublishCustomStreamID(t *testing.T) {
	str := &fakeStream{}
	cli := &fakeClient{stream: str}
	sink, err := NewSink(Options{
		Client: cli,
		StreamID: func(ev outbox.Event) (string, error) {
			return "custom/" + ev.ExecutionID, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Publish(context.Background(), outbox.Event{ExecutionID: "exec-1", EventType: "x"}))
	require.Equal(t, "custom/exec-1", cli.lastStream)
}

func TestPublishRequiresExecutionID(t *testing.T) {
	sink, err := NewSink(Options{Client: &fakeClient{stream: &fakeStream{}}})
	require.NoError(t, err)
	err = sink.Publish(context.Background(), outbox.Event{EventType: "x"})
	require.EqualError(t, err, "outbox event missing execution id")
}

func TestPublishStreamCreationError(t *testing.T) {
	cli := &fakeClient{streamErr: errors.New("boom")}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Publish(context.Background(), outbox.Event{ExecutionID: "exec-1", EventType: "x"})
	require.EqualError(t, err, "boom")
}

func TestPublishAddError(t *testing.T) {
	str := &fakeStream{addErr: errors.New("add-failed")}
	cli := &fakeClient{stream: str}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Publish(context.Background(), outbox.Event{ExecutionID: "exec-1", EventType: "x"})
	require.EqualError(t, err, "add-failed")
}

func TestPublishInvokesOnPublished(t *testing.T) {
	str := &fakeStream{addID: "9-0"}
	cli := &fakeClient{stream: str}
	var captured PublishedEvent
	sink, err := NewSink(Options{
		Client: cli,
		OnPublished: func(_ context.Context, pe PublishedEvent) error {
			captured = pe
			return nil
		},
	})
	require.NoError(t, err)
	ev := outbox.Event{ExecutionID: "exec-1", EventID: "evt-9", EventType: "x"}
	require.NoError(t, sink.Publish(context.Background(), ev))
	require.Equal(t, "9-0", captured.EntryID)
	require.Equal(t, "outbox/exec-1", captured.StreamID)
	require.Equal(t, ev, captured.Event)
}

func TestSinkCloseDelegates(t *testing.T) {
	cli := &fakeClient{stream: &fakeStream{}}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	require.Equal(t, 1, cli.closeCount)
}
