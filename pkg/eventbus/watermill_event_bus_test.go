package eventbus_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellflow/shellflow/pkg/channels/gochannel"
	"github.com/shellflow/shellflow/pkg/eventbus"
	"github.com/shellflow/shellflow/pkg/events"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := setupTestBus(t)

	received := make(chan any, 1)

	bus.Handle(events.SessionStartedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "sess-1", events.SessionStarted{
		BaseEvent: events.BaseEvent{
			ID:        "evt-1",
			Type:      events.SessionStartedEvent,
			Timestamp: time.Now().UTC(),
			SessionID: "sess-1",
			RunnerID:  "runner-1",
		},
		AggregatedScriptID: "nightly-audit",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		started, ok := event.(*events.SessionStarted)
		require.True(t, ok)
		assert.Equal(t, "sess-1", started.SessionID)
		assert.Equal(t, "nightly-audit", started.AggregatedScriptID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypeIsAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := setupTestBus(t)

	received := make(chan any, 2)

	bus.Handle(events.StepProgressEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for session events; the subscriber must ack and
	// move on to the next message.
	require.NoError(t, bus.Publish(ctx, "sess-2", events.SessionStarted{
		BaseEvent: events.BaseEvent{ID: "evt-1", Type: events.SessionStartedEvent, SessionID: "sess-2"},
	}))

	require.NoError(t, bus.Publish(ctx, "sess-2", events.StepProgress{
		BaseEvent:  events.BaseEvent{ID: "evt-2", Type: events.StepProgressEvent, SessionID: "sess-2"},
		StepOrder:  1,
		StepName:   "disk-check",
		Phase:      events.PhaseExecuting,
		Percentage: 50,
	}))

	select {
	case event := <-received:
		progress, ok := event.(*events.StepProgress)
		require.True(t, ok)
		assert.Equal(t, 1, progress.StepOrder)
		assert.Equal(t, events.PhaseExecuting, progress.Phase)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBusSink_PublishesProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := setupTestBus(t)

	received := make(chan any, 1)

	bus.Handle(events.StepProgressEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	require.NoError(t, bus.Subscribe(ctx))

	sink := eventbus.NewBusSink(bus, "runner-1", testLogger)
	sink.Notify("sess-3", "disk-check", events.PhaseCollecting, 90, "almost there")

	select {
	case event := <-received:
		progress, ok := event.(*events.StepProgress)
		require.True(t, ok)
		assert.Equal(t, "sess-3", progress.SessionID)
		assert.Equal(t, "runner-1", progress.RunnerID)
		assert.Equal(t, "disk-check", progress.StepName)
		assert.Equal(t, events.PhaseCollecting, progress.Phase)
		assert.Equal(t, 90, progress.Percentage)
	case <-time.After(2 * time.Second):
		t.Fatal("progress event was not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	t.Parallel()

	bus := setupTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
