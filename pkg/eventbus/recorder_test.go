package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellflow/shellflow/pkg/channels/gochannel"
	"github.com/shellflow/shellflow/pkg/eventbus"
	"github.com/shellflow/shellflow/pkg/events"
)

func TestRecorderRecordsPerSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	recorder := eventbus.NewRecorder(0)
	recorder.Register(bus)
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "sess-a", events.SessionStarted{
		BaseEvent:          events.BaseEvent{ID: "evt-1", Type: events.SessionStartedEvent, SessionID: "sess-a"},
		AggregatedScriptID: "nightly-audit",
	}))
	require.NoError(t, bus.Publish(ctx, "sess-b", events.StepProgress{
		BaseEvent: events.BaseEvent{ID: "evt-2", Type: events.StepProgressEvent, SessionID: "sess-b"},
		StepOrder: 1,
		Phase:     events.PhaseExecuting,
	}))
	require.NoError(t, bus.Publish(ctx, "sess-a", events.SessionCompleted{
		BaseEvent: events.BaseEvent{ID: "evt-3", Type: events.SessionCompletedEvent, SessionID: "sess-a"},
		Duration:  time.Second,
	}))

	feedA := recorder.SessionEvents("sess-a")
	require.Len(t, feedA, 2)
	assert.Equal(t, events.SessionStartedEvent, feedA[0].GetType())
	assert.Equal(t, events.SessionCompletedEvent, feedA[1].GetType())

	feedB := recorder.SessionEvents("sess-b")
	require.Len(t, feedB, 1)
	assert.Equal(t, events.StepProgressEvent, feedB[0].GetType())

	recorder.Forget("sess-a")
	assert.Empty(t, recorder.SessionEvents("sess-a"))
}

func TestRecorderDropsOldestBeyondLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	recorder := eventbus.NewRecorder(2)
	recorder.Register(bus)
	require.NoError(t, bus.Subscribe(ctx))

	for i := 1; i <= 3; i++ {
		require.NoError(t, bus.Publish(ctx, "sess-a", events.StepProgress{
			BaseEvent: events.BaseEvent{Type: events.StepProgressEvent, SessionID: "sess-a"},
			StepOrder: i,
		}))
	}

	feed := recorder.SessionEvents("sess-a")
	require.Len(t, feed, 2)
	assert.Equal(t, 2, feed[0].(*events.StepProgress).StepOrder)
	assert.Equal(t, 3, feed[1].(*events.StepProgress).StepOrder)
}
