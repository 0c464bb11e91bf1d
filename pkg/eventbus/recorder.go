package eventbus

import (
	"context"
	"sync"

	"github.com/shellflow/shellflow/pkg/events"
)

const defaultRecorderLimit = 256

// Recorder consumes the full event stream and keeps the most recent events
// per session so API callers can poll a session's progress without a Kafka
// client of their own. Oldest events are dropped once a session exceeds the
// limit.
type Recorder struct {
	mu    sync.Mutex
	limit int
	feed  map[string][]events.Event
}

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultRecorderLimit
	}

	return &Recorder{limit: limit, feed: make(map[string][]events.Event)}
}

// Register attaches the recorder to every event type the bus carries. Call
// before Subscribe.
func (r *Recorder) Register(bus EventBus) {
	for _, eventType := range events.AllTypes() {
		bus.Handle(eventType, r.record)
	}
}

func (r *Recorder) record(_ context.Context, raw any) error {
	event, ok := raw.(events.Event)
	if !ok {
		return nil
	}

	sessionID := ""
	if based, ok := raw.(interface{ GetSessionID() string }); ok {
		sessionID = based.GetSessionID()
	}

	if sessionID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	feed := append(r.feed[sessionID], event)
	if len(feed) > r.limit {
		feed = feed[len(feed)-r.limit:]
	}

	r.feed[sessionID] = feed

	return nil
}

// SessionEvents returns the recorded events for one session in arrival
// order.
func (r *Recorder) SessionEvents(sessionID string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]events.Event, len(r.feed[sessionID]))
	copy(out, r.feed[sessionID])

	return out
}

// Forget drops a session's recorded events, typically after the session is
// deleted from the store.
func (r *Recorder) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.feed, sessionID)
}
