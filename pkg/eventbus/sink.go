package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shellflow/shellflow/pkg/events"
	"github.com/shellflow/shellflow/pkg/models"
)

// BusSink adapts an EventBus to the core's progress sink. Publish failures
// are logged and swallowed: progress delivery must never abort a workflow.
type BusSink struct {
	bus      EventBus
	runnerID string
	logger   *slog.Logger
}

func NewBusSink(bus EventBus, runnerID string, logger *slog.Logger) *BusSink {
	return &BusSink{
		bus:      bus,
		runnerID: runnerID,
		logger:   logger.With("module", "progress_sink"),
	}
}

func (s *BusSink) base(eventType events.EventType, sessionID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        "evt-" + uuid.New().String()[:8],
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		RunnerID:  s.runnerID,
	}
}

func (s *BusSink) Notify(sessionID, stepName string, phase events.Phase, percentage int, message string) {
	s.Publish(events.StepProgress{
		BaseEvent:  s.base(events.StepProgressEvent, sessionID),
		StepName:   stepName,
		Phase:      phase,
		Percentage: percentage,
		Message:    message,
	})
}

func (s *BusSink) NotifyInteractionRequired(sessionID string, interaction *models.Interaction) {
	s.Publish(events.InteractionRequested{
		BaseEvent:   s.base(events.InteractionRequestedEvent, sessionID),
		Interaction: interaction,
	})
}

func (s *BusSink) Publish(event events.Event) {
	var sessionID string
	if based, ok := event.(interface{ GetSessionID() string }); ok {
		sessionID = based.GetSessionID()
	}

	if err := s.bus.Publish(context.Background(), sessionID, event); err != nil {
		s.logger.Warn("failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
