package events

import "github.com/shellflow/shellflow/pkg/models"

// Sink receives progress notifications from the core. Implementations carry
// them to a UI or bus; delivery failures must never abort the workflow, so
// nothing here returns an error.
type Sink interface {
	Notify(sessionID, stepName string, phase Phase, percentage int, message string)
	NotifyInteractionRequired(sessionID string, interaction *models.Interaction)
	Publish(event Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Notify(string, string, Phase, int, string) {}

func (NopSink) NotifyInteractionRequired(string, *models.Interaction) {}

func (NopSink) Publish(Event) {}
