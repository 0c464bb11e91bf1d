// Package interaction manages the pending human-input requests a workflow
// blocks on. The engine requests an interaction and awaits its handle; an
// outer surface (API, CLI) responds to it by id.
package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shellflow/shellflow/pkg/models"
)

// Answer is the resolved outcome delivered to an awaiting engine.
type Answer struct {
	Value     string
	Sensitive bool
	// TimedOut marks answers substituted by the timeout default rather than
	// recorded from a human.
	TimedOut bool
}

// Handle is an awaitable pending interaction.
type Handle struct {
	Interaction *models.Interaction
	answer      chan Answer
}

// Manager is the pending-interaction registry. Safe for concurrent use by
// many sessions and responders.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Handle
	logger  *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		pending: make(map[string]*Handle),
		logger:  logger,
	}
}

// Request registers a pending interaction for a session step and returns its
// handle.
func (m *Manager) Request(sessionID string, stepOrder int, mode models.InteractionMode, prompt string, options []string) *Handle {
	handle := &Handle{
		Interaction: models.NewInteraction(sessionID, stepOrder, mode, prompt, options),
		answer:      make(chan Answer, 1),
	}

	m.mu.Lock()
	m.pending[handle.Interaction.ID] = handle
	m.mu.Unlock()

	m.logger.Info("Interaction requested",
		"interaction_id", handle.Interaction.ID,
		"session_id", sessionID,
		"step_order", stepOrder,
		"type", string(mode))

	return handle
}

// Respond sanitizes a raw response and resolves the interaction. A response
// to an unknown id or to an already resolved interaction is rejected.
func (m *Manager) Respond(interactionID, raw string) error {
	m.mu.Lock()
	handle, ok := m.pending[interactionID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("interaction %q: %w", interactionID, models.ErrInteractionNotFound)
	}

	value, err := sanitize(handle.Interaction, raw)
	if err != nil {
		return err
	}

	answer := Answer{Value: value, Sensitive: handle.Interaction.Sensitive}

	if !m.resolve(handle, answer) {
		return fmt.Errorf("interaction %q: %w", interactionID, models.ErrInteractionResolved)
	}

	return nil
}

// resolve records the answer exactly once and removes the handle from the
// pending set. Returns false when the interaction was already resolved.
func (m *Manager) resolve(handle *Handle, answer Answer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if handle.Interaction.Resolved() {
		return false
	}

	now := time.Now().UTC()
	handle.Interaction.RespondedAt = &now

	recorded := answer.Value
	if answer.Sensitive {
		recorded = "<redacted>"
	}

	handle.Interaction.Response = &recorded

	delete(m.pending, handle.Interaction.ID)
	handle.answer <- answer

	return true
}

// Await blocks until the interaction is responded to, the timeout elapses or
// ctx is done. A timeout substitutes the type's default answer unless
// mandatory is set, in which case it is an error.
func (m *Manager) Await(ctx context.Context, handle *Handle, timeout time.Duration, mandatory bool) (Answer, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case answer := <-handle.answer:
		return answer, nil

	case <-timer.C:
		if mandatory {
			m.mu.Lock()
			delete(m.pending, handle.Interaction.ID)
			m.mu.Unlock()

			return Answer{}, models.NewFlowError(models.ErrKindTimeout,
				"respond to the interaction and retry the workflow",
				fmt.Errorf("mandatory interaction %s unanswered after %s", handle.Interaction.ID, timeout))
		}

		fallback := Answer{
			Value:     defaultAnswer(handle.Interaction),
			Sensitive: handle.Interaction.Sensitive,
			TimedOut:  true,
		}

		// Losing the race against a concurrent Respond means a real answer
		// is already buffered; prefer it.
		if !m.resolve(handle, fallback) {
			return <-handle.answer, nil
		}

		m.logger.Warn("Interaction timed out, default answer substituted",
			"interaction_id", handle.Interaction.ID,
			"session_id", handle.Interaction.SessionID,
			"default", fallback.Value)

		return fallback, nil

	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, handle.Interaction.ID)
		m.mu.Unlock()

		return Answer{}, ctx.Err()
	}
}

// Pending lists unresolved interactions, optionally filtered by session.
func (m *Manager) Pending(sessionID string) []*models.Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Interaction, 0, len(m.pending))

	for _, handle := range m.pending {
		if sessionID == "" || handle.Interaction.SessionID == sessionID {
			out = append(out, handle.Interaction)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}
