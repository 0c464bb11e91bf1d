// Package eventbus carries session and step events over a message bus.
package eventbus

import (
	"context"

	"github.com/shellflow/shellflow/pkg/events"
)

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	Publish(ctx context.Context, key string, event events.Event) error
	Subscribe(ctx context.Context) error
	Handle(eventType events.EventType, handler EventHandler)
	GenerateID() string
	Close() error
}
