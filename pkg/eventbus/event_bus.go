// Package eventbus provides the event transport used to broadcast
// execution lifecycle events to external real-time consumers.
package eventbus

import (
	"context"

	"github.com/relayworks/relay/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// Broadcaster is the engine-facing side: one event, keyed by execution id.
type Broadcaster interface {
	Broadcast(ctx context.Context, executionID string, event Event) error
}

type EventHandler func(ctx context.Context, event any) error

// EventBus is a broadcaster plus the subscription surface consumed by
// real-time transports (UI push, audit).
type EventBus interface {
	Broadcaster
	Handle(eventType events.EventType, handler EventHandler)
	Subscribe(ctx context.Context) error
	Close() error
	GenerateID() string
}
