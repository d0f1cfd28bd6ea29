package framework

import (
	"context"
	"sync"
)

// BusClient is the event-publishing surface a module is handed so it can
// announce state changes without importing the Agent orchestrator
// directly, mirroring the original's fan-out-to-subscribers contract.
type BusClient interface {
	// Publish fan-outs an event (e.g. "promise.outcome", "policy.reloaded",
	// "peer.seen") to every registered subscriber.
	Publish(ctx context.Context, event string, payload any) error
}

// Subscriber receives events published on an EventBus.
type Subscriber func(ctx context.Context, event string, payload any)

// EventBus is an in-process publish/subscribe bus. The Agent owns one
// instance, hands a BusClient view of it to each module it builds, and
// publishes "agent.started" and "agent.stopped" on it. The actuation
// pipeline does not publish on the bus.
type EventBus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus { return &EventBus{} }

// Subscribe registers fn to receive every event published after this
// call.
func (b *EventBus) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish fan-outs event/payload to every current subscriber,
// synchronously and in registration order.
func (b *EventBus) Publish(ctx context.Context, event string, payload any) error {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(ctx, event, payload)
	}
	return nil
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
