package eventing

import (
	"context"
	"errors"
	"sync"

	"hydroponics-cloud/internal/observability/metrics"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// Unsubscribe removes a previously registered handler. Calling it more than once is a no-op.
type Unsubscribe func()

// Publisher publishes change events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Bus delivers change events to subscribed handlers.
type Bus interface {
	Publisher
	Subscribe(eventType string, handler EventHandler) Unsubscribe
}

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventing: nil event")

// ErrInvalidEventType is returned when the event type cannot be determined.
var ErrInvalidEventType = errors.New("eventing: invalid event type")

// InMemoryBus is an in-process event bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]subscription
}

type subscription struct {
	id      uint64
	handler EventHandler
}

// NewInMemoryBus constructs a new in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]subscription)}
}

// Publish dispatches an event to all handlers of its type in subscription order.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		metrics.IncBusPublish(metrics.ResultError)
		return ErrNilEvent
	}
	eventType := EventType(event)
	if eventType == "" {
		metrics.IncBusPublish(metrics.ResultError)
		return ErrInvalidEventType
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		metrics.IncBusPublish(metrics.ResultError)
	} else {
		metrics.IncBusPublish(metrics.ResultSuccess)
	}
	return firstErr
}

// Subscribe registers a handler for an event type.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) Unsubscribe {
	if eventType == "" || handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

// HandlerCount returns the number of handlers registered for an event type.
func (b *InMemoryBus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

func (b *InMemoryBus) remove(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[eventType]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// SubscribeTyped registers a handler that only receives events of type T.
func SubscribeTyped[T any](bus Bus, handler func(ctx context.Context, event T) error) Unsubscribe {
	return bus.Subscribe(EventTypeOf[T](), func(ctx context.Context, event any) error {
		evt, ok := event.(T)
		if !ok {
			if ptr, ok := event.(*T); ok && ptr != nil {
				evt = *ptr
			} else {
				return ErrInvalidEventType
			}
		}
		return handler(ctx, evt)
	})
}
