// internal/handler/event_bus.go
package handler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"device-scanner/internal/service"
)

// AllEvents subscribes to every notification type
const AllEvents = "*"

// EventBus fans device notifications out to subscribers. It implements
// service.Publisher.
type EventBus struct {
	subscribers map[string][]chan service.Notification
	events      chan service.Notification
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan service.Notification),
		events:      make(chan service.Notification, 256),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes published notifications until ctx is done
func (eb *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-eb.events:
			eb.distribute(n)
		}
	}
}

// Publish queues a notification. It never blocks the device service.
func (eb *EventBus) Publish(n service.Notification) {
	select {
	case eb.events <- n:
	default:
		eb.logger.Warn("Event bus full, dropping notification",
			zap.String("event_type", string(n.Type)),
			zap.String("port", n.PortID),
		)
	}
}

// Subscribe returns a channel of notifications of the given type, or of all
// types for AllEvents, and a function that cancels the subscription.
func (eb *EventBus) Subscribe(eventType string) (<-chan service.Notification, func()) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	ch := make(chan service.Notification, 64)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			eb.mutex.Lock()
			defer eb.mutex.Unlock()

			subs := eb.subscribers[eventType]
			for i, s := range subs {
				if s == ch {
					eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// distribute hands a notification to matching subscribers, skipping slow ones
func (eb *EventBus) distribute(n service.Notification) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, key := range []string{string(n.Type), AllEvents} {
		for _, ch := range eb.subscribers[key] {
			select {
			case ch <- n:
			default:
				eb.logger.Warn("Subscriber is slow, skipping notification",
					zap.String("event_type", string(n.Type)),
				)
			}
		}
	}
}
