package app

import (
	"sync"
	"time"

	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// Handler receives bus events. Handlers run on the publishing goroutine and
// must not block.
type Handler func(domain.BusEvent)

// EventBus fans outward registry notifications out to subscribers
type EventBus struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	closed   bool
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger:   logger,
		now:      time.Now,
		handlers: make(map[int]Handler),
	}
}

// Subscribe registers h and returns a function removing it
func (b *EventBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeChan delivers events on a buffered channel. Events are dropped
// when the channel is full. The channel is closed on unsubscribe.
func (b *EventBus) SubscribeChan(buffer int) (<-chan domain.BusEvent, func()) {
	ch := make(chan domain.BusEvent, buffer)
	var mu sync.Mutex
	open := true

	unsubscribe := b.Subscribe(func(ev domain.BusEvent) {
		mu.Lock()
		defer mu.Unlock()
		if !open {
			return
		}
		select {
		case ch <- ev:
		default:
			b.logger.Warn("Dropping event for slow subscriber", zap.String("topic", ev.Topic))
		}
	})

	return ch, func() {
		unsubscribe()
		mu.Lock()
		if open {
			open = false
			close(ch)
		}
		mu.Unlock()
	}
}

// Publish delivers payload under topic to every subscriber
func (b *EventBus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	ev := domain.BusEvent{Topic: topic, Payload: payload, Timestamp: b.now().UTC()}
	for _, h := range handlers {
		h(ev)
	}
}

// SubscriberCount returns the number of registered handlers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Close drops every subscriber. Later publishes are ignored.
func (b *EventBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.handlers = make(map[int]Handler)
	b.mu.Unlock()
}
