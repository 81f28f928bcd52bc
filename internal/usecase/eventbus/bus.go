package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"hostlink/internal/domain"
)

type subscriber struct {
	id      uint64
	matches func(domain.EventType) bool
	handler domain.EventHandler
}

// Bus is an in-process event bus carrying session lifecycle and tool-call
// events to their consumers. Handlers run asynchronously; a slow audit sink
// never delays the session registry.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	closed bool // guarded by mu; checked together with the wg.Add below
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Publish fans out an event to every matching subscriber, each in its own
// goroutine. A panicking handler is recovered and logged. The closed check
// and the WaitGroup adds happen under the same lock Close takes, so Close
// can never observe the group at zero while a publish is still adding.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	matched := make([]subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(event.Type) {
			matched = append(matched, sub)
		}
	}
	b.wg.Add(len(matched))
	b.mu.RUnlock()

	for _, sub := range matched {
		go func(sub subscriber) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"event", string(event.Type),
						"panic", r,
					)
				}
			}()
			sub.handler(ctx, event)
		}(sub)
	}
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(func(t domain.EventType) bool { return t == eventType }, handler)
}

// SubscribeAll registers a handler for every event and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(func(domain.EventType) bool { return true }, handler)
}

func (b *Bus) add(matches func(domain.EventType) bool, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs = append(b.subs, subscriber{id: id, matches: matches, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Close stops accepting publishes and waits for in-flight handlers to
// finish. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}
