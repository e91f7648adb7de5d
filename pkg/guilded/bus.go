// Copyright 2024-2026 Aiku AI

package guilded

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type subscription struct {
	id      uint64
	handler func(Event)
}

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine, typed subscribers first. A panicking handler is
// logged and does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	typed  map[EventType][]subscription
	all    []subscription
	nextID atomic.Uint64
	log    zerolog.Logger
}

// NewBus returns a bus without subscribers.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		typed: make(map[EventType][]subscription),
		log:   log,
	}
}

// Publish delivers evt to every matching subscriber.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	typed := b.typed[evt.Type()]
	all := b.all
	b.mu.RUnlock()

	for _, sub := range typed {
		b.deliver(evt, sub)
	}
	for _, sub := range all {
		b.deliver(evt, sub)
	}
}

func (b *Bus) deliver(evt Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event", string(evt.Type())).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	sub.handler(evt)
}

// Subscribe registers handler for one event type and returns a function
// that removes it.
func (b *Bus) Subscribe(t EventType, handler func(Event)) func() {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.typed[t] = append(slices.Clip(b.typed[t]), subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[t] = without(b.typed[t], id)
	}
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler func(Event)) func() {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.all = append(slices.Clip(b.all), subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

// without returns a copy of subs minus id so snapshots held by Publish
// stay intact.
func without(subs []subscription, id uint64) []subscription {
	return slices.DeleteFunc(slices.Clone(subs), func(s subscription) bool {
		return s.id == id
	})
}

// On subscribes fn to the event type T on bus.
func On[T Event](bus *Bus, fn func(T)) func() {
	var zero T
	return bus.Subscribe(zero.Type(), func(evt Event) {
		if typed, ok := evt.(T); ok {
			fn(typed)
		}
	})
}
