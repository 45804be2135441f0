package cdp

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// EventDisconnected is emitted on a connection's bus when the remote side
// closes the socket or it fails. It is never emitted for an explicit Close.
const EventDisconnected = "Connection.disconnected"

// Handler receives an event's params. Handlers run on the connection's reader
// goroutine and must return quickly.
type Handler func(params json.RawMessage)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	id   uint64
	name string
}

// Name returns the event name the subscription listens to.
func (s Subscription) Name() string { return s.name }

type subscriber struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus delivers events by name to subscribers in registration order.
type Bus struct {
	log  *zap.Logger
	mu   sync.Mutex
	next uint64
	subs map[string][]*subscriber
}

// NewBus creates an empty event bus.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:  log,
		subs: make(map[string][]*subscriber),
	}
}

// On registers a persistent handler for name.
func (b *Bus) On(name string, h Handler) Subscription {
	return b.add(name, h, false)
}

// Once registers a handler that is removed after its first delivery.
func (b *Bus) Once(name string, h Handler) Subscription {
	return b.add(name, h, true)
}

func (b *Bus) add(name string, h Handler, once bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs[name] = append(b.subs[name], &subscriber{id: b.next, handler: h, once: once})
	return Subscription{id: b.next, name: name}
}

// Off removes a subscription. It reports whether the subscription was still
// registered.
func (b *Bus) Off(s Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.name]
	for i, sub := range list {
		if sub.id == s.id {
			b.subs[s.name] = append(list[:i:i], list[i+1:]...)
			if len(b.subs[s.name]) == 0 {
				delete(b.subs, s.name)
			}
			return true
		}
	}
	return false
}

// Emit delivers params to every handler registered for name. One-shot
// handlers are detached before any handler runs, so concurrent emits never
// deliver to them twice. A panicking handler is logged and skipped.
func (b *Bus) Emit(name string, params json.RawMessage) int {
	b.mu.Lock()
	list := b.subs[name]
	if len(list) == 0 {
		b.mu.Unlock()
		return 0
	}
	targets := make([]*subscriber, len(list))
	copy(targets, list)
	kept := list[:0:0]
	for _, sub := range list {
		if !sub.once {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, name)
	} else {
		b.subs[name] = kept
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(name, sub, params)
	}
	return len(targets)
}

func (b *Bus) deliver(name string, sub *subscriber, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("event handler panicked", zap.String("event", name), zap.Any("panic", r))
		}
	}()
	sub.handler(params)
}

// Len returns the number of handlers registered for name.
func (b *Bus) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*subscriber)
}
