package chatsync

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Subscriber Registry
// ============================================================================

// EventHandler receives the payload of an event of the subscribed type.
type EventHandler func(payload json.RawMessage)

// EnvelopeHandler receives whole envelopes (wildcard subscribers).
type EnvelopeHandler func(env Envelope)

// Subscription is the handle returned by On, Once and OnAny.
type Subscription struct {
	key     EventType
	handler func(Envelope)
	removed atomic.Bool
	reg     *registry
}

// Unsubscribe removes the handler. It is idempotent and safe to call from
// inside a handler.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.reg == nil {
		return
	}
	s.reg.remove(s)
}

// registry maps event types to subscribers in registration order. Dispatch
// iterates a snapshot taken under the lock, so handlers may subscribe or
// unsubscribe freely; a handler removed mid-dispatch is skipped.
type registry struct {
	mu       sync.RWMutex
	handlers map[EventType][]*Subscription
	log      *slog.Logger
}

func newRegistry(log *slog.Logger) *registry {
	return &registry{
		handlers: make(map[EventType][]*Subscription),
		log:      log,
	}
}

func (r *registry) add(key EventType, h func(Envelope)) *Subscription {
	sub := &Subscription{key: key, handler: h, reg: r}
	r.insert(sub)
	return sub
}

func (r *registry) insert(sub *Subscription) {
	r.mu.Lock()
	r.handlers[sub.key] = append(r.handlers[sub.key], sub)
	r.mu.Unlock()
}

func (r *registry) remove(sub *Subscription) {
	if sub.removed.Swap(true) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.handlers[sub.key]
	for i, s := range subs {
		if s == sub {
			// Copy so snapshots held by in-flight dispatches stay intact.
			next := make([]*Subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(r.handlers, sub.key)
			} else {
				r.handlers[sub.key] = next
			}
			return
		}
	}
}

func (r *registry) snapshot(key EventType) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[key]
}

func (r *registry) count(key EventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[key])
}

// dispatch runs exact-type subscribers, then wildcard subscribers.
func (r *registry) dispatch(env Envelope) {
	r.emit(env)
	for _, sub := range r.snapshot(wildcard) {
		r.invoke(sub, env)
	}
}

// emit runs exact-type subscribers only. Synthetic local events use it.
func (r *registry) emit(env Envelope) {
	for _, sub := range r.snapshot(env.Type) {
		r.invoke(sub, env)
	}
}

func (r *registry) invoke(sub *Subscription, env Envelope) {
	if sub.removed.Load() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("chatsync: subscriber panicked", "type", env.Type, "panic", rec)
		}
	}()
	sub.handler(env)
}
