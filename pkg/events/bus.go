// Package events is a small synchronous publish/subscribe bus used by the
// engine to announce changes to the index.
package events

import (
	"log/slog"
	"sync"
)

// Event names published by the engine.
const (
	IndexReady        = "index-ready"
	VectorsUpdated    = "vectors-updated"
	DocumentDeleted   = "document-deleted"
	CollectionDeleted = "collection-deleted"
	IndexCleared      = "index-cleared"
)

// Change is the payload of the mutation events.
type Change struct {
	Added        []string `json:"added,omitempty"`
	Deleted      []string `json:"deleted,omitempty"`
	DocumentID   string   `json:"document_id,omitempty"`
	CollectionID string   `json:"collection_id,omitempty"`
	// Total is the number of indexed vectors after the change.
	Total int `json:"total"`
}

// Event is delivered to every matching handler.
type Event struct {
	Name    string
	Payload any
}

// Handler receives events. It runs on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	name    string // empty matches every event
	handler Handler
}

// Bus delivers each published event to the subscribed handlers, in the order
// they subscribed, before Publish returns. A panicking handler is logged and
// does not stop delivery to the rest.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for every event. The returned function removes it.
func (b *Bus) Subscribe(h Handler) func() {
	return b.SubscribeTo("", h)
}

// SubscribeTo registers h for events called name.
func (b *Bus) SubscribeTo(name string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event synchronously. Handlers may subscribe or
// unsubscribe while being called; the change applies from the next Publish.
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	ev := Event{Name: name, Payload: payload}
	for _, s := range subs {
		if s.name != "" && s.name != name {
			continue
		}
		deliver(s.handler, ev)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[EVENTS] Handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	h(ev)
}
