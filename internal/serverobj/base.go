// Package serverobj provides the per-object server-side adornment DTOs
// embed: an identifier, assigned once by the server resolver, and an
// event emitter used to propagate PropertyChanged (and any other named
// event) to the resolver and, from there, to subscribed sessions.
package serverobj

import (
	"sync"

	"github.com/wirebond/objectrpc/internal/wire"
)

// PropertyChangedEvent is the well-known event name emitted whenever a
// property setter calls NotifyPropertyChanged.
const PropertyChangedEvent = "PropertyChanged"

// Handler receives the arguments passed to Emit.
type Handler func(args ...interface{})

type subscriber struct {
	id      int
	handler Handler
}

// Base is embedded by application DTOs to obtain the DTO capability
// (wire.Identifiable) and event emission. It must be embedded as a
// pointer-free value is fine; methods have pointer receivers so DTOs
// should embed *Base or Base with the DTO itself held by pointer.
type Base struct {
	mu       sync.RWMutex
	id       wire.Identifier
	typeName string

	nextSubID   int
	subscribers map[string][]subscriber
}

// NewBase constructs a Base for a DTO of the given type name (the name
// used to key internal/registry and to tag wire references).
func NewBase(typeName string) *Base {
	return &Base{typeName: typeName, subscribers: make(map[string][]subscriber)}
}

// ReferenceID implements wire.Identifiable.
func (b *Base) ReferenceID() wire.Identifier {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// TypeName implements wire.Identifiable.
func (b *Base) TypeName() string {
	return b.typeName
}

// SetReferenceID assigns id the first time it is called; subsequent
// calls are no-ops that report false, keeping assignment idempotent.
func (b *Base) SetReferenceID(id wire.Identifier) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.id.IsNil() {
		return false
	}
	b.id = id
	return true
}

// Subscribe attaches handler to the named event, returning a token usable
// with Unsubscribe. Multiple subscribers (one per interested session) can
// coexist on the same event name.
func (b *Base) Subscribe(event string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[event] = append(b.subscribers[event], subscriber{id: id, handler: handler})
	return id
}

// Unsubscribe removes the subscriber previously returned by Subscribe. A
// no-op if the token is already gone.
func (b *Base) Unsubscribe(event string, token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[event]
	for i, s := range subs {
		if s.id == token {
			b.subscribers[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit invokes every subscriber of event with args. Handlers are called
// synchronously but outside the lock, so a handler that re-enters
// Subscribe/Unsubscribe does not deadlock.
func (b *Base) Emit(event string, args ...interface{}) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subscribers[event]))
	copy(subs, b.subscribers[event])
	b.mu.RUnlock()
	for _, s := range subs {
		s.handler(args...)
	}
}

// NotifyPropertyChanged is the helper a DTO's setters call after mutating
// a property, emitting PropertyChangedEvent with (propertyName, newValue).
func (b *Base) NotifyPropertyChanged(propertyName string, newValue interface{}) {
	b.Emit(PropertyChangedEvent, propertyName, newValue)
}
