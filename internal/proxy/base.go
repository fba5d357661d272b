// Package proxy implements the client-side proxy lifecycle: per-object
// request forwarding, event subscription bookkeeping, population of
// server-provided state, and finalization/resurrection.
package proxy

import (
	"runtime"
	"sync"

	"github.com/wirebond/objectrpc/internal/wire"
)

// Caller is the subset of a client dispatcher a proxy needs: forwarding
// property/method/event requests to the server and reporting its own
// finalization. Implemented by internal/dispatch.ClientDispatcher; kept
// minimal here so this package does not depend on internal/dispatch.
type Caller interface {
	Get(dtoGuid wire.Identifier, property string) (interface{}, error)
	Set(dtoGuid wire.Identifier, property string, value interface{}) error
	Invoke(dtoGuid wire.Identifier, method string, args []interface{}) (interface{}, error)
	EventAdd(dtoGuid wire.Identifier, event string) error
	EventRemove(dtoGuid wire.Identifier, event string) error
	SendProxyFinalized(dtoGuid wire.Identifier)
}

// Base is embedded by generated/hand-written proxy types to obtain the
// DTO capability plus request forwarding and event bookkeeping.
type Base struct {
	mu       sync.Mutex
	id       wire.Identifier
	typeName string
	session  Caller

	populated    bool
	pending      map[string]interface{} // property values buffered before population completes
	cached       map[string]interface{} // last known property values, updated on PropertyChanged
	handlers     map[string][]Handler
	nextHandlers int
}

// Handler receives event notification arguments.
type Handler func(args ...interface{})

// NewBase constructs a proxy Base bound to id on session. Registers a
// runtime cleanup that pushes id into the process-wide FinalizeRequested
// set once this proxy (and the Base embedded within it) becomes
// unreachable — runtime.AddCleanup is Go's non-resurrecting substitute for
// a resurrectable weak reference.
func NewBase(id wire.Identifier, typeName string, session Caller) *Base {
	b := &Base{
		id:       id,
		typeName: typeName,
		session:  session,
		pending:  make(map[string]interface{}),
		cached:   make(map[string]interface{}),
		handlers: make(map[string][]Handler),
	}
	runtime.AddCleanup(b, func(args cleanupArgs) {
		globalFinalizeRequested.add(args.id, args.session)
	}, cleanupArgs{id: id, session: session})
	return b
}

type cleanupArgs struct {
	id      wire.Identifier
	session Caller
}

// ReferenceID implements wire.Identifiable.
func (b *Base) ReferenceID() wire.Identifier { return b.id }

// TypeName implements wire.Identifiable.
func (b *Base) TypeName() string { return b.typeName }

// SetProperty stores a property value arriving from the server. If the
// proxy is not yet populated, the value is buffered until population
// completes.
func (b *Base) SetProperty(name string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.populated {
		b.pending[name] = value
		return
	}
	b.cached[name] = value
}

// Property returns the last known value of a cached property.
func (b *Base) Property(name string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.cached[name]
	return v, ok
}

// Populate marks the proxy populated, flushing buffered property values
// (newly-arrived fields override previously-buffered ones, since they are
// applied in arrival order) into the cache. Called by
// ClientResolver.TakeProxiesToPopulate's drain routine at the end of a
// top-level decode.
func (b *Base) Populate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range b.pending {
		b.cached[k] = v
	}
	b.pending = make(map[string]interface{})
	b.populated = true
}

// Subscribe attaches handler to event. The first subscriber for a given
// event name on this proxy sends EventAdd to the server; subsequent
// subscribers reuse that subscription, since EventAdd is idempotent per
// (DtoGuid, EventName) and the proxy only needs to issue it once.
func (b *Base) Subscribe(event string, h Handler) (int, error) {
	b.mu.Lock()
	first := len(b.handlers[event]) == 0
	b.nextHandlers++
	token := b.nextHandlers
	b.handlers[event] = append(b.handlers[event], h)
	b.mu.Unlock()

	if first {
		if err := b.session.EventAdd(b.id, event); err != nil {
			b.mu.Lock()
			b.handlers[event] = nil
			b.mu.Unlock()
			return 0, err
		}
	}
	return token, nil
}

// Unsubscribe detaches every handler for event and, since this proxy
// implementation does not track per-handler removal, issues EventRemove
// once the last handler is gone.
func (b *Base) Unsubscribe(event string) error {
	b.mu.Lock()
	_, had := b.handlers[event]
	delete(b.handlers, event)
	b.mu.Unlock()
	if !had {
		return nil
	}
	return b.session.EventRemove(b.id, event)
}

// Deliver routes an EventNotification to event's handlers. If event is
// PropertyChanged, the caller (internal/dispatch.ClientDispatcher) is
// responsible for having already updated the cached property value
// before calling Deliver.
func (b *Base) Deliver(event string, args ...interface{}) {
	b.mu.Lock()
	hs := append([]Handler(nil), b.handlers[event]...)
	b.mu.Unlock()
	for _, h := range hs {
		h(args...)
	}
}

// Get performs a synchronous property read against the server and caches
// the result, replacing any value still buffered for that property.
func (b *Base) Get(name string) (interface{}, error) {
	v, err := b.session.Get(b.id, name)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.cached[name] = v
	delete(b.pending, name)
	b.mu.Unlock()
	return v, nil
}

// Set performs a synchronous property write against the server.
func (b *Base) Set(name string, value interface{}) error {
	return b.session.Set(b.id, name, value)
}

// Invoke calls a method on the server object this proxy represents.
func (b *Base) Invoke(method string, args ...interface{}) (interface{}, error) {
	return b.session.Invoke(b.id, method, args)
}
