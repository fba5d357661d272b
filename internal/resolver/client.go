package resolver

import (
	"sync"
	"weak"

	"github.com/wirebond/objectrpc/internal/proxy"
	"github.com/wirebond/objectrpc/internal/wire"
)

// Populatable is implemented by every proxy type (via the embedded
// proxy.Base's promoted Populate method): flushing buffered property
// values once a top-level decode that materialized the proxy completes.
type Populatable interface {
	Populate()
}

// weakRef erases the type parameter of a weak.Pointer[T] so ClientResolver
// can hold references to proxies of arbitrary registered types in one map.
type weakRef interface {
	value() interface{}
}

type typedWeak[T any] struct{ w weak.Pointer[T] }

func (t typedWeak[T]) value() interface{} {
	p := t.w.Value()
	if p == nil {
		return nil
	}
	return p
}

// ProxyFactory constructs a new proxy instance of a registered type and a
// weak reference to it, bound to id and able to reach session for request
// forwarding.
type ProxyFactory func(id wire.Identifier, session proxy.Caller) (obj interface{}, ref weakRef)

// RegisterProxyType registers the constructor for proxy type T under
// typeName. A free function rather than a ClientResolver method because
// weak.Make needs T fixed by the caller's generic instantiation — the
// resolver itself stays untyped so one instance can serve every DTO type a
// session encounters.
func RegisterProxyType[T any](r *ClientResolver, typeName string, construct func(id wire.Identifier, session proxy.Caller) *T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = func(id wire.Identifier, session proxy.Caller) (interface{}, weakRef) {
		ptr := construct(id, session)
		return ptr, typedWeak[T]{w: weak.Make(ptr)}
	}
}

// ClientResolver is the per-session weak-reference table on the client
// side. Proxies are held weakly so an application that drops every
// strong reference to one lets the Go runtime reclaim it; reclamation is
// detected via internal/proxy's finalization pump rather than by this
// table, which only ever observes a cleared weak.Pointer.
type ClientResolver struct {
	mu        sync.Mutex
	session   proxy.Caller
	factories map[string]ProxyFactory
	weakTable map[wire.Identifier]weakRef
	pending   []Populatable
}

// NewClientResolver constructs an empty client resolver bound to session.
func NewClientResolver(session proxy.Caller) *ClientResolver {
	return &ClientResolver{
		session:   session,
		factories: make(map[string]ProxyFactory),
		weakTable: make(map[wire.Identifier]weakRef),
	}
}

// ResolveOrCreate implements codec.ReferenceReader. If id is already
// backed by a live proxy, that same instance is returned (preserving
// identity, spec invariant I2). If id was previously seen but its proxy
// has since been collected, a fresh proxy is resurrected under the same
// identifier and any pending finalization for it is cancelled (spec
// §4.4). Otherwise a brand-new proxy is constructed.
func (r *ClientResolver) ResolveOrCreate(id wire.Identifier, typeName string) (interface{}, error) {
	r.mu.Lock()
	if ref, ok := r.weakTable[id]; ok {
		if v := ref.value(); v != nil {
			r.mu.Unlock()
			return v, nil
		}
		delete(r.weakTable, id)
	}
	factory, ok := r.factories[typeName]
	r.mu.Unlock()
	if !ok {
		return nil, wire.NewError(wire.UnknownTarget, "no proxy type registered for %q", typeName)
	}

	// Cancel any pending ProxyFinalized for id before constructing its
	// replacement: the factory calls the registered proxy type's
	// constructor, which embeds a fresh proxy.Base (unpopulated, with its
	// own cleanup registration) — a resurrected proxy needs nothing beyond
	// that, since there is no old instance left to rebind in place.
	proxy.Cancel(id)
	obj, ref := factory(id, r.session)

	r.mu.Lock()
	r.weakTable[id] = ref
	if p, ok := obj.(Populatable); ok {
		r.pending = append(r.pending, p)
	}
	r.mu.Unlock()
	return obj, nil
}

// Lookup returns the live proxy bound to id, if one currently exists,
// without creating or resurrecting one. Used to route an inbound
// EventNotification: if the proxy has already been collected there is
// nothing to deliver the event to.
func (r *ClientResolver) Lookup(id wire.Identifier) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.weakTable[id]
	if !ok {
		return nil, false
	}
	v := ref.value()
	return v, v != nil
}

// IsReferenced implements codec.ReferenceWriter: any value exposing the
// DTO capability (here, always a proxy previously received from the
// server) is wire-referenced rather than inlined.
func (r *ClientResolver) IsReferenced(obj interface{}) bool {
	_, ok := obj.(wire.Identifiable)
	return ok
}

// GetOrAssignReference implements codec.ReferenceWriter for the client
// side: a proxy's identifier was minted by the server when it was first
// exposed, so there is nothing to assign — this only ever echoes it back.
func (r *ClientResolver) GetOrAssignReference(obj wire.Identifiable) (wire.Identifier, string) {
	return obj.ReferenceID(), obj.TypeName()
}

// TakeProxiesToPopulate drains and returns every proxy created since the
// last call, for the client dispatcher to Populate() once a top-level
// decode has finished resolving every nested reference: a proxy's
// buffered property values aren't applied until decode completes, so a
// proxy referenced by a field of another proxy in the same message sees
// fully-formed data either way.
func (r *ClientResolver) TakeProxiesToPopulate() []Populatable {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}
