// Package resolver implements the two reference tables that live at
// opposite ends of the wire: ServerResolver holds strong references to
// every DTO a session has exposed, keyed by the identifier it minted;
// ClientResolver holds weak references to every proxy a session has
// materialized, resurrecting one from a bare identifier when the server
// names it again after the proxy was collected but before the matching
// ProxyFinalized was sent.
package resolver

import (
	"sync"

	"github.com/wirebond/objectrpc/internal/serverobj"
	"github.com/wirebond/objectrpc/internal/wire"
)

// settable is satisfied by serverobj.Base's promoted SetReferenceID.
type settable interface {
	SetReferenceID(wire.Identifier) bool
}

// eventSource is satisfied by serverobj.Base's promoted Subscribe/Unsubscribe.
type eventSource interface {
	Subscribe(event string, handler serverobj.Handler) int
	Unsubscribe(event string, token int)
}

// PropertyChangeHandler receives a tracked object's property-change events,
// forwarded by the resolver under the identifier it assigned the object.
// This is spec §4.2/§6's ReferencePropertyChanged observable.
type PropertyChangeHandler func(id wire.Identifier, propertyName string, newValue interface{})

// ServerResolver is the per-session strong-reference table on the server
// side: a DTO enters it on first serialization that references it, and
// leaves on session close or upon receiving ProxyFinalized from the
// owning client.
type ServerResolver struct {
	mu        sync.Mutex
	strong    map[wire.Identifier]wire.Identifiable
	propToken map[wire.Identifier]int
	onChange  PropertyChangeHandler
}

// NewServerResolver constructs an empty server resolver for one session.
func NewServerResolver() *ServerResolver {
	return &ServerResolver{
		strong:    make(map[wire.Identifier]wire.Identifiable),
		propToken: make(map[wire.Identifier]int),
	}
}

// OnReferencePropertyChanged registers the handler invoked whenever any
// object this resolver tracks emits PropertyChanged. The owning session
// registers this once, at dispatcher construction, and translates each
// call into an EventNotification for clients that have subscribed to that
// object's PropertyChanged event (see internal/dispatch.ServerDispatcher).
// Reads of the handler happen under the same mutex as writes, so it is
// safe to call this after objects are already tracked.
func (r *ServerResolver) OnReferencePropertyChanged(handler PropertyChangeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = handler
}

func (r *ServerResolver) referencePropertyChanged(id wire.Identifier, args []interface{}) {
	if len(args) != 2 {
		return
	}
	propName, ok := args[0].(string)
	if !ok {
		return
	}
	r.mu.Lock()
	handler := r.onChange
	r.mu.Unlock()
	if handler != nil {
		handler(id, propName, args[1])
	}
}

// IsReferenced reports whether obj exposes the DTO capability at all; the
// codec uses this to decide whether a value should be substituted by
// reference rather than serialized inline.
func (r *ServerResolver) IsReferenced(obj interface{}) bool {
	_, ok := obj.(wire.Identifiable)
	return ok
}

// GetOrAssignReference returns obj's identifier, minting and recording one
// on first exposure. Idempotent: a second call for the same object (even
// concurrently) returns the identifier assigned the first time, per spec
// §4.2's "GetOrAssignReference must be idempotent" invariant.
func (r *ServerResolver) GetOrAssignReference(obj wire.Identifiable) (wire.Identifier, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := obj.ReferenceID()
	if id.IsNil() {
		id = wire.NewIdentifier()
		if s, ok := obj.(settable); ok {
			s.SetReferenceID(id)
		}
	}
	if _, tracked := r.strong[id]; !tracked {
		r.strong[id] = obj
		// Subscribe once, on first exposure, so every property change this
		// object ever emits is forwarded through ReferencePropertyChanged
		// for as long as the object remains tracked — independent of
		// whether any particular session has EventAdd'd "PropertyChanged".
		if src, ok := obj.(eventSource); ok {
			r.propToken[id] = src.Subscribe(serverobj.PropertyChangedEvent, func(args ...interface{}) {
				r.referencePropertyChanged(id, args)
			})
		}
	}
	return id, obj.TypeName()
}

// ResolveReference looks up a previously exposed object by identifier.
func (r *ServerResolver) ResolveReference(id wire.Identifier) (wire.Identifiable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.strong[id]
	return obj, ok
}

// ResolveOrCreate implements codec.ReferenceReader so argument values
// referencing a server object the client is passing back can be decoded.
// The server never creates objects from a bare identifier — an unknown
// one is a protocol violation by the client, reported as UnknownTarget
// per the Open Question recorded in SPEC_FULL.md §8.
func (r *ServerResolver) ResolveOrCreate(id wire.Identifier, typeName string) (interface{}, error) {
	obj, ok := r.ResolveReference(id)
	if !ok {
		return nil, wire.NewError(wire.UnknownTarget, "no server object tracked for %s (type %s)", id, typeName)
	}
	return obj, nil
}

// RemoveReference drops id from the strong table, as happens on receiving
// ProxyFinalized from the client or on session close. The forwarding
// subscription installed by GetOrAssignReference is torn down with it.
func (r *ServerResolver) RemoveReference(id wire.Identifier) {
	r.mu.Lock()
	obj, tracked := r.strong[id]
	token, hadToken := r.propToken[id]
	delete(r.strong, id)
	delete(r.propToken, id)
	r.mu.Unlock()
	if tracked && hadToken {
		if src, ok := obj.(eventSource); ok {
			src.Unsubscribe(serverobj.PropertyChangedEvent, token)
		}
	}
}

// Subscribe attaches handler to the named event on the object currently
// identified by id, used by the server dispatcher to implement EventAdd.
// Returns wire.UnknownTarget if id is not (or no longer) tracked.
func (r *ServerResolver) Subscribe(id wire.Identifier, event string, handler serverobj.Handler) (int, error) {
	r.mu.Lock()
	obj, ok := r.strong[id]
	r.mu.Unlock()
	if !ok {
		return 0, wire.NewError(wire.UnknownTarget, "no server object tracked for %s", id)
	}
	src, ok := obj.(eventSource)
	if !ok {
		return 0, wire.NewError(wire.UnknownMember, "%s does not support events", obj.TypeName())
	}
	return src.Subscribe(event, handler), nil
}

// Unsubscribe detaches a previously Subscribe'd handler, used to implement
// EventRemove. A no-op if id is no longer tracked.
func (r *ServerResolver) Unsubscribe(id wire.Identifier, event string, token int) {
	r.mu.Lock()
	obj, ok := r.strong[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	if src, ok := obj.(eventSource); ok {
		src.Unsubscribe(event, token)
	}
}

// Snapshot returns every identifier currently held strongly, for session
// teardown bookkeeping (e.g. logging how many objects a closing session
// leaked references to).
func (r *ServerResolver) Snapshot() []wire.Identifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]wire.Identifier, 0, len(r.strong))
	for id := range r.strong {
		ids = append(ids, id)
	}
	return ids
}
