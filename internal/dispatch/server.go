// Package dispatch implements the two message-routing layers sitting on
// top of internal/session: ServerDispatcher interprets RootQuery/Query/
// Get/Set/EventAdd/EventRemove/ProxyFinalized against the registered DTO
// types; ClientDispatcher turns outbound property/method/event calls
// into requests and routes inbound EventNotification frames to the right
// proxy (Response/Exception frames are correlated by internal/session).
package dispatch

import (
	"log"
	"reflect"
	"sync"

	"github.com/wirebond/objectrpc/internal/align"
	"github.com/wirebond/objectrpc/internal/codec"
	"github.com/wirebond/objectrpc/internal/registry"
	"github.com/wirebond/objectrpc/internal/resolver"
	"github.com/wirebond/objectrpc/internal/serverobj"
	"github.com/wirebond/objectrpc/internal/session"
	"github.com/wirebond/objectrpc/internal/wire"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// notifier is satisfied by serverobj.Base's promoted NotifyPropertyChanged.
type notifier interface {
	NotifyPropertyChanged(name string, value interface{})
}

type delegateKey struct {
	dto   wire.Identifier
	event string
}

// ServerDispatcher answers inbound requests for one session against a
// fixed root object and a shared type registry. The delegate map tracks
// this session's own EventAdd subscriptions so EventAdd/EventRemove are
// idempotent per (DtoGuid, EventName) without leaking a subscription per
// duplicate EventAdd. For PropertyChanged specifically, the delegate entry
// gates delivery of notifications the resolver already forwards for every
// tracked object (see ServerResolver.OnReferencePropertyChanged) rather
// than installing a second, per-session subscription on the object itself.
type ServerDispatcher struct {
	root     wire.Identifiable
	registry *registry.Registry
	resolver *resolver.ServerResolver
	codec    codec.Codec

	mu        sync.Mutex
	delegates map[delegateKey]int
	session   *session.Session
}

// NewServerDispatcher constructs a dispatcher for one session exposing
// root as the object RootQuery resolves to.
func NewServerDispatcher(root wire.Identifiable, reg *registry.Registry, c codec.Codec) *ServerDispatcher {
	d := &ServerDispatcher{
		root:      root,
		registry:  reg,
		resolver:  resolver.NewServerResolver(),
		codec:     c,
		delegates: make(map[delegateKey]int),
	}
	d.resolver.OnReferencePropertyChanged(d.forwardPropertyChanged)
	return d
}

// BindSession attaches the session this dispatcher was constructed for.
// ReferencePropertyChanged forwarding (spec §4.2) fires from whichever
// goroutine mutates a tracked object's property, not necessarily the one
// handling the request that caused it, so it needs the session stashed
// rather than passed down the call stack. Call once, immediately after
// session.New.
func (d *ServerDispatcher) BindSession(s *session.Session) {
	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
}

// forwardPropertyChanged is registered with the resolver at construction
// time and fires for every property change on every object this
// dispatcher's resolver tracks, regardless of whether any client has
// EventAdd'd PropertyChanged. Delivery over the wire stays gated by the
// delegate map, matching spec §8 scenario 4 (no notification without a
// prior EventAdd, none after EventRemove); the notification payload is a
// lazy value reader so a notification sitting briefly in the write queue
// still reports whatever value is live when the writer serializes it,
// per spec §4.6.
func (d *ServerDispatcher) forwardPropertyChanged(id wire.Identifier, propertyName string, _ interface{}) {
	key := delegateKey{dto: id, event: serverobj.PropertyChangedEvent}
	d.mu.Lock()
	_, subscribed := d.delegates[key]
	s := d.session
	d.mu.Unlock()
	if !subscribed || s == nil {
		return
	}
	_ = s.Send(wire.NewLazyEventNotification(id, serverobj.PropertyChangedEvent, func() ([]byte, error) {
		return d.encodeCurrentProperty(id, propertyName)
	}))
}

// encodeCurrentProperty re-reads propertyName off the object tracked under
// id and encodes (propertyName, currentValue) the same way a PropertyChanged
// EventNotification's ValueStream always has, so a stale snapshot from the
// moment the change was emitted never reaches the wire.
func (d *ServerDispatcher) encodeCurrentProperty(id wire.Identifier, propertyName string) ([]byte, error) {
	obj, ok := d.resolver.ResolveReference(id)
	if !ok {
		return nil, wire.NewError(wire.UnknownTarget, "no object tracked for %s", id)
	}
	desc, ok := d.registry.Lookup(obj.TypeName())
	if !ok {
		return nil, wire.NewError(wire.UnknownMember, "no descriptor registered for type %q", obj.TypeName())
	}
	idx, err := desc.Property(propertyName)
	if err != nil {
		return nil, err
	}
	val := reflect.ValueOf(obj).Elem().Field(idx).Interface()
	return d.codec.Encode([]interface{}{propertyName, val}, d.resolver)
}

// HandleClose implements session.Closer: reports how many server objects
// this session's resolver still held strong references to at teardown.
// Spec §4.2 ties a server object's lifecycle to session close, so a
// non-empty snapshot here is ordinary (the objects are released along
// with the resolver itself, not explicitly walked), not a leak.
func (d *ServerDispatcher) HandleClose(*session.Session) {
	if ids := d.resolver.Snapshot(); len(ids) > 0 {
		log.Printf("[dispatch] session closed with %d object(s) still referenced", len(ids))
	}
}

// HandleEnvelope implements session.Handler.
func (d *ServerDispatcher) HandleEnvelope(s *session.Session, env *wire.Envelope) {
	switch env.MessageType {
	case wire.RootQuery:
		d.respondOK(s, env, []interface{}{d.root})
	case wire.Query:
		d.handleQuery(s, env)
	case wire.Get:
		d.handleGet(s, env)
	case wire.Set:
		d.handleSet(s, env)
	case wire.EventAdd:
		d.handleEventAdd(s, env)
	case wire.EventRemove:
		d.handleEventRemove(s, env)
	case wire.ProxyFinalized:
		d.handleProxyFinalized(env)
	default:
		d.respondException(s, env, wire.NewError(wire.UnknownMember, "unhandled message type %s", env.MessageType))
	}
}

func (d *ServerDispatcher) resolveTarget(env *wire.Envelope) (wire.Identifiable, *registry.Descriptor, error) {
	obj, ok := d.resolver.ResolveReference(env.DtoGuid)
	if !ok {
		return nil, nil, wire.NewError(wire.UnknownTarget, "no object tracked for %s", env.DtoGuid)
	}
	desc, ok := d.registry.Lookup(obj.TypeName())
	if !ok {
		return nil, nil, wire.NewError(wire.UnknownMember, "no descriptor registered for type %q", obj.TypeName())
	}
	return obj, desc, nil
}

func (d *ServerDispatcher) handleQuery(s *session.Session, env *wire.Envelope) {
	obj, desc, err := d.resolveTarget(env)
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	method, err := desc.Method(env.MemberName, env.ParametersCount)
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	args, err := d.codec.Decode(env.ValueStream, method.ParamTypes, d.resolver)
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	aligned, err := align.Values(args, method.ParamTypes)
	if err != nil {
		d.respondException(s, env, err)
		return
	}

	callArgs := make([]reflect.Value, 0, len(aligned)+1)
	callArgs = append(callArgs, reflect.ValueOf(obj))
	callArgs = append(callArgs, aligned...)
	results := method.Method.Func.Call(callArgs)

	var retVal interface{}
	if len(results) > 0 {
		last := results[len(results)-1]
		if last.Type() == errorType {
			if !last.IsNil() {
				d.respondException(s, env, last.Interface().(error))
				return
			}
			if len(results) == 2 {
				retVal = results[0].Interface()
			}
		} else {
			retVal = results[0].Interface()
		}
	}

	if method.ReturnType == nil {
		d.respondOK(s, env, nil)
		return
	}
	d.respondOK(s, env, []interface{}{retVal})
}

func (d *ServerDispatcher) handleGet(s *session.Session, env *wire.Envelope) {
	obj, desc, err := d.resolveTarget(env)
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	idx, err := desc.Property(env.MemberName)
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	val := reflect.ValueOf(obj).Elem().Field(idx).Interface()
	d.respondOK(s, env, []interface{}{val})
}

func (d *ServerDispatcher) handleSet(s *session.Session, env *wire.Envelope) {
	obj, desc, err := d.resolveTarget(env)
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	idx, err := desc.Property(env.MemberName)
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	field := reflect.ValueOf(obj).Elem().Field(idx)

	args, err := d.codec.Decode(env.ValueStream, []reflect.Type{field.Type()}, d.resolver)
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	aligned, err := align.Values(args, []reflect.Type{field.Type()})
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	field.Set(aligned[0])
	if n, ok := obj.(notifier); ok {
		n.NotifyPropertyChanged(env.MemberName, aligned[0].Interface())
	}
	d.respondOK(s, env, nil)
}

// propertyChangedToken marks a delegates entry as PropertyChanged, which is
// always forwarded via ServerResolver.OnReferencePropertyChanged rather
// than a per-session Subscribe call, so there is no token to Unsubscribe.
const propertyChangedToken = -1

func (d *ServerDispatcher) handleEventAdd(s *session.Session, env *wire.Envelope) {
	key := delegateKey{dto: env.DtoGuid, event: env.MemberName}
	d.mu.Lock()
	if _, exists := d.delegates[key]; exists {
		d.mu.Unlock()
		d.respondOK(s, env, nil)
		return
	}
	d.mu.Unlock()

	if env.MemberName == serverobj.PropertyChangedEvent {
		if _, ok := d.resolver.ResolveReference(env.DtoGuid); !ok {
			d.respondException(s, env, wire.NewError(wire.UnknownTarget, "no object tracked for %s", env.DtoGuid))
			return
		}
		d.mu.Lock()
		d.delegates[key] = propertyChangedToken
		d.mu.Unlock()
		d.respondOK(s, env, nil)
		return
	}

	token, err := d.resolver.Subscribe(env.DtoGuid, env.MemberName, func(args ...interface{}) {
		data, encErr := d.codec.Encode(args, d.resolver)
		if encErr != nil {
			return
		}
		_ = s.Send(wire.NewEventNotification(env.DtoGuid, env.MemberName, data))
	})
	if err != nil {
		d.respondException(s, env, err)
		return
	}

	d.mu.Lock()
	d.delegates[key] = token
	d.mu.Unlock()
	d.respondOK(s, env, nil)
}

func (d *ServerDispatcher) handleEventRemove(s *session.Session, env *wire.Envelope) {
	key := delegateKey{dto: env.DtoGuid, event: env.MemberName}
	d.mu.Lock()
	token, exists := d.delegates[key]
	if exists {
		delete(d.delegates, key)
	}
	d.mu.Unlock()
	if exists && token != propertyChangedToken {
		d.resolver.Unsubscribe(env.DtoGuid, env.MemberName, token)
	}
	d.respondOK(s, env, nil)
}

// handleProxyFinalized drops the strong reference and any live
// subscriptions for a DtoGuid the client no longer holds a proxy for.
// Deliberately sends no Response: ClientDispatcher.SendProxyFinalized is
// fire-and-forget (spec §4.7), so acknowledging it the way Set or
// EventAdd/Remove do would just be a frame nothing ever reads.
func (d *ServerDispatcher) handleProxyFinalized(env *wire.Envelope) {
	d.resolver.RemoveReference(env.DtoGuid)
	d.mu.Lock()
	for k, token := range d.delegates {
		if k.dto != env.DtoGuid {
			continue
		}
		if token != propertyChangedToken {
			d.resolver.Unsubscribe(k.dto, k.event, token)
		}
		delete(d.delegates, k)
	}
	d.mu.Unlock()
}

func (d *ServerDispatcher) respondOK(s *session.Session, env *wire.Envelope, values []interface{}) {
	data, err := d.codec.Encode(values, d.resolver)
	if err != nil {
		d.respondException(s, env, err)
		return
	}
	_ = s.Send(wire.NewResponse(env.MessageGuid, data))
}

func (d *ServerDispatcher) respondException(s *session.Session, env *wire.Envelope, err error) {
	_ = s.Send(wire.NewException(env.MessageGuid, wire.EncodeExceptionPayload(wire.ExceptionPayload{Message: err.Error()})))
}
