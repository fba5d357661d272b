package dispatch

import (
	"context"
	"reflect"

	"github.com/wirebond/objectrpc/internal/codec"
	"github.com/wirebond/objectrpc/internal/resolver"
	"github.com/wirebond/objectrpc/internal/serverobj"
	"github.com/wirebond/objectrpc/internal/session"
	"github.com/wirebond/objectrpc/internal/wire"
)

// propertySetter is satisfied by proxy.Base's promoted SetProperty.
type propertySetter interface {
	SetProperty(name string, value interface{})
}

// eventDeliverer is satisfied by proxy.Base's promoted Deliver.
type eventDeliverer interface {
	Deliver(event string, args ...interface{})
}

// ClientDispatcher turns proxy-originated property/method/event calls
// into requests on the session, and routes inbound EventNotification
// frames to the right proxy's handlers. It implements proxy.Caller.
type ClientDispatcher struct {
	resolver *resolver.ClientResolver
	codec    codec.Codec
	session  *session.Session
}

// NewClientDispatcher constructs a dispatcher around c. BindResolver and
// BindSession must be called before use — the resolver needs this
// dispatcher (as a proxy.Caller) to construct proxies, and the session
// needs this dispatcher as its Handler, so the three are necessarily
// constructed in dispatcher -> resolver -> session order and wired
// together as each becomes available.
func NewClientDispatcher(c codec.Codec) *ClientDispatcher {
	return &ClientDispatcher{codec: c}
}

// BindResolver attaches the resolver this dispatcher decodes references
// through.
func (d *ClientDispatcher) BindResolver(r *resolver.ClientResolver) {
	d.resolver = r
}

// BindSession attaches the session this dispatcher forwards calls through.
func (d *ClientDispatcher) BindSession(s *session.Session) {
	d.session = s
}

// HandleEnvelope implements session.Handler. The client side only ever
// receives EventNotification unsolicited from the server; any other
// inbound message type is a protocol violation with no correlated
// request to report it against, so it is dropped.
func (d *ClientDispatcher) HandleEnvelope(s *session.Session, env *wire.Envelope) {
	if env.MessageType != wire.EventNotification {
		return
	}
	d.handleEventNotification(env)
}

func (d *ClientDispatcher) handleEventNotification(env *wire.Envelope) {
	obj, ok := d.resolver.Lookup(env.DtoGuid)
	if !ok {
		return
	}
	args, err := d.decode(env.ValueStream, nil)
	if err != nil {
		return
	}
	if env.MemberName == serverobj.PropertyChangedEvent && len(args) == 2 {
		if propName, ok := args[0].(string); ok {
			if setter, ok := obj.(propertySetter); ok {
				setter.SetProperty(propName, args[1])
			}
		}
	}
	if deliverer, ok := obj.(eventDeliverer); ok {
		deliverer.Deliver(env.MemberName, args...)
	}
}

// decode wraps codec.Decode to flush any proxies materialized during
// decoding: a freshly resurrected or newly created proxy's buffered
// property values are applied once the top-level decode completes.
func (d *ClientDispatcher) decode(data []byte, targets []reflect.Type) ([]interface{}, error) {
	vals, err := d.codec.Decode(data, targets, d.resolver)
	for _, p := range d.resolver.TakeProxiesToPopulate() {
		p.Populate()
	}
	if err != nil {
		return nil, err
	}
	return vals, nil
}

func genericTargets(n int) []reflect.Type {
	return make([]reflect.Type, n)
}

// RootQuery fetches the server's root object.
func (d *ClientDispatcher) RootQuery(ctx context.Context) (interface{}, error) {
	resp, err := d.session.Call(ctx, wire.NewRequest(wire.RootQuery, wire.Nil, "", 0, nil))
	if err != nil {
		return nil, err
	}
	vals, err := d.decode(resp.ValueStream, genericTargets(1))
	if err != nil {
		return nil, err
	}
	return firstOrNil(vals), nil
}

// Get implements proxy.Caller.
func (d *ClientDispatcher) Get(dtoGuid wire.Identifier, property string) (interface{}, error) {
	resp, err := d.session.Call(context.Background(), wire.NewRequest(wire.Get, dtoGuid, property, 0, nil))
	if err != nil {
		return nil, err
	}
	vals, err := d.decode(resp.ValueStream, genericTargets(1))
	if err != nil {
		return nil, err
	}
	return firstOrNil(vals), nil
}

// Set implements proxy.Caller.
func (d *ClientDispatcher) Set(dtoGuid wire.Identifier, property string, value interface{}) error {
	data, err := d.codec.Encode([]interface{}{value}, d.resolver)
	if err != nil {
		return err
	}
	_, err = d.session.Call(context.Background(), wire.NewRequest(wire.Set, dtoGuid, property, 1, data))
	return err
}

// Invoke implements proxy.Caller.
func (d *ClientDispatcher) Invoke(dtoGuid wire.Identifier, method string, args []interface{}) (interface{}, error) {
	data, err := d.codec.Encode(args, d.resolver)
	if err != nil {
		return nil, err
	}
	resp, err := d.session.Call(context.Background(), wire.NewRequest(wire.Query, dtoGuid, method, len(args), data))
	if err != nil {
		return nil, err
	}
	vals, err := d.decode(resp.ValueStream, genericTargets(1))
	if err != nil {
		return nil, err
	}
	return firstOrNil(vals), nil
}

// EventAdd implements proxy.Caller.
func (d *ClientDispatcher) EventAdd(dtoGuid wire.Identifier, event string) error {
	_, err := d.session.Call(context.Background(), wire.NewRequest(wire.EventAdd, dtoGuid, event, 0, nil))
	return err
}

// EventRemove implements proxy.Caller.
func (d *ClientDispatcher) EventRemove(dtoGuid wire.Identifier, event string) error {
	_, err := d.session.Call(context.Background(), wire.NewRequest(wire.EventRemove, dtoGuid, event, 0, nil))
	return err
}

// SendProxyFinalized implements proxy.Caller. Fire-and-forget: the server
// does not answer ProxyFinalized.
func (d *ClientDispatcher) SendProxyFinalized(dtoGuid wire.Identifier) {
	_ = d.session.Send(wire.NewRequest(wire.ProxyFinalized, dtoGuid, "", 0, nil))
}

func firstOrNil(vals []interface{}) interface{} {
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}
