package main

import (
	"github.com/wirebond/objectrpc/internal/proxy"
	"github.com/wirebond/objectrpc/internal/resolver"
	"github.com/wirebond/objectrpc/internal/wire"
	"github.com/wirebond/objectrpc/public/rpc"
)

// registerProxyTypes registers every demo proxy constructor with client's
// resolver. Called once, right after Dial, before any request that might
// hand back a Counter identifier (including RootQuery itself).
func registerProxyTypes(client *rpc.Client) {
	resolver.RegisterProxyType(client.Resolver(), "Counter", NewCounterProxy)
}

// CounterProxy is the client-side stand-in for a server Counter: every
// call forwards through the embedded proxy.Base to the session.
type CounterProxy struct {
	*proxy.Base
}

// NewCounterProxy is the ProxyFactory registered under "Counter" with the
// client resolver (see resolver.RegisterProxyType).
func NewCounterProxy(id wire.Identifier, session proxy.Caller) *CounterProxy {
	return &CounterProxy{Base: proxy.NewBase(id, "Counter", session)}
}

// Value fetches the current property value from the server.
func (p *CounterProxy) Value() (int, error) {
	v, err := p.Get("Value")
	if err != nil {
		return 0, err
	}
	return toInt(v), nil
}

// SetValue pushes a new property value to the server.
func (p *CounterProxy) SetValue(v int) error {
	return p.Set("Value", v)
}

// Increment calls the server's Increment method and returns its result.
func (p *CounterProxy) Increment(by int) (int, error) {
	v, err := p.Invoke("Increment", by)
	if err != nil {
		return 0, err
	}
	return toInt(v), nil
}

// OnValueChanged subscribes to PropertyChanged, invoking handler only for
// changes to the Value property.
func (p *CounterProxy) OnValueChanged(handler func(newValue int)) error {
	_, err := p.Subscribe("PropertyChanged", func(args ...interface{}) {
		if len(args) != 2 {
			return
		}
		if name, ok := args[0].(string); ok && name == "Value" {
			handler(toInt(args[1]))
		}
	})
	return err
}

// toInt coerces the generically-decoded numeric value (msgpack/JSON may
// hand back int64 or float64 depending on codec and wire representation)
// to int for this demo's convenience.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
