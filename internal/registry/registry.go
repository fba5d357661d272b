// Package registry builds, once per DTO type at registration time, the
// method/property descriptor table the server dispatcher uses to resolve
// a MemberName + ParametersCount to a concrete reflect.Method or struct
// field, instead of reflecting on every call.
package registry

import (
	"reflect"
	"sync"

	"github.com/wirebond/objectrpc/internal/wire"
)

// excludedMethods are the methods every DTO exposes through the embedded
// serverobj.Base/proxy.Base plumbing; they are never dispatchable RPC
// members.
var excludedMethods = map[string]bool{
	"ReferenceID":           true,
	"TypeName":              true,
	"SetReferenceID":        true,
	"Subscribe":             true,
	"Unsubscribe":           true,
	"Emit":                  true,
	"NotifyPropertyChanged": true,
}

// MethodDescriptor describes one dispatchable method.
type MethodDescriptor struct {
	Method     reflect.Method
	ParamTypes []reflect.Type
	ReturnType reflect.Type // nil if the method returns only an error
}

// Descriptor is the full method/property table for one DTO type.
type Descriptor struct {
	Type     reflect.Type // pointer-to-struct type the DTO is registered with
	TypeName string

	// Methods maps name -> arity -> descriptor, supporting overloads
	// disambiguated by ParametersCount.
	Methods map[string]map[int]MethodDescriptor

	// Properties maps name -> field index, for Get/Set.
	Properties map[string]int
}

// Registry is the process-wide set of registered DTO type descriptors,
// keyed by type name so the wire format can name a type without leaking
// Go's reflect.Type representation across the wire.
type Registry struct {
	mu    sync.RWMutex
	byName map[string]*Descriptor
}

func New() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register inspects prototype (a pointer to a struct embedding
// serverobj.Base or proxy.Base) via reflection and builds its descriptor.
// Safe to call more than once for the same type; later calls overwrite.
func (r *Registry) Register(typeName string, prototype interface{}) *Descriptor {
	t := reflect.TypeOf(prototype)
	d := &Descriptor{
		Type:       t,
		TypeName:   typeName,
		Methods:    make(map[string]map[int]MethodDescriptor),
		Properties: make(map[string]int),
	}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() || excludedMethods[m.Name] {
			continue
		}
		// m.Func has the receiver as argument 0.
		numIn := m.Type.NumIn() - 1
		numOut := m.Type.NumOut()
		var returnType reflect.Type
		if numOut >= 1 {
			last := m.Type.Out(numOut - 1)
			if last == reflect.TypeOf((*error)(nil)).Elem() {
				if numOut == 2 {
					returnType = m.Type.Out(0)
				}
			} else if numOut == 1 {
				returnType = m.Type.Out(0)
			}
		}
		paramTypes := make([]reflect.Type, numIn)
		for p := 0; p < numIn; p++ {
			paramTypes[p] = m.Type.In(p + 1)
		}
		if d.Methods[m.Name] == nil {
			d.Methods[m.Name] = make(map[int]MethodDescriptor)
		}
		d.Methods[m.Name][numIn] = MethodDescriptor{Method: m, ParamTypes: paramTypes, ReturnType: returnType}
	}

	elem := t
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	for i := 0; i < elem.NumField(); i++ {
		f := elem.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		d.Properties[f.Name] = i
	}

	r.mu.Lock()
	r.byName[typeName] = d
	r.mu.Unlock()
	return d
}

// Lookup returns the descriptor registered under typeName.
func (r *Registry) Lookup(typeName string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[typeName]
	return d, ok
}

// Method resolves a method by name and arity, disambiguating overloads by
// ParametersCount.
func (d *Descriptor) Method(name string, arity int) (MethodDescriptor, error) {
	byArity, ok := d.Methods[name]
	if !ok {
		return MethodDescriptor{}, wire.NewError(wire.UnknownMember, "unknown method %q on %s", name, d.TypeName)
	}
	m, ok := byArity[arity]
	if !ok {
		return MethodDescriptor{}, wire.NewError(wire.ArityMismatch, "no overload of %q on %s takes %d arguments", name, d.TypeName, arity)
	}
	return m, nil
}

// Property resolves a property's struct field index by name.
func (d *Descriptor) Property(name string) (int, error) {
	idx, ok := d.Properties[name]
	if !ok {
		return 0, wire.NewError(wire.UnknownMember, "unknown property %q on %s", name, d.TypeName)
	}
	return idx, nil
}
