// Package codec implements the pluggable wire serializer: Encode(values,
// writer) and Decode(bytes, types, reader). Any value recognized by the
// resolver as a referenced DTO is replaced by its identifier (and
// concrete type name) during encoding; an identifier is replaced by a
// resolved or newly-created proxy during decoding.
//
// Two implementations are provided: Msgpack (default, binary) and JSON.
// Both share the reference-walking logic in this file; only the leaf
// marshal/unmarshal calls differ.
package codec

import (
	"fmt"
	"reflect"

	"github.com/wirebond/objectrpc/internal/wire"
)

// ReferenceWriter lets the codec turn a live DTO into a wire identifier
// during encoding. Implemented by the server resolver.
type ReferenceWriter interface {
	// GetOrAssignReference returns the identifier and concrete type name
	// for obj. Callers check IsReferenced first; obj is always a DTO here.
	GetOrAssignReference(obj wire.Identifiable) (id wire.Identifier, typeName string)
	IsReferenced(obj interface{}) bool
}

// ReferenceReader lets the codec turn a decoded identifier back into a
// live proxy during decoding. Implemented by the client resolver.
type ReferenceReader interface {
	// ResolveOrCreate returns the proxy bound to id, creating (or
	// resurrecting) one of the named type if this is the first time id
	// has been seen.
	ResolveOrCreate(id wire.Identifier, typeName string) (interface{}, error)
}

// Codec is the pluggable serializer contract.
type Codec interface {
	// Encode serializes values (method arguments, a return value, event
	// arguments) into an opaque ValueStream. rw may be nil when no
	// resolver-aware reference substitution is needed (e.g. encoding an
	// exception payload).
	Encode(values []interface{}, rw ReferenceWriter) ([]byte, error)

	// Decode deserializes a ValueStream back into values. targets gives
	// the expected Go type for each positional value (used to align
	// scalars to the declared parameter type); a nil entry means "decode
	// generically". rr may be nil when no references are expected.
	Decode(data []byte, targets []reflect.Type, rr ReferenceReader) ([]interface{}, error)
}

// node is the generic intermediate tree every codec implementation
// marshals/unmarshals through, so the only codec-specific code is the
// leaf (scalar) marshal/unmarshal pair.
type node struct {
	Ref  *refNode          `msgpack:"r,omitempty" json:"r,omitempty"`
	List []node            `msgpack:"l,omitempty" json:"l,omitempty"`
	Map  map[string]node   `msgpack:"o,omitempty" json:"o,omitempty"`
	Raw  []byte            `msgpack:"v,omitempty" json:"v,omitempty"`
	Nil  bool              `msgpack:"z,omitempty" json:"z,omitempty"`
}

type refNode struct {
	ID   string `msgpack:"id" json:"id"`
	Type string `msgpack:"type" json:"type"`
}

// leafCodec is the pair of functions a concrete Codec supplies for
// encoding/decoding scalar leaves of the value tree.
type leafCodec struct {
	marshal   func(interface{}) ([]byte, error)
	unmarshal func([]byte, interface{}) error
}

func buildNode(v interface{}, rw ReferenceWriter, lc leafCodec) (node, error) {
	if v == nil {
		return node{Nil: true}, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return node{Nil: true}, nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return node{Nil: true}, nil
	}

	if ident, ok := v.(wire.Identifiable); ok && rw != nil && rw.IsReferenced(v) {
		id, typeName := rw.GetOrAssignReference(ident)
		return node{Ref: &refNode{ID: id.String(), Type: typeName}}, nil
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		list := make([]node, n)
		for i := 0; i < n; i++ {
			child, err := buildNode(rv.Index(i).Interface(), rw, lc)
			if err != nil {
				return node{}, err
			}
			list[i] = child
		}
		return node{List: list}, nil
	case reflect.Map:
		m := make(map[string]node, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			child, err := buildNode(iter.Value().Interface(), rw, lc)
			if err != nil {
				return node{}, err
			}
			m[key] = child
		}
		return node{Map: m}, nil
	default:
		raw, err := lc.marshal(rv.Interface())
		if err != nil {
			return node{}, fmt.Errorf("codec: marshal leaf value: %w", err)
		}
		return node{Raw: raw}, nil
	}
}

func readNode(n node, target reflect.Type, rr ReferenceReader, lc leafCodec) (interface{}, error) {
	switch {
	case n.Nil:
		return nil, nil
	case n.Ref != nil:
		if rr == nil {
			return nil, wire.NewError(wire.UnknownTarget, "value stream references %s but no resolver is available", n.Ref.ID)
		}
		id, err := wire.ParseIdentifier(n.Ref.ID)
		if err != nil {
			return nil, err
		}
		return rr.ResolveOrCreate(id, n.Ref.Type)
	case n.List != nil:
		var elemType reflect.Type
		if target != nil && (target.Kind() == reflect.Slice || target.Kind() == reflect.Array) {
			elemType = target.Elem()
		}
		out := make([]interface{}, len(n.List))
		for i, child := range n.List {
			v, err := readNode(child, elemType, rr, lc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case n.Map != nil:
		out := make(map[string]interface{}, len(n.Map))
		for k, child := range n.Map {
			v, err := readNode(child, nil, rr, lc)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		if target != nil {
			ptr := reflect.New(target)
			if err := lc.unmarshal(n.Raw, ptr.Interface()); err != nil {
				return nil, fmt.Errorf("codec: unmarshal leaf into %s: %w", target, err)
			}
			return ptr.Elem().Interface(), nil
		}
		var generic interface{}
		if err := lc.unmarshal(n.Raw, &generic); err != nil {
			return nil, fmt.Errorf("codec: unmarshal leaf: %w", err)
		}
		return generic, nil
	}
}
