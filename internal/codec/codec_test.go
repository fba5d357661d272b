package codec

import (
	"reflect"
	"testing"

	"github.com/wirebond/objectrpc/internal/wire"
)

// fakeDTO is a minimal wire.Identifiable for exercising reference
// substitution without depending on internal/serverobj or internal/proxy.
type fakeDTO struct {
	id       wire.Identifier
	typeName string
}

func (f *fakeDTO) ReferenceID() wire.Identifier { return f.id }
func (f *fakeDTO) TypeName() string             { return f.typeName }

// fakeWriter tracks every object it has assigned an identifier to, mirroring
// the server resolver's idempotent minting without its locking concerns.
type fakeWriter struct {
	assigned map[*fakeDTO]wire.Identifier
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{assigned: make(map[*fakeDTO]wire.Identifier)}
}

func (w *fakeWriter) IsReferenced(obj interface{}) bool {
	_, ok := obj.(wire.Identifiable)
	return ok
}

func (w *fakeWriter) GetOrAssignReference(obj wire.Identifiable) (wire.Identifier, string) {
	f := obj.(*fakeDTO)
	if id, ok := w.assigned[f]; ok {
		return id, f.typeName
	}
	if f.id.IsNil() {
		f.id = wire.NewIdentifier()
	}
	w.assigned[f] = f.id
	return f.id, f.typeName
}

// fakeReader resolves identifiers back to the same fakeDTO instances a
// fakeWriter handed out, modelling identity preservation across a round trip.
type fakeReader struct {
	byID map[wire.Identifier]interface{}
}

func newFakeReader() *fakeReader {
	return &fakeReader{byID: make(map[wire.Identifier]interface{})}
}

func (r *fakeReader) ResolveOrCreate(id wire.Identifier, typeName string) (interface{}, error) {
	if obj, ok := r.byID[id]; ok {
		return obj, nil
	}
	return nil, wire.NewError(wire.UnknownTarget, "no object registered for %s", id)
}

func runRoundTripScalars(t *testing.T, c Codec) {
	t.Helper()
	values := []interface{}{42, "hello", 3.5, true}
	targets := []reflect.Type{
		reflect.TypeOf(0),
		reflect.TypeOf(""),
		reflect.TypeOf(0.0),
		reflect.TypeOf(false),
	}

	data, err := c.Encode(values, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(data, targets, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(values) {
		t.Fatalf("got %d values, want %d", len(got), len(values))
	}
	for i, want := range values {
		if got[i] != want {
			t.Errorf("value %d: got %v (%T), want %v (%T)", i, got[i], got[i], want, want)
		}
	}
}

func TestMsgpackRoundTripScalars(t *testing.T) {
	runRoundTripScalars(t, Msgpack{})
}

func TestJSONRoundTripScalars(t *testing.T) {
	runRoundTripScalars(t, JSON{})
}

func TestEncodeEmptyValuesDecodesToEmpty(t *testing.T) {
	c := Msgpack{}
	data, err := c.Encode(nil, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(data, nil, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected zero values, got %d", len(got))
	}
}

func TestDecodeOfEmptyStreamReturnsNoValues(t *testing.T) {
	c := Msgpack{}
	got, err := c.Decode(nil, nil, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for an empty ValueStream, got %v", got)
	}
}

func TestReferenceSubstitutionPreservesIdentity(t *testing.T) {
	writer := newFakeWriter()
	reader := newFakeReader()

	obj := &fakeDTO{typeName: "Widget"}
	data, err := Msgpack{}.Encode([]interface{}{obj}, writer)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Wire the reader up to resolve the identifier the writer minted back
	// to the same instance, the way a resolver's strong/weak table would.
	reader.byID[obj.id] = obj

	got, err := Msgpack{}.Decode(data, []reflect.Type{nil}, reader)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got[0] != obj {
		t.Fatalf("decoded reference is not the same object instance: got %v, want %v", got[0], obj)
	}
}

func TestDecodeUnresolvedReferenceReturnsUnknownTarget(t *testing.T) {
	writer := newFakeWriter()
	reader := newFakeReader() // nothing registered

	obj := &fakeDTO{typeName: "Widget"}
	data, err := Msgpack{}.Encode([]interface{}{obj}, writer)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, err = Msgpack{}.Decode(data, []reflect.Type{nil}, reader)
	if err == nil {
		t.Fatalf("expected an error for an unresolved reference")
	}
	if !wire.IsKind(err, wire.UnknownTarget) {
		t.Fatalf("expected UnknownTarget, got %v", err)
	}
}

func TestDecodeReferenceWithoutReaderFails(t *testing.T) {
	writer := newFakeWriter()
	obj := &fakeDTO{typeName: "Widget"}
	data, err := Msgpack{}.Encode([]interface{}{obj}, writer)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, err = Msgpack{}.Decode(data, []reflect.Type{nil}, nil)
	if err == nil {
		t.Fatalf("expected an error when no ReferenceReader is available for a reference")
	}
}

func TestRoundTripSliceAndMap(t *testing.T) {
	values := []interface{}{
		[]interface{}{1, 2, 3},
		map[string]interface{}{"a": 1},
	}

	data, err := Msgpack{}.Encode(values, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Msgpack{}.Decode(data, []reflect.Type{nil, nil}, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	list, ok := got[0].([]interface{})
	if !ok || len(list) != 3 {
		t.Fatalf("expected a 3-element slice, got %v", got[0])
	}

	m, ok := got[1].(map[string]interface{})
	if !ok || len(m) != 1 {
		t.Fatalf("expected a 1-entry map, got %v", got[1])
	}
}

func TestEncodeNilValueRoundTripsToNil(t *testing.T) {
	data, err := Msgpack{}.Encode([]interface{}{nil}, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Msgpack{}.Decode(data, []reflect.Type{nil}, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got[0] != nil {
		t.Fatalf("expected nil, got %v", got[0])
	}
}
