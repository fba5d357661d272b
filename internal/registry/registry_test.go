package registry

import (
	"testing"

	"github.com/wirebond/objectrpc/internal/wire"
)

// widget is a stand-in DTO type exercising property/method registration
// without depending on internal/serverobj.
type widget struct {
	Name  string
	Count int
}

func (w *widget) ReferenceID() int { return 0 } // unrelated to wire.Identifiable; just noise
func (w *widget) TypeName() string { return "Widget" }

func (w *widget) SetReferenceID(n int) bool { return true }

func (w *widget) Greet(name string) string { return "hello " + name }

func (w *widget) Add(a, b int) int { return a + b }

// AddThree is registered under its own name; Add keeps only its 2-argument
// form.
func (w *widget) AddThree(a, b, c int) int { return a + b + c }

func (w *widget) Fail() error { return nil }

func (w *widget) MightFail(n int) (int, error) { return n, nil }

func TestRegisterBuildsPropertyTable(t *testing.T) {
	r := New()
	d := r.Register("Widget", &widget{})

	idx, err := d.Property("Name")
	if err != nil {
		t.Fatalf("Property(Name): %v", err)
	}
	if idx != 0 {
		t.Errorf("Name field index = %d, want 0", idx)
	}

	idx, err = d.Property("Count")
	if err != nil {
		t.Fatalf("Property(Count): %v", err)
	}
	if idx != 1 {
		t.Errorf("Count field index = %d, want 1", idx)
	}
}

func TestRegisterExcludesInfrastructureMethods(t *testing.T) {
	r := New()
	d := r.Register("Widget", &widget{})

	for name, arity := range map[string]int{"TypeName": 0, "SetReferenceID": 1} {
		if _, err := d.Method(name, arity); err == nil {
			t.Errorf("expected %s to be excluded from dispatchable methods", name)
		}
	}
}

func TestMethodResolvesByNameAndArity(t *testing.T) {
	r := New()
	d := r.Register("Widget", &widget{})

	m, err := d.Method("Greet", 1)
	if err != nil {
		t.Fatalf("Method(Greet, 1): %v", err)
	}
	if len(m.ParamTypes) != 1 {
		t.Fatalf("ParamTypes length = %d, want 1", len(m.ParamTypes))
	}
	if m.ReturnType == nil {
		t.Fatalf("expected a non-nil ReturnType for Greet")
	}
}

func TestMethodUnknownNameIsUnknownMember(t *testing.T) {
	r := New()
	d := r.Register("Widget", &widget{})

	_, err := d.Method("DoesNotExist", 0)
	if err == nil {
		t.Fatalf("expected an error for an unknown method name")
	}
	if !wire.IsKind(err, wire.UnknownMember) {
		t.Fatalf("expected UnknownMember, got %v", err)
	}
}

func TestMethodWrongArityIsArityMismatch(t *testing.T) {
	r := New()
	d := r.Register("Widget", &widget{})

	_, err := d.Method("Add", 3)
	if err == nil {
		t.Fatalf("expected an error calling Add with the wrong arity")
	}
	if !wire.IsKind(err, wire.ArityMismatch) {
		t.Fatalf("expected ArityMismatch, got %v", err)
	}
}

func TestMethodReturnTypeNilForErrorOnlyReturn(t *testing.T) {
	r := New()
	d := r.Register("Widget", &widget{})

	m, err := d.Method("Fail", 0)
	if err != nil {
		t.Fatalf("Method(Fail, 0): %v", err)
	}
	if m.ReturnType != nil {
		t.Fatalf("expected a nil ReturnType for an error-only method, got %s", m.ReturnType)
	}
}

func TestMethodReturnTypeSetForValueAndErrorReturn(t *testing.T) {
	r := New()
	d := r.Register("Widget", &widget{})

	m, err := d.Method("MightFail", 1)
	if err != nil {
		t.Fatalf("Method(MightFail, 1): %v", err)
	}
	if m.ReturnType == nil {
		t.Fatalf("expected a non-nil ReturnType for (T, error) return")
	}
}

func TestLookupFindsRegisteredType(t *testing.T) {
	r := New()
	r.Register("Widget", &widget{})

	if _, ok := r.Lookup("Widget"); !ok {
		t.Fatalf("expected Widget to be registered")
	}
	if _, ok := r.Lookup("Gadget"); ok {
		t.Fatalf("did not expect Gadget to be registered")
	}
}
