package resolver

import (
	"sync"
	"testing"

	"github.com/wirebond/objectrpc/internal/serverobj"
	"github.com/wirebond/objectrpc/internal/wire"
)

type testDTO struct {
	*serverobj.Base
}

func newTestDTO() *testDTO {
	return &testDTO{Base: serverobj.NewBase("TestDTO")}
}

func TestGetOrAssignReferenceMintsOnce(t *testing.T) {
	r := NewServerResolver()
	obj := newTestDTO()

	id1, typeName := r.GetOrAssignReference(obj)
	if typeName != "TestDTO" {
		t.Fatalf("typeName = %q", typeName)
	}
	id2, _ := r.GetOrAssignReference(obj)
	if id1 != id2 {
		t.Fatalf("GetOrAssignReference is not idempotent: %s != %s", id1, id2)
	}
	if id1.IsNil() {
		t.Fatalf("expected a non-nil minted identifier")
	}
}

func TestGetOrAssignReferenceIdempotentUnderConcurrency(t *testing.T) {
	r := NewServerResolver()
	obj := newTestDTO()

	const n = 50
	ids := make([]wire.Identifier, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id, _ := r.GetOrAssignReference(obj)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent GetOrAssignReference calls disagreed: %s != %s", ids[i], ids[0])
		}
	}
}

func TestResolveReferenceFindsTrackedObject(t *testing.T) {
	r := NewServerResolver()
	obj := newTestDTO()
	id, _ := r.GetOrAssignReference(obj)

	got, ok := r.ResolveReference(id)
	if !ok {
		t.Fatalf("expected to resolve a tracked identifier")
	}
	if got != obj {
		t.Fatalf("resolved a different instance")
	}
}

func TestResolveReferenceUnknownIdentifier(t *testing.T) {
	r := NewServerResolver()
	if _, ok := r.ResolveReference(wire.NewIdentifier()); ok {
		t.Fatalf("expected no object for an identifier never assigned")
	}
}

func TestResolveOrCreateNeverCreatesNewObjects(t *testing.T) {
	r := NewServerResolver()
	_, err := r.ResolveOrCreate(wire.NewIdentifier(), "TestDTO")
	if err == nil {
		t.Fatalf("expected UnknownTarget for an identifier the server never minted")
	}
	if !wire.IsKind(err, wire.UnknownTarget) {
		t.Fatalf("expected UnknownTarget, got %v", err)
	}
}

func TestResolveOrCreateReturnsTrackedObject(t *testing.T) {
	r := NewServerResolver()
	obj := newTestDTO()
	id, _ := r.GetOrAssignReference(obj)

	got, err := r.ResolveOrCreate(id, "TestDTO")
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if got != obj {
		t.Fatalf("expected the same tracked instance back")
	}
}

func TestRemoveReferenceDropsTracking(t *testing.T) {
	r := NewServerResolver()
	obj := newTestDTO()
	id, _ := r.GetOrAssignReference(obj)

	r.RemoveReference(id)
	if _, ok := r.ResolveReference(id); ok {
		t.Fatalf("expected the identifier to be untracked after RemoveReference")
	}
}

func TestSubscribeAndUnsubscribeViaResolver(t *testing.T) {
	r := NewServerResolver()
	obj := newTestDTO()
	id, _ := r.GetOrAssignReference(obj)

	calls := 0
	token, err := r.Subscribe(id, "Changed", func(args ...interface{}) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	obj.Emit("Changed")
	r.Unsubscribe(id, "Changed", token)
	obj.Emit("Changed")

	if calls != 1 {
		t.Fatalf("expected one delivery before unsubscribe, got %d", calls)
	}
}

func TestSubscribeUnknownTargetFails(t *testing.T) {
	r := NewServerResolver()
	if _, err := r.Subscribe(wire.NewIdentifier(), "Changed", func(args ...interface{}) {}); err == nil {
		t.Fatalf("expected UnknownTarget subscribing to an untracked identifier")
	}
}

func TestSnapshotListsAllTracked(t *testing.T) {
	r := NewServerResolver()
	a, b := newTestDTO(), newTestDTO()
	idA, _ := r.GetOrAssignReference(a)
	idB, _ := r.GetOrAssignReference(b)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 tracked identifiers, got %d", len(snap))
	}
	seen := map[wire.Identifier]bool{}
	for _, id := range snap {
		seen[id] = true
	}
	if !seen[idA] || !seen[idB] {
		t.Fatalf("Snapshot did not include both tracked identifiers")
	}
}

func TestIsReferencedTrueForIdentifiable(t *testing.T) {
	r := NewServerResolver()
	if !r.IsReferenced(newTestDTO()) {
		t.Fatalf("expected a DTO to be referenced")
	}
	if r.IsReferenced(42) {
		t.Fatalf("expected a plain int to not be referenced")
	}
}
