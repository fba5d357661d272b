package proxy

import (
	"testing"
	"time"

	"github.com/wirebond/objectrpc/internal/wire"
)

type finalizeTestCaller struct {
	finalized []wire.Identifier
}

func (c *finalizeTestCaller) Get(wire.Identifier, string) (interface{}, error)          { return nil, nil }
func (c *finalizeTestCaller) Set(wire.Identifier, string, interface{}) error            { return nil }
func (c *finalizeTestCaller) Invoke(wire.Identifier, string, []interface{}) (interface{}, error) {
	return nil, nil
}
func (c *finalizeTestCaller) EventAdd(wire.Identifier, string) error    { return nil }
func (c *finalizeTestCaller) EventRemove(wire.Identifier, string) error { return nil }
func (c *finalizeTestCaller) SendProxyFinalized(id wire.Identifier) {
	c.finalized = append(c.finalized, id)
}

func resetFinalizeSet() {
	globalFinalizeRequested.mu.Lock()
	globalFinalizeRequested.entries = make(map[wire.Identifier]finalizeEntry)
	globalFinalizeRequested.mu.Unlock()
}

func TestCancelRemovesPendingEntry(t *testing.T) {
	resetFinalizeSet()
	id := wire.NewIdentifier()
	globalFinalizeRequested.add(id, &finalizeTestCaller{})

	if !Cancel(id) {
		t.Fatalf("expected Cancel to report the entry was pending")
	}
	if Cancel(id) {
		t.Fatalf("expected a second Cancel to report nothing pending")
	}
}

func TestCancelUnknownIdentifierReturnsFalse(t *testing.T) {
	resetFinalizeSet()
	if Cancel(wire.NewIdentifier()) {
		t.Fatalf("expected Cancel to report false for an identifier never queued")
	}
}

func TestDrainOnlyReturnsEntriesPastQuiescence(t *testing.T) {
	resetFinalizeSet()
	id := wire.NewIdentifier()

	originalNow := nowFunc
	defer func() { nowFunc = originalNow }()

	start := time.Now()
	nowFunc = func() time.Time { return start }
	globalFinalizeRequested.add(id, &finalizeTestCaller{})

	// Not yet quiescent: draining with a window longer than elapsed time
	// should leave the entry in place.
	nowFunc = func() time.Time { return start.Add(10 * time.Millisecond) }
	ready := globalFinalizeRequested.drain(50 * time.Millisecond)
	if len(ready) != 0 {
		t.Fatalf("expected no entries ready before the quiescence window elapses, got %d", len(ready))
	}

	// Past quiescence: the entry should now drain.
	nowFunc = func() time.Time { return start.Add(60 * time.Millisecond) }
	ready = globalFinalizeRequested.drain(50 * time.Millisecond)
	if len(ready) != 1 {
		t.Fatalf("expected 1 ready entry, got %d", len(ready))
	}
	if _, ok := ready[id]; !ok {
		t.Fatalf("expected the queued identifier to be in the drained set")
	}

	// Draining again should find nothing left.
	if again := globalFinalizeRequested.drain(50 * time.Millisecond); len(again) != 0 {
		t.Fatalf("expected drain to be one-shot per entry, got %d left", len(again))
	}
}

func TestStartFinalizationPumpSendsAfterQuiescence(t *testing.T) {
	resetFinalizeSet()
	id := wire.NewIdentifier()
	caller := &finalizeTestCaller{}
	globalFinalizeRequested.add(id, caller)

	stop := StartFinalizationPump(10*time.Millisecond, 5*time.Millisecond)
	defer stop()

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case <-deadline:
			t.Fatalf("ProxyFinalized was never sent for %s", id)
		default:
		}
		if len(caller.finalized) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if caller.finalized[0] != id {
		t.Fatalf("pump finalized the wrong identifier: %s", caller.finalized[0])
	}
}

func TestStartFinalizationPumpStopsCleanly(t *testing.T) {
	stop := StartFinalizationPump(10*time.Millisecond, 5*time.Millisecond)
	stop()
	// Calling stop a second time would panic on a closed channel; this test
	// only asserts the first stop doesn't hang or panic.
}
