package proxy

import (
	"sync"
	"time"

	"github.com/wirebond/objectrpc/internal/wire"
)

// DefaultQuiescence is the delay a finalized proxy's identifier sits in
// FinalizeRequested before a ProxyFinalized notification is actually sent,
// giving a concurrently in-flight deserialize a chance to resurrect the
// identifier first.
const DefaultQuiescence = 50 * time.Millisecond

type finalizeEntry struct {
	session  Caller
	queuedAt time.Time
}

// finalizeSet is the process-wide FinalizeRequested set: identifiers whose
// proxy has become unreachable and is waiting out the quiescence window
// before the client reports finalization to the server.
type finalizeSet struct {
	mu      sync.Mutex
	entries map[wire.Identifier]finalizeEntry
}

var globalFinalizeRequested = &finalizeSet{entries: make(map[wire.Identifier]finalizeEntry)}

func (s *finalizeSet) add(id wire.Identifier, session Caller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = finalizeEntry{session: session, queuedAt: nowFunc()}
}

// Cancel removes id from the set if present, reporting whether it was
// still pending. A resurrection (internal/resolver.ClientResolver handing
// out the same identifier again before the quiescence window elapses)
// calls this to suppress the pending ProxyFinalized send.
func Cancel(id wire.Identifier) bool {
	s := globalFinalizeRequested
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// drain removes and returns every entry that has sat in the set at least
// quiescence, leaving fresher entries for a later pass.
func (s *finalizeSet) drain(quiescence time.Duration) map[wire.Identifier]finalizeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := nowFunc().Add(-quiescence)
	ready := make(map[wire.Identifier]finalizeEntry)
	for id, e := range s.entries {
		if e.queuedAt.Before(cutoff) || e.queuedAt.Equal(cutoff) {
			ready[id] = e
			delete(s.entries, id)
		}
	}
	return ready
}

// nowFunc is indirected so tests can substitute a deterministic clock.
var nowFunc = time.Now

// StartFinalizationPump launches the background goroutine that, once per
// tick, drains identifiers that have sat quiescent long enough and sends
// each a ProxyFinalized notification on its owning session. Returns a
// stop function.
func StartFinalizationPump(quiescence, tick time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for id, e := range globalFinalizeRequested.drain(quiescence) {
					e.session.SendProxyFinalized(id)
				}
			}
		}
	}()
	return func() { close(done) }
}
