// Package session implements the duplex connection: one reader goroutine
// decoding frames off the wire, one writer goroutine owning the wire for
// writes, and request/response correlation keyed by MessageGuid.
// Everything above the frame — RootQuery/Query/Get/Set/EventAdd/
// EventRemove/ProxyFinalized semantics — is supplied by a Handler the
// server and client dispatch packages implement.
package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/wirebond/objectrpc/internal/wire"
)

// Handler processes an inbound Envelope that is not itself a Response or
// Exception (those are consumed internally for request/response
// correlation). Implementations reply, if needed, via Session.Send.
type Handler interface {
	HandleEnvelope(s *Session, env *wire.Envelope)
}

// Closer is an optional Handler extension notified once a session has
// finished tearing down, for teardown bookkeeping (e.g. a server
// dispatcher logging how many objects it still held strong references to).
type Closer interface {
	HandleClose(s *Session)
}

// Options configures a Session's queueing and timeout behavior.
type Options struct {
	MaxFrameBytes  int
	QueueDepth     int
	RequestTimeout time.Duration
	Debug          bool
	Label          string // used only in debug log lines
}

func (o Options) withDefaults() Options {
	if o.MaxFrameBytes == 0 {
		o.MaxFrameBytes = wire.DefaultMaxFrameBytes
	}
	if o.QueueDepth == 0 {
		o.QueueDepth = 10000
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 30 * time.Second
	}
	return o
}

// Session is one duplex connection, shared by exactly one client and one
// server endpoint, carrying Envelopes in both directions.
type Session struct {
	conn    io.ReadWriteCloser
	opts    Options
	handler Handler

	writeCh    chan *wire.Envelope
	dispatchCh chan *wire.Envelope

	mu      sync.Mutex
	pending map[wire.Identifier]chan callResult
	closed  bool
	closeCh chan struct{}
}

type callResult struct {
	env *wire.Envelope
	err error
}

// New wraps conn in a Session and starts its reader, writer and dispatch
// goroutines. handler is invoked (on the dispatch goroutine, one envelope
// at a time) for every inbound Envelope that is not a Response/Exception.
func New(conn io.ReadWriteCloser, handler Handler, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		conn:       conn,
		opts:       opts,
		handler:    handler,
		writeCh:    make(chan *wire.Envelope, opts.QueueDepth),
		dispatchCh: make(chan *wire.Envelope, opts.QueueDepth),
		pending:    make(map[wire.Identifier]chan callResult),
		closeCh:    make(chan struct{}),
	}
	go s.writeLoop()
	go s.readLoop()
	go s.dispatchLoop()
	return s
}

// Call sends env and blocks for the correlated Response or Exception, or
// until ctx is done / the request timeout elapses / the session closes.
func (s *Session) Call(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	result := make(chan callResult, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, wire.NewError(wire.SessionClosed, "session closed")
	}
	s.pending[env.MessageGuid] = result
	s.mu.Unlock()

	if err := s.enqueue(env); err != nil {
		s.mu.Lock()
		delete(s.pending, env.MessageGuid)
		s.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(s.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-result:
		return r.env, r.err
	case <-ctx.Done():
		s.forget(env.MessageGuid)
		return nil, wire.Wrap(wire.Timeout, ctx.Err(), "request cancelled")
	case <-timer.C:
		s.forget(env.MessageGuid)
		return nil, wire.NewError(wire.Timeout, "no response to %s within %s", env.MessageGuid, s.opts.RequestTimeout)
	case <-s.closeCh:
		return nil, wire.NewError(wire.SessionClosed, "session closed while awaiting response")
	}
}

func (s *Session) forget(id wire.Identifier) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Send queues env for writing without waiting for any reply — used for
// Response/Exception/EventNotification/ProxyFinalized frames.
func (s *Session) Send(env *wire.Envelope) error {
	return s.enqueue(env)
}

func (s *Session) enqueue(env *wire.Envelope) error {
	select {
	case s.writeCh <- env:
		return nil
	default:
		return wire.NewError(wire.Congestion, "dispatch queue full (depth %d)", s.opts.QueueDepth)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case env := <-s.writeCh:
			if err := wire.WriteFrame(s.conn, env, s.opts.MaxFrameBytes); err != nil {
				s.fault(err)
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) readLoop() {
	for {
		env, err := wire.ReadFrame(s.conn, s.opts.MaxFrameBytes)
		if err != nil {
			s.fault(err)
			return
		}
		s.debugf("recv %s %s member=%s", env.MessageType, env.MessageGuid, env.MemberName)

		switch env.MessageType {
		case wire.Response, wire.Exception:
			s.complete(env)
		default:
			if !s.dispatch(env) {
				return
			}
		}
	}
}

// dispatch hands env to the dispatch worker without blocking the reader:
// a buffered channel stands in for a counting semaphore released only
// when the handler finishes with an entry. A full queue means the
// handler can't keep up, which faults the whole session with Congestion
// rather than blocking the reader indefinitely.
func (s *Session) dispatch(env *wire.Envelope) bool {
	select {
	case s.dispatchCh <- env:
		return true
	default:
		s.fault(wire.NewError(wire.Congestion, "inbound dispatch queue full (depth %d)", s.opts.QueueDepth))
		return false
	}
}

func (s *Session) dispatchLoop() {
	for {
		select {
		case env := <-s.dispatchCh:
			s.handler.HandleEnvelope(s, env)
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) complete(env *wire.Envelope) {
	s.mu.Lock()
	ch, ok := s.pending[env.MessageGuid]
	if ok {
		delete(s.pending, env.MessageGuid)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if env.MessageType == wire.Exception {
		payload, err := wire.DecodeExceptionPayload(env.ValueStream)
		if err != nil {
			ch <- callResult{err: wire.Wrap(wire.InvocationFailed, err, "malformed exception payload")}
			return
		}
		ch <- callResult{err: wire.NewError(wire.InvocationFailed, "%s", payload.Message)}
		return
	}
	ch <- callResult{env: env}
}

// fault tears the session down: every pending Call is woken with a
// SessionClosed error, the connection is closed, and every worker
// goroutine exits.
func (s *Session) fault(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: wire.Wrap(wire.SessionClosed, cause, "session closed")}
	}
	close(s.closeCh)
	_ = s.conn.Close()
	s.debugf("session closed: %v", cause)
	if closer, ok := s.handler.(Closer); ok {
		closer.HandleClose(s)
	}
}

// Close faults the session deliberately, e.g. on graceful shutdown.
func (s *Session) Close() error {
	s.fault(fmt.Errorf("closed by caller"))
	return nil
}

func (s *Session) debugf(format string, args ...interface{}) {
	if !s.opts.Debug {
		return
	}
	prefix := s.opts.Label
	if prefix == "" {
		prefix = "session"
	}
	log.Printf("[%s] "+format, append([]interface{}{prefix}, args...)...)
}
