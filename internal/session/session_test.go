package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/wirebond/objectrpc/internal/wire"
)

// echoHandler answers every inbound envelope, whatever its type, with a
// Response carrying back its own ValueStream.
type echoHandler struct {
	received chan *wire.Envelope
}

func (h *echoHandler) HandleEnvelope(s *Session, env *wire.Envelope) {
	if h.received != nil {
		h.received <- env
	}
	_ = s.Send(wire.NewResponse(env.MessageGuid, env.ValueStream))
}

func newPipeSessions(t *testing.T, handler Handler) (*Session, *Session) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	client := New(clientConn, noopHandler{}, Options{})
	server := New(serverConn, handler, Options{})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

type noopHandler struct{}

func (noopHandler) HandleEnvelope(*Session, *wire.Envelope) {}

func TestCallReceivesCorrelatedResponse(t *testing.T) {
	client, _ := newPipeSessions(t, &echoHandler{})

	req := wire.NewRequest(wire.Query, wire.NewIdentifier(), "Increment", 1, []byte("payload"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := client.Call(ctx, req)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.MessageGuid != req.MessageGuid {
		t.Fatalf("response not correlated to request")
	}
	if string(resp.ValueStream) != "payload" {
		t.Fatalf("got %q", resp.ValueStream)
	}
}

func TestCallTimesOutWithoutResponse(t *testing.T) {
	// A handler that never answers.
	silent := noopHandler{}
	client, _ := newPipeSessions(t, silent)
	client.opts.RequestTimeout = 20 * time.Millisecond

	req := wire.NewRequest(wire.Query, wire.NewIdentifier(), "Increment", 1, nil)
	_, err := client.Call(context.Background(), req)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if !wire.IsKind(err, wire.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestCallRespectsContextCancellation(t *testing.T) {
	client, _ := newPipeSessions(t, noopHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	req := wire.NewRequest(wire.Query, wire.NewIdentifier(), "Increment", 1, nil)

	done := make(chan error, 1)
	go func() {
		_, err := client.Call(ctx, req)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !wire.IsKind(err, wire.Timeout) {
			t.Fatalf("expected a cancellation-flavored Timeout error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Call did not observe context cancellation")
	}
}

func TestDistinctCallsGetDistinctGuids(t *testing.T) {
	r1 := wire.NewRequest(wire.Query, wire.NewIdentifier(), "A", 0, nil)
	r2 := wire.NewRequest(wire.Query, wire.NewIdentifier(), "B", 0, nil)
	if r1.MessageGuid == r2.MessageGuid {
		t.Fatalf("two requests minted the same MessageGuid")
	}
}

func TestFaultBroadcastsSessionClosedToPendingCalls(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := New(clientConn, noopHandler{}, Options{})
	server := New(serverConn, noopHandler{}, Options{})
	defer client.Close()

	req := wire.NewRequest(wire.Query, wire.NewIdentifier(), "Increment", 1, nil)
	done := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), req)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the call register in client.pending
	server.Close()
	clientConn.Close()

	select {
	case err := <-done:
		if !wire.IsKind(err, wire.SessionClosed) {
			t.Fatalf("expected SessionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending call was never woken by fault")
	}
}

func TestSendDoesNotWaitForReply(t *testing.T) {
	client, _ := newPipeSessions(t, noopHandler{})

	notification := wire.NewEventNotification(wire.NewIdentifier(), "Changed", nil)
	if err := client.Send(notification); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestEnqueueReturnsCongestionWhenQueueFull(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	// Queue depth 1 with no reader on the other end keeps the writer
	// goroutine blocked on its first write, so the second enqueue takes the
	// channel's only slot and the third finds it full.
	client := New(clientConn, noopHandler{}, Options{QueueDepth: 1})
	defer client.Close()

	first := wire.NewEventNotification(wire.NewIdentifier(), "A", nil)
	second := wire.NewEventNotification(wire.NewIdentifier(), "B", nil)
	third := wire.NewEventNotification(wire.NewIdentifier(), "C", nil)

	_ = client.Send(first)
	_ = client.Send(second)
	err := client.Send(third)
	if err == nil {
		t.Fatalf("expected Congestion once the queue depth is exceeded")
	}
	if !wire.IsKind(err, wire.Congestion) {
		t.Fatalf("expected Congestion, got %v", err)
	}
}
