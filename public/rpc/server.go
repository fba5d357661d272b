// Package rpc is the public façade: Serve exposes a root object over a
// listener, Dial connects to one and returns a Client whose Root method
// fetches the root proxy. Everything
// else in this module is reached only through internal/ packages wired up
// here.
package rpc

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/wirebond/objectrpc/internal/codec"
	"github.com/wirebond/objectrpc/internal/dispatch"
	"github.com/wirebond/objectrpc/internal/registry"
	"github.com/wirebond/objectrpc/internal/session"
	"github.com/wirebond/objectrpc/internal/wire"
)

// ServerConfig configures Serve.
type ServerConfig struct {
	Network        string // "tcp" unless overridden
	Address        string
	Codec          Codec // CodecMsgpack (default) or CodecJSON
	MaxFrameBytes  int
	QueueDepth     int
	RequestTimeout int // seconds; 0 uses session's default
	Debug          bool

	// Authenticate is called once per accepted connection, before any
	// session exists, to decide whether the connection may proceed. A nil
	// Authenticate accepts every connection.
	Authenticate Authenticator
}

// Codec selects which wire codec a Server or Client uses. Both ends of a
// connection must agree.
type Codec int

const (
	CodecMsgpack Codec = iota
	CodecJSON
)

func (c Codec) build() codec.Codec {
	if c == CodecJSON {
		return codec.JSON{}
	}
	return codec.Msgpack{}
}

// Server listens for connections and exposes root over each one.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	registry *registry.Registry
	root     wire.Identifiable
}

// Serve starts accepting connections on cfg.Address and exposes root over
// each one. It registers no types itself: root's type, and any type
// reachable from it, are looked up in reg as the caller registered them.
// It blocks until ctx is cancelled or the listener fails.
func Serve(ctx context.Context, cfg ServerConfig, reg *registry.Registry, root wire.Identifiable) error {
	network := cfg.Network
	if network == "" {
		network = "tcp"
	}
	listener, err := net.Listen(network, cfg.Address)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", cfg.Address, err)
	}
	s := &Server{cfg: cfg, listener: listener, registry: reg, root: root}

	if cfg.Debug {
		log.Printf("[rpc] listening on %s (%s)", cfg.Address, network)
	}

	go func() {
		<-ctx.Done()
		if cfg.Debug {
			log.Printf("[rpc] shutting down listener on %s", cfg.Address)
		}
		s.listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[rpc] accept error: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	if _, err := serverHandshake(conn, s.cfg.MaxFrameBytes, s.cfg.Authenticate); err != nil {
		if s.cfg.Debug {
			log.Printf("[rpc] rejected %s: %v", conn.RemoteAddr(), err)
		}
		conn.Close()
		return
	}

	c := s.cfg.Codec.build()
	d := dispatch.NewServerDispatcher(s.root, s.registry, c)
	sess := session.New(conn, d, session.Options{
		MaxFrameBytes:  s.cfg.MaxFrameBytes,
		QueueDepth:     s.cfg.QueueDepth,
		RequestTimeout: secondsOrDefault(s.cfg.RequestTimeout),
		Debug:          s.cfg.Debug,
		Label:          "server " + conn.RemoteAddr().String(),
	})
	d.BindSession(sess)
}
