package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wirebond/objectrpc/internal/dispatch"
	"github.com/wirebond/objectrpc/internal/proxy"
	"github.com/wirebond/objectrpc/internal/resolver"
	"github.com/wirebond/objectrpc/internal/session"
)

// ClientConfig configures Dial.
type ClientConfig struct {
	Network          string // "tcp" unless overridden
	Address          string
	Codec            Codec
	MaxFrameBytes    int
	QueueDepth       int
	RequestTimeout   int // seconds
	QuiescenceMillis int // 0 uses proxy.DefaultQuiescence
	Debug            bool

	// Credential is presented to the server's Authenticator during the
	// handshake every Dial performs. Empty unless the server requires one.
	Credential string
}

// Client is a connection to an objectrpc server: a session plus the
// client-side resolver and dispatcher that turn proxy calls into requests.
type Client struct {
	conn       net.Conn
	session    *session.Session
	dispatcher *dispatch.ClientDispatcher
	resolver   *resolver.ClientResolver
	stopPump   func()
}

// Dial connects to address and wires up the client-side dispatcher,
// resolver, and session (in that dependency order — see
// dispatch.NewClientDispatcher's doc comment).
func Dial(cfg ClientConfig) (*Client, error) {
	network := cfg.Network
	if network == "" {
		network = "tcp"
	}
	conn, err := net.Dial(network, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", cfg.Address, err)
	}
	if err := clientHandshake(conn, cfg.MaxFrameBytes, cfg.Credential); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rpc: dial %s: %w", cfg.Address, err)
	}

	d := dispatch.NewClientDispatcher(cfg.Codec.build())
	res := resolver.NewClientResolver(d)
	d.BindResolver(res)

	s := session.New(conn, d, session.Options{
		MaxFrameBytes:  cfg.MaxFrameBytes,
		QueueDepth:     cfg.QueueDepth,
		RequestTimeout: secondsOrDefault(cfg.RequestTimeout),
		Debug:          cfg.Debug,
		Label:          "client " + conn.RemoteAddr().String(),
	})
	d.BindSession(s)

	quiescence := proxy.DefaultQuiescence
	if cfg.QuiescenceMillis > 0 {
		quiescence = time.Duration(cfg.QuiescenceMillis) * time.Millisecond
	}
	stopPump := proxy.StartFinalizationPump(quiescence, quiescence/4+time.Millisecond)

	return &Client{conn: conn, session: s, dispatcher: d, resolver: res, stopPump: stopPump}, nil
}

// Root fetches the server's root object.
func (c *Client) Root(ctx context.Context) (interface{}, error) {
	return c.dispatcher.RootQuery(ctx)
}

// Resolver exposes the client resolver so application code can register
// proxy constructors via resolver.RegisterProxyType before calling Root.
func (c *Client) Resolver() *resolver.ClientResolver {
	return c.resolver
}

// Close stops the finalization pump and closes the underlying session.
func (c *Client) Close() error {
	c.stopPump()
	return c.session.Close()
}
