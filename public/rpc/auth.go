package rpc

import (
	"net"

	"github.com/wirebond/objectrpc/internal/wire"
)

// Principal identifies the party behind a connection, as established by
// an Authenticator during the credential handshake every connection goes
// through before a session is built.
type Principal struct {
	ID         string
	Attributes map[string]string
}

// Authenticator inspects the credential a dialing connection presented
// and either returns the Principal behind it or rejects the connection.
// Serve calls this once per accepted connection, before any request is
// dispatched; returning an error rejects the connection with an
// Unauthorized fault and the connection is closed without ever reaching
// a session or the root object.
type Authenticator func(conn net.Conn, credential string) (Principal, error)

func allowAll(net.Conn, string) (Principal, error) {
	return Principal{}, nil
}

// serverHandshake reads the client's Authenticate envelope and answers
// with a Response (accepted) or an Exception carrying an Unauthorized
// payload (rejected). authenticate defaults to allowAll when nil, so a
// Server that never configures one still performs the handshake, just
// without rejecting anyone.
func serverHandshake(conn net.Conn, maxFrameBytes int, authenticate Authenticator) (Principal, error) {
	if authenticate == nil {
		authenticate = allowAll
	}
	env, err := wire.ReadFrame(conn, maxFrameBytes)
	if err != nil {
		return Principal{}, err
	}

	principal, err := authenticate(conn, string(env.ValueStream))
	if err != nil {
		rejected := wire.NewError(wire.Unauthorized, "connection rejected: %v", err)
		payload := wire.EncodeExceptionPayload(wire.ExceptionPayload{Message: rejected.Error()})
		wire.WriteFrame(conn, wire.NewException(env.MessageGuid, payload), maxFrameBytes)
		return Principal{}, rejected
	}

	if err := wire.WriteFrame(conn, wire.NewResponse(env.MessageGuid, nil), maxFrameBytes); err != nil {
		return Principal{}, err
	}
	return principal, nil
}

// clientHandshake presents credential and waits for the accepting side's
// verdict. Every Dial performs this, sending an empty credential when
// ClientConfig.Credential is unset.
func clientHandshake(conn net.Conn, maxFrameBytes int, credential string) error {
	if err := wire.WriteFrame(conn, wire.NewAuthenticate([]byte(credential)), maxFrameBytes); err != nil {
		return err
	}
	resp, err := wire.ReadFrame(conn, maxFrameBytes)
	if err != nil {
		return err
	}
	if resp.MessageType == wire.Exception {
		payload, decodeErr := wire.DecodeExceptionPayload(resp.ValueStream)
		if decodeErr != nil {
			return wire.Wrap(wire.Unauthorized, decodeErr, "connection rejected")
		}
		return wire.NewError(wire.Unauthorized, "%s", payload.Message)
	}
	return nil
}
