// Package wire implements the frame-level concerns of the RPC transport:
// the envelope (message) format, identifiers, the frame codec, and the
// typed errors the rest of the module reports through.
//
// Called by: internal/session, internal/dispatch, internal/codec
package wire

import "github.com/vmihailenco/msgpack/v5"

// MessageType enumerates the envelope kinds exchanged on a session.
type MessageType string

const (
	RootQuery         MessageType = "RootQuery"
	Query             MessageType = "Query"
	Get               MessageType = "Get"
	Set               MessageType = "Set"
	EventAdd          MessageType = "EventAdd"
	EventRemove       MessageType = "EventRemove"
	EventNotification MessageType = "EventNotification"
	ProxyFinalized    MessageType = "ProxyFinalized"
	Response          MessageType = "Response"
	Exception         MessageType = "Exception"

	// Authenticate is exchanged once, directly over the raw connection,
	// before a session is ever constructed: the dialing side presents a
	// credential and the accepting side answers with a Response (accepted)
	// or an Exception carrying an Unauthorized payload (rejected).
	Authenticate MessageType = "Authenticate"
)

// Envelope is one framed message on the wire. ValueStream is opaque to
// this package; it is produced and consumed by an internal/codec.Codec.
type Envelope struct {
	MessageGuid     Identifier  `msgpack:"g"`
	DtoGuid         Identifier  `msgpack:"d"`
	MessageType     MessageType `msgpack:"t"`
	MemberName      string      `msgpack:"m,omitempty"`
	ParametersCount int         `msgpack:"n,omitempty"`
	ValueStream     []byte      `msgpack:"v,omitempty"`

	// lazyValue, when set, is resolved by WriteFrame in place of
	// ValueStream, at the moment the writer goroutine actually serializes
	// the frame rather than when the envelope was queued. Used for
	// PropertyChanged notifications (spec §4.6), whose payload must reflect
	// whatever value is live when the notification is sent.
	lazyValue func() ([]byte, error)
}

// NewRequest builds a request envelope with a freshly minted MessageGuid.
// The MessageGuid is minted by whichever peer originates the request: the
// client for Query/Get/Set/EventAdd/EventRemove/RootQuery, the server for
// EventNotification (which carries its own MessageGuid but is never
// answered with a Response).
func NewRequest(mt MessageType, dtoGuid Identifier, member string, paramCount int, value []byte) *Envelope {
	return &Envelope{
		MessageGuid:     NewIdentifier(),
		DtoGuid:         dtoGuid,
		MessageType:     mt,
		MemberName:      member,
		ParametersCount: paramCount,
		ValueStream:     value,
	}
}

// NewResponse builds a Response envelope correlated to the originating
// request's MessageGuid.
func NewResponse(requestGuid Identifier, value []byte) *Envelope {
	return &Envelope{
		MessageGuid: requestGuid,
		MessageType: Response,
		ValueStream: value,
	}
}

// NewException builds an Exception envelope correlated to the originating
// request's MessageGuid.
func NewException(requestGuid Identifier, value []byte) *Envelope {
	return &Envelope{
		MessageGuid: requestGuid,
		MessageType: Exception,
		ValueStream: value,
	}
}

// NewEventNotification builds an unsolicited server-to-client event
// envelope. Its MessageGuid is fresh (it is never responded to, but every
// envelope needs one for the frame codec's bookkeeping and for log
// correlation).
func NewEventNotification(dtoGuid Identifier, eventName string, value []byte) *Envelope {
	return &Envelope{
		MessageGuid: NewIdentifier(),
		DtoGuid:     dtoGuid,
		MessageType: EventNotification,
		MemberName:  eventName,
		ValueStream: value,
	}
}

// NewLazyEventNotification builds an unsolicited event envelope whose
// payload is computed by build at send time rather than at call time. The
// server dispatcher uses this for PropertyChanged so a notification sitting
// briefly in the write queue still reports the property's current value
// rather than a value that may already be stale by the time it is flushed.
func NewLazyEventNotification(dtoGuid Identifier, eventName string, build func() ([]byte, error)) *Envelope {
	return &Envelope{
		MessageGuid: NewIdentifier(),
		DtoGuid:     dtoGuid,
		MessageType: EventNotification,
		MemberName:  eventName,
		lazyValue:   build,
	}
}

// NewAuthenticate builds the credential handshake envelope a dialing
// connection sends before anything else.
func NewAuthenticate(credential []byte) *Envelope {
	return &Envelope{
		MessageGuid: NewIdentifier(),
		MessageType: Authenticate,
		ValueStream: credential,
	}
}

// ExceptionPayload is the conventional shape of an Exception envelope's
// decoded ValueStream: a message plus one level of inner message.
type ExceptionPayload struct {
	Message string `msgpack:"message"`
	Inner   string `msgpack:"inner,omitempty"`
}

// EncodeExceptionPayload marshals an ExceptionPayload for use as an
// Exception envelope's ValueStream. Exceptions bypass internal/codec
// entirely — there are no references to substitute in a string message —
// so dispatch packages marshal this directly.
func EncodeExceptionPayload(p ExceptionPayload) []byte {
	data, err := msgpack.Marshal(&p)
	if err != nil {
		// Message and Inner are plain strings; marshaling cannot fail.
		panic(err)
	}
	return data
}

// DecodeExceptionPayload is the inverse of EncodeExceptionPayload.
func DecodeExceptionPayload(data []byte) (ExceptionPayload, error) {
	var p ExceptionPayload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return ExceptionPayload{}, err
	}
	return p, nil
}
