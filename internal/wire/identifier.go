package wire

import (
	"github.com/google/uuid"
)

// Identifier is the 128-bit value naming a DTO across the wire. Equality is
// bitwise. Only the server mints identifiers (NewIdentifier); clients only
// ever receive and echo them.
type Identifier [16]byte

// Nil is the zero identifier, used to mean "no target" (RootQuery, and
// server-originated events that are not bound to an object).
var Nil Identifier

// NewIdentifier mints a fresh identifier. Called by the server resolver the
// first time an object is serialized.
func NewIdentifier() Identifier {
	return Identifier(uuid.New())
}

func (id Identifier) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero identifier.
func (id Identifier) IsNil() bool {
	return id == Nil
}

// ParseIdentifier parses the canonical textual form produced by String.
func ParseIdentifier(s string) (Identifier, error) {
	if s == "" {
		return Nil, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, Wrap(FrameTruncated, err, "invalid identifier %q", s)
	}
	return Identifier(u), nil
}

// MarshalText/UnmarshalText make Identifier usable directly as a msgpack or
// JSON string, matching how the rest of the wire format represents it.
func (id Identifier) MarshalText() ([]byte, error) {
	if id.IsNil() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
