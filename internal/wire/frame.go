package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultMaxFrameBytes is the default upper bound on an encoded frame,
// header and ValueStream included.
const DefaultMaxFrameBytes = 64 * 1024 * 1024

// header is the msgpack-encoded form of an envelope's fixed fields,
// written before ValueStream. Encoding the header with the same codec
// used for debugging tools keeps the frame format self-describing without
// inventing a second bespoke parser.
type header struct {
	MessageGuid     Identifier  `msgpack:"g"`
	DtoGuid         Identifier  `msgpack:"d"`
	MessageType     MessageType `msgpack:"t"`
	MemberName      string      `msgpack:"m,omitempty"`
	ParametersCount int         `msgpack:"n,omitempty"`
}

// WriteFrame encodes env as [4-byte BE length][4-byte BE header
// length][header][ValueStream] and writes it to w. The first length prefix
// excludes itself.
func WriteFrame(w io.Writer, env *Envelope, maxFrameBytes int) error {
	valueStream := env.ValueStream
	if env.lazyValue != nil {
		data, err := env.lazyValue()
		if err != nil {
			return fmt.Errorf("wire: resolve lazy value stream: %w", err)
		}
		valueStream = data
	}

	h := header{
		MessageGuid:     env.MessageGuid,
		DtoGuid:         env.DtoGuid,
		MessageType:     env.MessageType,
		MemberName:      env.MemberName,
		ParametersCount: env.ParametersCount,
	}
	headerBytes, err := msgpack.Marshal(&h)
	if err != nil {
		return fmt.Errorf("wire: encode header: %w", err)
	}

	// 4-byte length-of-headerBytes prefix so the reader can split header
	// from ValueStream without a second length field in the header itself.
	total := 4 + len(headerBytes) + len(valueStream)
	if maxFrameBytes > 0 && total > maxFrameBytes {
		return NewError(ProtocolLimit, "encoded frame is %s, exceeds configured limit of %s",
			humanize.Bytes(uint64(total)), humanize.Bytes(uint64(maxFrameBytes)))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(total))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}

	var headerLenBuf [4]byte
	binary.BigEndian.PutUint32(headerLenBuf[:], uint32(len(headerBytes)))
	if _, err := w.Write(headerLenBuf[:]); err != nil {
		return fmt.Errorf("wire: write header length: %w", err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(valueStream) > 0 {
		if _, err := w.Write(valueStream); err != nil {
			return fmt.Errorf("wire: write value stream: %w", err)
		}
	}
	return nil
}

// ReadFrame reads and decodes one frame from r. It refuses to read a frame
// whose declared total length exceeds maxFrameBytes (ProtocolLimit,
// without consuming the oversize payload) and reports a short read or EOF
// mid-frame as FrameTruncated.
func ReadFrame(r io.Reader, maxFrameBytes int) (*Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, Wrap(FrameTruncated, err, "reading frame length prefix")
	}
	total := int(binary.BigEndian.Uint32(lenBuf[:]))
	if maxFrameBytes > 0 && total > maxFrameBytes {
		return nil, NewError(ProtocolLimit, "declared frame length %s exceeds configured limit of %s",
			humanize.Bytes(uint64(total)), humanize.Bytes(uint64(maxFrameBytes)))
	}
	if total < 4 {
		return nil, NewError(FrameTruncated, "declared frame length %d is smaller than the header-length field", total)
	}

	rest := make([]byte, total)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, Wrap(FrameTruncated, err, "reading frame body of %d bytes", total)
	}

	headerLen := int(binary.BigEndian.Uint32(rest[:4]))
	if 4+headerLen > len(rest) {
		return nil, NewError(FrameTruncated, "header length %d exceeds frame body", headerLen)
	}
	var h header
	if err := msgpack.Unmarshal(rest[4:4+headerLen], &h); err != nil {
		return nil, Wrap(FrameTruncated, err, "decoding frame header")
	}

	env := &Envelope{
		MessageGuid:     h.MessageGuid,
		DtoGuid:         h.DtoGuid,
		MessageType:     h.MessageType,
		MemberName:      h.MemberName,
		ParametersCount: h.ParametersCount,
	}
	valueStart := 4 + headerLen
	if valueStart < len(rest) {
		env.ValueStream = rest[valueStart:]
	}
	return env, nil
}
