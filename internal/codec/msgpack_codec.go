package codec

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack is the default Codec, used for the demo server/client and
// recommended for production use: a compact binary ValueStream.
type Msgpack struct{}

var msgpackLeaf = leafCodec{
	marshal:   msgpack.Marshal,
	unmarshal: unmarshalLooseLeaf,
}

// unmarshalLooseLeaf decodes a leaf with loose interface decoding, so a
// generically decoded integer comes back as int64 (uint64 when unsigned)
// and a float as float64, rather than the narrowest type that fits.
func unmarshalLooseLeaf(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

func (Msgpack) Encode(values []interface{}, rw ReferenceWriter) ([]byte, error) {
	list := make([]node, len(values))
	for i, v := range values {
		n, err := buildNode(v, rw, msgpackLeaf)
		if err != nil {
			return nil, err
		}
		list[i] = n
	}
	out, err := msgpack.Marshal(&node{List: list})
	if err != nil {
		return nil, fmt.Errorf("codec: marshal value stream: %w", err)
	}
	return out, nil
}

func (Msgpack) Decode(data []byte, targets []reflect.Type, rr ReferenceReader) ([]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var top node
	if err := msgpack.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("codec: unmarshal value stream: %w", err)
	}
	out := make([]interface{}, len(top.List))
	for i, child := range top.List {
		var target reflect.Type
		if i < len(targets) {
			target = targets[i]
		}
		v, err := readNode(child, target, rr, msgpackLeaf)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
