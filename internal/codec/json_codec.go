package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// JSON is an alternate Codec built on encoding/json. Useful when the
// ValueStream needs to stay human-readable, at the cost of size versus
// Msgpack.
type JSON struct{}

var jsonLeaf = leafCodec{
	marshal:   json.Marshal,
	unmarshal: json.Unmarshal,
}

func (JSON) Encode(values []interface{}, rw ReferenceWriter) ([]byte, error) {
	list := make([]node, len(values))
	for i, v := range values {
		n, err := buildNode(v, rw, jsonLeaf)
		if err != nil {
			return nil, err
		}
		list[i] = n
	}
	out, err := json.Marshal(&node{List: list})
	if err != nil {
		return nil, fmt.Errorf("codec: marshal value stream: %w", err)
	}
	return out, nil
}

func (JSON) Decode(data []byte, targets []reflect.Type, rr ReferenceReader) ([]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var top node
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("codec: unmarshal value stream: %w", err)
	}
	out := make([]interface{}, len(top.List))
	for i, child := range top.List {
		var target reflect.Type
		if i < len(targets) {
			target = targets[i]
		}
		v, err := readNode(child, target, rr, jsonLeaf)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
