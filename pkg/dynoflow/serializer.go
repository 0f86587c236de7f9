package dynoflow

import (
	"encoding/json"
	"fmt"
)

// Serializer encodes and decodes checkpoint payload values. The type
// tag travels with the stored bytes and comes back on decode; the
// library never inspects payload contents beyond threading the tag
// through unchanged.
//
// Implementations must be safe for concurrent use.
type Serializer interface {
	// Encode serializes v, returning the type tag to store alongside
	// the bytes.
	Encode(v any) (typeTag string, data []byte, err error)

	// Decode deserializes data into out (a pointer). It must reject
	// tags it does not understand.
	Decode(typeTag string, data []byte, out any) error
}

// JSONSerializer is the default Serializer. It tags everything "json".
type JSONSerializer struct{}

// Compile-time interface check.
var _ Serializer = JSONSerializer{}

const jsonTypeTag = "json"

// Encode implements Serializer.
func (JSONSerializer) Encode(v any) (string, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode json: %w", err)
	}
	return jsonTypeTag, data, nil
}

// Decode implements Serializer.
func (JSONSerializer) Decode(typeTag string, data []byte, out any) error {
	if typeTag != jsonTypeTag {
		return fmt.Errorf("decode: unsupported type tag %q", typeTag)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
