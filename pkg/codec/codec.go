// Package codec converts values to and from their wire representations:
// for a MIME identifier it provides FromValue/ToValue/Release, used by
// queries requesting serialized results and by publish.
package codec

import (
	"encoding/json"
	"fmt"
)

// Codec converts between Go values and a wire representation for one MIME
// content type.
type Codec interface {
	// ContentType returns the MIME identifier this codec handles.
	ContentType() string
	// FromValue serializes a Go value into bytes.
	FromValue(value interface{}) ([]byte, error)
	// ToValue deserializes bytes into dst, a pointer to the destination.
	ToValue(data []byte, dst interface{}) error
	// Release returns serialized bytes to any pool the codec maintains.
	// The reference codecs shipped here don't pool, so this is a no-op,
	// but mount implementations that do pool buffers hook in here.
	Release(data []byte)
}

// Registry maps MIME identifiers to their Codec.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry creates a Registry pre-populated with the reference codecs
// this build ships for testability: text/plain
// and application/json.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(JSONCodec{})
	r.Register(TextCodec{})
	return r
}

// Register adds or replaces a codec for its content type.
func (r *Registry) Register(c Codec) {
	r.codecs[c.ContentType()] = c
}

// Get looks up the codec for a content type.
func (r *Registry) Get(contentType string) (Codec, bool) {
	c, ok := r.codecs[contentType]
	return c, ok
}

// ---------------------------------------------------------------------------
// application/json
// ---------------------------------------------------------------------------

// JSONCodec serializes values with encoding/json.
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) FromValue(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONCodec) ToValue(data []byte, dst interface{}) error {
	return json.Unmarshal(data, dst)
}

func (JSONCodec) Release([]byte) {}

// ---------------------------------------------------------------------------
// text/plain
// ---------------------------------------------------------------------------

// TextCodec serializes values via fmt.Sprint-style conversion — the simplest
// non-structured wire representation, used by scalar objects that don't need
// a structured envelope. It decodes only into *string or *[]byte; any other
// destination is an error.
type TextCodec struct{}

func (TextCodec) ContentType() string { return "text/plain" }

func (TextCodec) FromValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return []byte(fmt.Sprint(v)), nil
	}
}

func (TextCodec) ToValue(data []byte, dst interface{}) error {
	switch d := dst.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	default:
		return fmt.Errorf("codec: text/plain cannot decode into %T", dst)
	}
}

func (TextCodec) Release([]byte) {}
