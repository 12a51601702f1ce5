package engine

import (
	"encoding/json"
	"fmt"
)

// Codec converts between a typed entity and its stored bytes. Each
// operation binds its codecs when it is configured, so the engine never
// resolves a type by name at run time.
type Codec[T any] interface {
	Decode(data []byte) (T, error)
	Encode(v T) ([]byte, error)
}

// JSONCodec stores T with encoding/json.
type JSONCodec[T any] struct{}

// Decode unmarshals data into a new T.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// Encode marshals v.
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// CodecFuncs adapts a pair of functions to Codec.
type CodecFuncs[T any] struct {
	DecodeFunc func([]byte) (T, error)
	EncodeFunc func(T) ([]byte, error)
}

// Decode calls DecodeFunc.
func (c CodecFuncs[T]) Decode(data []byte) (T, error) {
	return c.DecodeFunc(data)
}

// Encode calls EncodeFunc.
func (c CodecFuncs[T]) Encode(v T) ([]byte, error) {
	return c.EncodeFunc(v)
}
