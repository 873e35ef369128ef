package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

var ErrNilState = errors.New("state is nil")

// State is a single point-in-time game state.
type State interface {
	// Undoable reports whether an undo may move away from this state.
	Undoable() bool

	// Clone returns a deep copy sharing no mutable memory with the receiver.
	Clone() State
}

// Codec converts states to and from bytes.
type Codec interface {
	Marshal(s State) ([]byte, error)
	Unmarshal(data []byte) (State, error)
}

// JSONCodec encodes states of concrete type T with encoding/json.
// T is usually a pointer type such as *Document.
type JSONCodec[T State] struct{}

// Marshal serializes s. It rejects nil states.
func (JSONCodec[T]) Marshal(s State) ([]byte, error) {
	if IsNil(s) {
		return nil, ErrNilState
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// Unmarshal decodes data into a fresh T.
func (JSONCodec[T]) Unmarshal(data []byte) (State, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if IsNil(v) {
		return nil, ErrNilState
	}
	return v, nil
}

// IsNil reports whether s is nil or a typed nil pointer.
func IsNil(s State) bool {
	if s == nil {
		return true
	}
	rv := reflect.ValueOf(s)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Hash returns the content address of a serialized state.
func Hash(data []byte) uint64 {
	return xxhash.Sum64(data)
}
