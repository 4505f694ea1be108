// Package bitio provides endian-parameterized primitive encoders and
// decoders for the fixed-width integers that make up every on-disk
// SquashFS structure. Every call takes an explicit binary.ByteOrder so
// that a single codec can serve the little-endian, big-endian, and
// mixed-endian (AVM Fritz!Box) dialects without any global state.
package bitio

import (
	"encoding/binary"
	"fmt"
)

// ErrShortBuffer is returned when a Read helper is given fewer bytes
// than the field it is asked to decode requires.
type ErrShortBuffer struct {
	Field string
	Want  int
	Got   int
}

func (e *ErrShortBuffer) Error() string {
	return fmt.Sprintf("bitio: reading %s needs %d bytes, got %d", e.Field, e.Want, e.Got)
}

func need(field string, b []byte, n int) error {
	if len(b) < n {
		return &ErrShortBuffer{Field: field, Want: n, Got: len(b)}
	}
	return nil
}

func ReadUint16(order binary.ByteOrder, b []byte) (uint16, error) {
	if err := need("uint16", b, 2); err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

func ReadInt16(order binary.ByteOrder, b []byte) (int16, error) {
	v, err := ReadUint16(order, b)
	return int16(v), err
}

func ReadUint32(order binary.ByteOrder, b []byte) (uint32, error) {
	if err := need("uint32", b, 4); err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

func ReadInt32(order binary.ByteOrder, b []byte) (int32, error) {
	v, err := ReadUint32(order, b)
	return int32(v), err
}

func ReadUint64(order binary.ByteOrder, b []byte) (uint64, error) {
	if err := need("uint64", b, 8); err != nil {
		return 0, err
	}
	return order.Uint64(b), nil
}

func ReadInt64(order binary.ByteOrder, b []byte) (int64, error) {
	v, err := ReadUint64(order, b)
	return int64(v), err
}

func PutUint16(order binary.ByteOrder, b []byte, v uint16) {
	order.PutUint16(b, v)
}

func PutUint32(order binary.ByteOrder, b []byte, v uint32) {
	order.PutUint32(b, v)
}

func PutUint64(order binary.ByteOrder, b []byte, v uint64) {
	order.PutUint64(b, v)
}

// Order returns the stdlib ByteOrder implementation for a boolean "big"
// flag, which is how Kind stores each of its three independent endian
// selectors.
func Order(big bool) binary.ByteOrder {
	if big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
