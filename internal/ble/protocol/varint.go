package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeVarint returns the protobuf varint encoding of v.
func EncodeVarint(v uint64) []byte {
	return appendVarint(nil, v)
}

// EncodeSignedVarint encodes a signed value, rejecting negatives. The device
// only uses unsigned varints; this exists for callers holding plain ints.
func EncodeSignedVarint(v int64) ([]byte, error) {
	if v < 0 {
		return nil, fmt.Errorf("protocol: varint must be non-negative, got %d: %w", v, ErrArgument)
	}
	return EncodeVarint(uint64(v)), nil
}

// DecodeVarint reads a varint from buf starting at offset and returns the
// value and the number of bytes consumed.
func DecodeVarint(buf []byte, offset int) (uint64, int, error) {
	if offset < 0 || offset > len(buf) {
		return 0, 0, fmt.Errorf("protocol: varint offset %d outside %d-byte buffer: %w", offset, len(buf), ErrDecode)
	}
	val, n := binary.Uvarint(buf[offset:])
	switch {
	case n == 0:
		return 0, 0, fmt.Errorf("protocol: truncated varint at offset %d: %w", offset, ErrDecode)
	case n < 0:
		return 0, 0, fmt.Errorf("protocol: varint at offset %d overflows 64 bits: %w", offset, ErrDecode)
	}
	return val, n, nil
}

// appendVarint appends a protobuf varint to buf.
func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
