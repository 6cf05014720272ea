// Package protocol implements the Casper Glow BLE wire format: a small
// subset of protobuf (varints and length-delimited fields) carried in GATT
// writes and notifications. Everything here is pure; no I/O.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// WireType is the framing of a field value, taken from the low three bits
// of the tag.
type WireType uint8

const (
	WireVarint  WireType = 0
	WireFixed64 WireType = 1
	WireBytes   WireType = 2
	WireFixed32 WireType = 5
)

func (w WireType) String() string {
	switch w {
	case WireVarint:
		return "varint"
	case WireFixed64:
		return "fixed64"
	case WireBytes:
		return "bytes"
	case WireFixed32:
		return "fixed32"
	default:
		return fmt.Sprintf("wiretype(%d)", uint8(w))
	}
}

// Field is one decoded (tag, value) pair. Bytes holds length-delimited
// values; Varint holds everything else, fixed-width values included.
type Field struct {
	Number uint32
	Type   WireType
	Varint uint64
	Bytes  []byte
}

// ParseFields decodes buf into its top-level fields, in wire order.
// Unknown field numbers are kept. Nested messages are left as Bytes.
func ParseFields(buf []byte) ([]Field, error) {
	var fields []Field
	err := walkFields(buf, func(f Field) bool {
		fields = append(fields, f)
		return true
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// walkFields calls visit for each top-level field until visit returns false
// or the input ends. On malformed input it returns ErrDecode after visiting
// every field before the fault.
func walkFields(buf []byte, visit func(Field) bool) error {
	pos := 0
	for pos < len(buf) {
		tag, n, err := DecodeVarint(buf, pos)
		if err != nil {
			return fmt.Errorf("protocol: reading tag: %w", err)
		}
		pos += n
		if tag>>3 == 0 || tag>>3 > 1<<29-1 {
			return fmt.Errorf("protocol: invalid field number %d: %w", tag>>3, ErrDecode)
		}
		f := Field{Number: uint32(tag >> 3), Type: WireType(tag & 0x07)}

		switch f.Type {
		case WireVarint:
			val, n, err := DecodeVarint(buf, pos)
			if err != nil {
				return fmt.Errorf("protocol: reading varint for field %d: %w", f.Number, err)
			}
			pos += n
			f.Varint = val
		case WireFixed64:
			if len(buf)-pos < 8 {
				return fmt.Errorf("protocol: truncated fixed64 for field %d: %w", f.Number, ErrDecode)
			}
			f.Varint = binary.LittleEndian.Uint64(buf[pos:])
			pos += 8
		case WireFixed32:
			if len(buf)-pos < 4 {
				return fmt.Errorf("protocol: truncated fixed32 for field %d: %w", f.Number, ErrDecode)
			}
			f.Varint = uint64(binary.LittleEndian.Uint32(buf[pos:]))
			pos += 4
		case WireBytes:
			length, n, err := DecodeVarint(buf, pos)
			if err != nil {
				return fmt.Errorf("protocol: reading length for field %d: %w", f.Number, err)
			}
			pos += n
			if length > uint64(len(buf)-pos) {
				return fmt.Errorf("protocol: field %d length %d exceeds remaining %d bytes: %w",
					f.Number, length, len(buf)-pos, ErrDecode)
			}
			f.Bytes = make([]byte, length)
			copy(f.Bytes, buf[pos:pos+int(length)])
			pos += int(length)
		default:
			return fmt.Errorf("protocol: unsupported wire type %d for field %d: %w", f.Type, f.Number, ErrDecode)
		}
		if !visit(f) {
			return nil
		}
	}
	return nil
}

// FirstVarint returns the first varint field with the given number.
func FirstVarint(fields []Field, number uint32) (uint64, bool) {
	for _, f := range fields {
		if f.Number == number && f.Type == WireVarint {
			return f.Varint, true
		}
	}
	return 0, false
}

// FirstBytes returns the first length-delimited field with the given number.
func FirstBytes(fields []Field, number uint32) ([]byte, bool) {
	for _, f := range fields {
		if f.Number == number && f.Type == WireBytes {
			return f.Bytes, true
		}
	}
	return nil, false
}

// appendTag appends the tag for (number, wire type).
func appendTag(buf []byte, number uint32, wt WireType) []byte {
	return appendVarint(buf, uint64(number)<<3|uint64(wt))
}

// appendVarintField appends a complete varint field.
func appendVarintField(buf []byte, number uint32, v uint64) []byte {
	buf = appendTag(buf, number, WireVarint)
	return appendVarint(buf, v)
}

// appendBytesField appends a complete length-delimited field.
func appendBytesField(buf []byte, number uint32, b []byte) []byte {
	buf = appendTag(buf, number, WireBytes)
	buf = appendVarint(buf, uint64(len(b)))
	return append(buf, b...)
}
