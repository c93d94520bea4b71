// ABOUTME: Order-preserving encoding for composite keys
// ABOUTME: Supports bytes, integers and times with lexicographic ordering

package storage

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Value types for composite keys
const (
	TYPE_BYTES  = 1
	TYPE_INT64  = 2
	TYPE_UINT64 = 3
	TYPE_TIME   = 4 // Stored as int64 Unix nanoseconds
)

const (
	escapeByte = 0xFE
	terminator = 0x00
	infinity   = 0xFF
)

// Value represents a single value in a composite key
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
	Time time.Time
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// NewInt64Value creates an int64 value
func NewInt64Value(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// NewTimeValue creates a time value
func NewTimeValue(t time.Time) Value {
	return Value{Type: TYPE_TIME, Time: t}
}

// EncodeValues encodes multiple values in order-preserving format.
// Each value is tagged with its type so no encoding starts with 0xFF.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.Type)

		switch v.Type {
		case TYPE_INT64:
			out = appendSigned(out, v.I64)

		case TYPE_UINT64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], v.U64)
			out = append(out, buf[:]...)

		case TYPE_TIME:
			out = appendSigned(out, v.Time.UnixNano())

		case TYPE_BYTES:
			out = appendEscaped(out, v.Str)
			out = append(out, terminator)

		default:
			panic(fmt.Sprintf("unknown type: %d", v.Type))
		}
	}
	return out
}

// appendSigned flips the sign bit so negative values sort first
func appendSigned(out []byte, i int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i)+(1<<63))
	return append(out, buf[:]...)
}

// appendEscaped escapes 0x00, 0xFE and 0xFF so the terminator and the
// +infinity byte never appear inside an encoded string
func appendEscaped(out, s []byte) []byte {
	for _, b := range s {
		switch b {
		case terminator, escapeByte, infinity:
			out = append(out, escapeByte, b)
		default:
			out = append(out, b)
		}
	}
	return out
}

// DecodeValues decodes values from encoded format
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_INT64, TYPE_UINT64, TYPE_TIME:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete fixed-width value at pos %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			pos += 8
			switch typ {
			case TYPE_INT64:
				vals = append(vals, NewInt64Value(int64(u-(1<<63))))
			case TYPE_UINT64:
				vals = append(vals, NewUint64Value(u))
			default:
				vals = append(vals, NewTimeValue(time.Unix(0, int64(u-(1<<63))).UTC()))
			}

		case TYPE_BYTES:
			str := make([]byte, 0, 16)
			terminated := false
			for pos < len(data) {
				b := data[pos]
				pos++
				if b == escapeByte && pos < len(data) {
					str = append(str, data[pos])
					pos++
					continue
				}
				if b == terminator {
					terminated = true
					break
				}
				str = append(str, b)
			}
			if !terminated {
				return nil, fmt.Errorf("unterminated string at pos %d", pos)
			}
			vals = append(vals, NewBytesValue(str))

		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// EncodeKey encodes a composite key with prefix
func EncodeKey(prefix uint32, vals []Value) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], prefix)
	out := append([]byte{}, buf[:]...)
	return append(out, EncodeValues(vals)...)
}

// KeyUpperBound returns the exclusive upper bound of every key that starts
// with the given prefix and leading values
func KeyUpperBound(prefix uint32, vals []Value) []byte {
	return append(EncodeKey(prefix, vals), infinity)
}

// ExtractPrefix extracts the prefix from an encoded key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues extracts and decodes values from an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}
