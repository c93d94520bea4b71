// ABOUTME: Order-preserving JSON codec for document trees
// ABOUTME: Extended-JSON wrappers ($oid, $date, ...) decode as opaque scalars

package doctree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when input is not a single valid JSON value
var ErrInvalidJSON = errors.New("doctree: invalid json")

// extendedTags maps extended-JSON wrapper keys to opaque tags
var extendedTags = map[string]string{
	"$oid":               "objectId",
	"$date":              "date",
	"$binary":            "binary",
	"$uuid":              "uuid",
	"$numberDecimal":     "decimal",
	"$numberLong":        "long",
	"$numberInt":         "int",
	"$numberDouble":      "double",
	"$timestamp":         "timestamp",
	"$regularExpression": "regex",
	"$minKey":            "minKey",
	"$maxKey":            "maxKey",
}

// Decode parses JSON into a node tree, keeping object key order
func Decode(data []byte) (*Node, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	return fromResult(gjson.ParseBytes(data)), nil
}

func fromResult(r gjson.Result) *Node {
	switch {
	case r.IsObject():
		if tag, ok := extendedTag(r); ok {
			return Opaque(tag, json.RawMessage(strings.TrimSpace(r.Raw)))
		}
		obj := Object()
		r.ForEach(func(key, value gjson.Result) bool {
			obj.Fields = append(obj.Fields, Field{Key: key.String(), Value: fromResult(value)})
			return true
		})
		return obj
	case r.IsArray():
		arr := Array()
		r.ForEach(func(_, value gjson.Result) bool {
			arr.Items = append(arr.Items, fromResult(value))
			return true
		})
		return arr
	}

	switch r.Type {
	case gjson.String:
		return String(r.Str)
	case gjson.Number:
		return Number(json.Number(strings.TrimSpace(r.Raw)))
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	default:
		return Null()
	}
}

func extendedTag(r gjson.Result) (string, bool) {
	var tag string
	n := 0
	r.ForEach(func(key, _ gjson.Result) bool {
		n++
		tag = extendedTags[key.String()]
		return n < 2
	})
	return tag, n == 1 && tag != ""
}

// Encode renders a node tree as compact JSON, keeping object key order
func Encode(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeNode(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode for trees known to hold only JSON-safe scalars
func MustEncode(n *Node) []byte {
	out, err := Encode(n)
	if err != nil {
		panic(err)
	}
	return out
}

func encodeNode(buf *bytes.Buffer, n *Node) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}

	switch n.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		writeString(buf, n.Str)
	case KindBool:
		if n.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber, KindOpaque:
		return encodeScalar(buf, n)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeNode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, f := range n.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, f.Key)
			buf.WriteByte(':')
			if err := encodeNode(buf, f.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("doctree: cannot encode kind %d", n.Kind)
	}
	return nil
}

func encodeScalar(buf *bytes.Buffer, n *Node) error {
	switch v := n.Scalar.(type) {
	case json.RawMessage:
		buf.Write(v)
		return nil
	case json.Number:
		buf.WriteString(v.String())
		return nil
	}
	out, err := json.Marshal(n.Scalar)
	if err != nil {
		return fmt.Errorf("doctree: encode %s scalar: %w", n.Kind, err)
	}
	buf.Write(out)
	return nil
}

const hexDigits = "0123456789abcdef"

// writeString quotes s as a JSON string without HTML escaping
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"' || c == '\\':
				buf.WriteByte('\\')
				buf.WriteByte(c)
			case c == '\n':
				buf.WriteString(`\n`)
			case c == '\r':
				buf.WriteString(`\r`)
			case c == '\t':
				buf.WriteString(`\t`)
			case c < 0x20:
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xF])
			default:
				buf.WriteByte(c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteString(`\ufffd`)
		} else {
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}

// MarshalJSON implements json.Marshaler
func (n *Node) MarshalJSON() ([]byte, error) {
	return Encode(n)
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Node) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*n = *decoded
	return nil
}
