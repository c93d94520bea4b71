// ABOUTME: Tagged document node model for schemaless nested documents
// ABOUTME: Objects keep insertion order, opaque scalars are never descended

package doctree

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Kind identifies the variant held by a Node
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
	KindOpaque
)

// IdentityField is the document key that is never rewritten
const IdentityField = "_id"

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindOpaque:
		return "opaque"
	}
	return "unknown"
}

// Field is a single key/value pair of an object node
type Field struct {
	Key   string
	Value *Node
}

// Node is a document value. Only the members matching Kind are meaningful.
type Node struct {
	Kind   Kind
	Str    string  // KindString
	Bool   bool    // KindBool
	Items  []*Node // KindArray
	Fields []Field // KindObject
	Tag    string  // KindOpaque: objectId, date, binary, ...
	Scalar any     // KindNumber and KindOpaque: backend-native value
}

// Null creates a null node
func Null() *Node {
	return &Node{Kind: KindNull}
}

// String creates a string node
func String(s string) *Node {
	return &Node{Kind: KindString, Str: s}
}

// Number creates a number node holding a backend-native numeric value
func Number(v any) *Node {
	return &Node{Kind: KindNumber, Scalar: v}
}

// Bool creates a boolean node
func Bool(b bool) *Node {
	return &Node{Kind: KindBool, Bool: b}
}

// Array creates an array node
func Array(items ...*Node) *Node {
	if items == nil {
		items = []*Node{}
	}
	return &Node{Kind: KindArray, Items: items}
}

// Object creates an object node; field order is kept as given
func Object(fields ...Field) *Node {
	if fields == nil {
		fields = []Field{}
	}
	return &Node{Kind: KindObject, Fields: fields}
}

// Opaque creates a pass-through scalar (dates, binary ids, ...)
func Opaque(tag string, v any) *Node {
	return &Node{Kind: KindOpaque, Tag: tag, Scalar: v}
}

// F is shorthand for building object fields
func F(key string, value *Node) Field {
	return Field{Key: key, Value: value}
}

// IsString reports whether n is a string node
func (n *Node) IsString() bool {
	return n != nil && n.Kind == KindString
}

// Get returns the value of an object field
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.Kind != KindObject {
		return nil, false
	}
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces an existing object field in place or appends a new one.
// It is a no-op on non-object nodes.
func (n *Node) Set(key string, value *Node) {
	if n == nil || n.Kind != KindObject {
		return
	}
	for i := range n.Fields {
		if n.Fields[i].Key == key {
			n.Fields[i].Value = value
			return
		}
	}
	n.Fields = append(n.Fields, Field{Key: key, Value: value})
}

// Delete removes an object field, reporting whether it existed
func (n *Node) Delete(key string) bool {
	if n == nil || n.Kind != KindObject {
		return false
	}
	for i := range n.Fields {
		if n.Fields[i].Key == key {
			n.Fields = append(n.Fields[:i], n.Fields[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup resolves an address relative to n
func (n *Node) Lookup(addr Address) (*Node, bool) {
	cur := n
	for _, seg := range addr.segs {
		if cur == nil {
			return nil, false
		}
		if seg.IsIndex {
			if cur.Kind != KindArray || seg.Index < 0 || seg.Index >= len(cur.Items) {
				return nil, false
			}
			cur = cur.Items[seg.Index]
			continue
		}
		next, ok := cur.Get(seg.Key)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, cur != nil
}

// Clone returns a deep copy. Scalar payloads are shared, they are never mutated.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	switch n.Kind {
	case KindArray:
		out.Items = make([]*Node, len(n.Items))
		for i, item := range n.Items {
			out.Items[i] = item.Clone()
		}
	case KindObject:
		out.Fields = make([]Field, len(n.Fields))
		for i, f := range n.Fields {
			out.Fields[i] = Field{Key: f.Key, Value: f.Value.Clone()}
		}
	}
	return &out
}

// Equal compares two nodes structurally, including object key order
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindString:
		return a.Str == b.Str
	case KindBool:
		return a.Bool == b.Bool
	case KindNumber:
		return scalarEqual(a.Scalar, b.Scalar)
	case KindOpaque:
		return a.Tag == b.Tag && scalarEqual(a.Scalar, b.Scalar)
	case KindArray:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Key != b.Fields[i].Key || !Equal(a.Fields[i].Value, b.Fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

func scalarEqual(a, b any) bool {
	ra, aok := a.(json.RawMessage)
	rb, bok := b.(json.RawMessage)
	if aok && bok {
		return bytes.Equal(ra, rb)
	}
	return reflect.DeepEqual(a, b)
}
