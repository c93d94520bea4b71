// ABOUTME: Conversion between BSON documents and document trees
// ABOUTME: BSON-only scalars (ids, dates, binary, decimals) travel as opaque nodes

package mongo

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/nainya/linksweep/pkg/doctree"
)

// FromD converts a decoded BSON document into an ordered node tree
func FromD(d bson.D) *doctree.Node {
	obj := doctree.Object()
	for _, e := range d {
		obj.Fields = append(obj.Fields, doctree.F(e.Key, FromValue(e.Value)))
	}
	return obj
}

// FromValue converts a single BSON value
func FromValue(v any) *doctree.Node {
	switch t := v.(type) {
	case nil:
		return doctree.Null()
	case string:
		return doctree.String(t)
	case bool:
		return doctree.Bool(t)
	case int32, int64, float64, int:
		return doctree.Number(t)
	case bson.D:
		return FromD(t)
	case bson.M:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := doctree.Object()
		for _, k := range keys {
			obj.Fields = append(obj.Fields, doctree.F(k, FromValue(t[k])))
		}
		return obj
	case bson.A:
		return fromSlice(t)
	case []any:
		return fromSlice(t)
	case primitive.ObjectID:
		return doctree.Opaque("objectId", t)
	case primitive.DateTime:
		return doctree.Opaque("date", t)
	case primitive.Binary:
		return doctree.Opaque("binary", t)
	case primitive.Decimal128:
		return doctree.Opaque("decimal", t)
	case primitive.Timestamp:
		return doctree.Opaque("timestamp", t)
	case primitive.Regex:
		return doctree.Opaque("regex", t)
	case primitive.MinKey:
		return doctree.Opaque("minKey", t)
	case primitive.MaxKey:
		return doctree.Opaque("maxKey", t)
	case primitive.JavaScript:
		return doctree.Opaque("javascript", t)
	case primitive.Symbol:
		return doctree.Opaque("symbol", t)
	}
	return doctree.Opaque(fmt.Sprintf("%T", v), v)
}

func fromSlice(items []any) *doctree.Node {
	arr := doctree.Array()
	for _, item := range items {
		arr.Items = append(arr.Items, FromValue(item))
	}
	return arr
}

// ToD converts an object node into a BSON document
func ToD(n *doctree.Node) (bson.D, error) {
	if n == nil || n.Kind != doctree.KindObject {
		return nil, fmt.Errorf("mongo: document must be an object, got %s", kindOf(n))
	}
	v, err := ToValue(n)
	if err != nil {
		return nil, err
	}
	return v.(bson.D), nil
}

// ToValue converts a node into a value the driver can marshal. Opaque nodes
// decoded from extended JSON are parsed back into their BSON types.
func ToValue(n *doctree.Node) (any, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case doctree.KindNull:
		return nil, nil
	case doctree.KindString:
		return n.Str, nil
	case doctree.KindBool:
		return n.Bool, nil
	case doctree.KindNumber:
		if num, ok := n.Scalar.(json.Number); ok {
			if i, err := num.Int64(); err == nil {
				return i, nil
			}
			return num.Float64()
		}
		return n.Scalar, nil
	case doctree.KindOpaque:
		if raw, ok := n.Scalar.(json.RawMessage); ok {
			return fromExtJSON(raw)
		}
		return n.Scalar, nil
	case doctree.KindArray:
		arr := make(bson.A, 0, len(n.Items))
		for _, item := range n.Items {
			v, err := ToValue(item)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case doctree.KindObject:
		d := make(bson.D, 0, len(n.Fields))
		for _, f := range n.Fields {
			v, err := ToValue(f.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Key, err)
			}
			d = append(d, bson.E{Key: f.Key, Value: v})
		}
		return d, nil
	}
	return nil, fmt.Errorf("mongo: unsupported node kind %s", n.Kind)
}

func fromExtJSON(raw json.RawMessage) (any, error) {
	wrapped := make([]byte, 0, len(raw)+6)
	wrapped = append(wrapped, `{"v":`...)
	wrapped = append(wrapped, raw...)
	wrapped = append(wrapped, '}')

	var d bson.D
	if err := bson.UnmarshalExtJSON(wrapped, false, &d); err != nil {
		return nil, fmt.Errorf("mongo: extended json %s: %w", raw, err)
	}
	return d[0].Value, nil
}

func kindOf(n *doctree.Node) string {
	if n == nil {
		return "nil"
	}
	return n.Kind.String()
}

// ParseID resolves a report id to its stored form: 24 hex characters are an
// ObjectID, a canonical extended JSON value ({"$numberInt":"5"}) is decoded
// to its BSON type, anything else is a plain string id.
func ParseID(id string) any {
	if len(id) == 24 {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			return oid
		}
	}
	if strings.HasPrefix(id, `{"$`) {
		if v, err := fromExtJSON(json.RawMessage(id)); err == nil {
			return v
		}
	}
	return id
}

// IDString renders a stored _id the way reports carry it. Ids that are
// neither ObjectIDs nor strings keep their type as canonical extended JSON.
func IDString(v any) string {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case string:
		return t
	case nil:
		return ""
	}
	out, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, true, false)
	if err != nil {
		return fmt.Sprint(v)
	}
	return gjson.GetBytes(out, "v").Raw
}
