// ABOUTME: Immutable root-to-node addresses for document trees
// ABOUTME: Renders bracket form (a.b[0]) and index-dotted form (a.b.0)

package doctree

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of an address: an object key or an array index
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Address locates a node from the document root. The zero value is the root.
type Address struct {
	segs []Segment
}

// Root returns the empty address
func Root() Address {
	return Address{}
}

// Key returns a new address descending into an object key
func (a Address) Key(key string) Address {
	return a.append(Segment{Key: key})
}

// Index returns a new address descending into an array position
func (a Address) Index(i int) Address {
	return a.append(Segment{Index: i, IsIndex: true})
}

func (a Address) append(seg Segment) Address {
	segs := make([]Segment, len(a.segs)+1)
	copy(segs, a.segs)
	segs[len(a.segs)] = seg
	return Address{segs: segs}
}

// IsRoot reports whether a is the document root
func (a Address) IsRoot() bool {
	return len(a.segs) == 0
}

// Len returns the number of segments
func (a Address) Len() int {
	return len(a.segs)
}

// Segments returns a copy of the address segments
func (a Address) Segments() []Segment {
	out := make([]Segment, len(a.segs))
	copy(out, a.segs)
	return out
}

// Parent returns the address without its last segment
func (a Address) Parent() Address {
	if len(a.segs) == 0 {
		return a
	}
	return Address{segs: a.segs[:len(a.segs)-1:len(a.segs)-1]}
}

// Last returns the final segment
func (a Address) Last() (Segment, bool) {
	if len(a.segs) == 0 {
		return Segment{}, false
	}
	return a.segs[len(a.segs)-1], true
}

// HasRootKey reports whether the first segment is the given object key
func (a Address) HasRootKey(key string) bool {
	return len(a.segs) > 0 && !a.segs[0].IsIndex && a.segs[0].Key == key
}

// keySpecials are escaped with a backslash in the canonical form
const keySpecials = `\.[]`

func escapeKey(sb *strings.Builder, key string) {
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(keySpecials, key[i]) >= 0 {
			sb.WriteByte('\\')
		}
		sb.WriteByte(key[i])
	}
}

// String renders the canonical form: keys joined by '.', indexes as [i].
// '.', '[', ']' and '\' inside keys are backslash-escaped.
func (a Address) String() string {
	var sb strings.Builder
	for i, seg := range a.segs {
		if seg.IsIndex {
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(seg.Index))
			sb.WriteByte(']')
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		escapeKey(&sb, seg.Key)
	}
	return sb.String()
}

// HasDottedKey reports whether any key contains '.' or starts with '$', which
// dotted update paths cannot express
func (a Address) HasDottedKey() bool {
	for _, seg := range a.segs {
		if !seg.IsIndex && (strings.IndexByte(seg.Key, '.') >= 0 || strings.HasPrefix(seg.Key, "$")) {
			return true
		}
	}
	return false
}

// Dotted renders every segment dot-separated, as MongoDB update paths expect.
// The result is ambiguous when HasDottedKey is true.
func (a Address) Dotted() string {
	parts := make([]string, len(a.segs))
	for i, seg := range a.segs {
		if seg.IsIndex {
			parts[i] = strconv.Itoa(seg.Index)
		} else {
			parts[i] = seg.Key
		}
	}
	return strings.Join(parts, ".")
}

// Equal compares two addresses segment by segment
func (a Address) Equal(b Address) bool {
	if len(a.segs) != len(b.segs) {
		return false
	}
	for i := range a.segs {
		if a.segs[i] != b.segs[i] {
			return false
		}
	}
	return true
}

// MarshalText renders the canonical form
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the canonical form
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses the canonical form produced by String
func ParseAddress(s string) (Address, error) {
	var addr Address
	i := 0
	for i < len(s) {
		switch s[i] {
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return Address{}, fmt.Errorf("address %q: unterminated index at %d", s, i)
			}
			idx, err := strconv.Atoi(s[i+1 : i+end])
			if err != nil || idx < 0 {
				return Address{}, fmt.Errorf("address %q: bad index %q", s, s[i+1:i+end])
			}
			addr = addr.Index(idx)
			i += end + 1
		case '.':
			if i == 0 || i == len(s)-1 || s[i+1] == '.' || s[i+1] == '[' {
				return Address{}, fmt.Errorf("address %q: empty key at %d", s, i)
			}
			i++
		case ']':
			return Address{}, fmt.Errorf("address %q: unexpected ']' at %d", s, i)
		default:
			var key strings.Builder
			for i < len(s) && s[i] != '.' && s[i] != '[' && s[i] != ']' {
				if s[i] == '\\' {
					if i+1 == len(s) {
						return Address{}, fmt.Errorf("address %q: dangling escape", s)
					}
					i++
				}
				key.WriteByte(s[i])
				i++
			}
			addr = addr.Key(key.String())
		}
	}
	return addr, nil
}
