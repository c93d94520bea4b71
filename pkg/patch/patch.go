// ABOUTME: Sparse field-level patch keyed by document address
// ABOUTME: Ordered entries with map semantics and a JSON object encoding

package patch

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/nainya/linksweep/pkg/doctree"
)

var (
	// ErrInvalidAddress indicates a patch address that cannot be resolved in the target document
	ErrInvalidAddress = errors.New("patch: invalid address")

	// ErrMalformed indicates an undecodable patch
	ErrMalformed = errors.New("patch: malformed")
)

// Entry is one intended mutation. Unset removes the field instead of writing Value.
type Entry struct {
	Address doctree.Address
	Value   *doctree.Node
	Unset   bool
}

// Patch maps addresses to replacement values for a single document.
// The zero value is an empty patch.
type Patch struct {
	entries []Entry
	index   map[string]int
}

// Set records a new value for addr, replacing any earlier entry for it
func (p *Patch) Set(addr doctree.Address, value *doctree.Node) {
	p.put(Entry{Address: addr, Value: value})
}

// SetUnset records a field removal for addr
func (p *Patch) SetUnset(addr doctree.Address) {
	p.put(Entry{Address: addr, Unset: true})
}

func (p *Patch) put(e Entry) {
	if p.index == nil {
		p.index = make(map[string]int)
	}
	key := e.Address.String()
	if i, ok := p.index[key]; ok {
		p.entries[i] = e
		return
	}
	p.index[key] = len(p.entries)
	p.entries = append(p.entries, e)
}

// Get returns the entry for a rendered address
func (p *Patch) Get(addr string) (Entry, bool) {
	if p == nil || p.index == nil {
		return Entry{}, false
	}
	i, ok := p.index[addr]
	if !ok {
		return Entry{}, false
	}
	return p.entries[i], true
}

// Len returns the number of entries
func (p *Patch) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// IsEmpty reports whether the patch holds no entries
func (p *Patch) IsEmpty() bool {
	return p.Len() == 0
}

// Entries returns the entries in insertion order
func (p *Patch) Entries() []Entry {
	if p == nil {
		return nil
	}
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Clone returns an independent copy; Patch values share storage when assigned
func (p *Patch) Clone() Patch {
	var out Patch
	for _, e := range p.Entries() {
		out.put(e)
	}
	return out
}

// Merge overlays other onto p; entries of other win on equal addresses
func (p *Patch) Merge(other Patch) {
	for _, e := range other.entries {
		p.put(e)
	}
}

// Values returns the rendered address -> value view. Unset entries map to nil.
func (p *Patch) Values() map[string]*doctree.Node {
	out := make(map[string]*doctree.Node, p.Len())
	for _, e := range p.Entries() {
		out[e.Address.String()] = e.Value
	}
	return out
}

// unsetMarker is the JSON stand-in for an Unset entry
const unsetMarker = `{"$unset":true}`

// MarshalJSON renders the patch as an ordered JSON object
func (p Patch) MarshalJSON() ([]byte, error) {
	obj := doctree.Object()
	for _, e := range p.entries {
		value := e.Value
		if e.Unset {
			value = doctree.Object(doctree.F("$unset", doctree.Bool(true)))
		}
		obj.Fields = append(obj.Fields, doctree.F(e.Address.String(), value))
	}
	return doctree.Encode(obj)
}

// UnmarshalJSON decodes the object form produced by MarshalJSON
func (p *Patch) UnmarshalJSON(data []byte) error {
	node, err := doctree.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if node.Kind == doctree.KindNull {
		*p = Patch{}
		return nil
	}
	if node.Kind != doctree.KindObject {
		return fmt.Errorf("%w: expected object, got %s", ErrMalformed, node.Kind)
	}

	var out Patch
	for _, f := range node.Fields {
		addr, err := doctree.ParseAddress(f.Key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if isUnsetMarker(f.Value) {
			out.SetUnset(addr)
			continue
		}
		out.Set(addr, f.Value)
	}
	*p = out
	return nil
}

func isUnsetMarker(n *doctree.Node) bool {
	if n == nil || n.Kind != doctree.KindObject || len(n.Fields) != 1 {
		return false
	}
	raw, err := doctree.Encode(n)
	return err == nil && bytes.Equal(raw, []byte(unsetMarker))
}
