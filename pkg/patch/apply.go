// ABOUTME: Applies sparse patches to document copies and derives inverse patches
// ABOUTME: Used by the local store and by run rollback

package patch

import (
	"fmt"

	"github.com/nainya/linksweep/pkg/doctree"
)

// Apply returns a copy of doc with every patch entry written. A missing final
// object key is created; missing intermediate nodes are an error.
func Apply(doc *doctree.Node, p Patch) (*doctree.Node, error) {
	out := doc.Clone()
	for _, e := range p.entries {
		if err := applyEntry(out, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyEntry(doc *doctree.Node, e Entry) error {
	last, ok := e.Address.Last()
	if !ok {
		return fmt.Errorf("%w: cannot patch document root", ErrInvalidAddress)
	}

	parent, ok := doc.Lookup(e.Address.Parent())
	if !ok {
		return fmt.Errorf("%w: %s: parent not found", ErrInvalidAddress, e.Address)
	}

	if last.IsIndex {
		if parent.Kind != doctree.KindArray || last.Index >= len(parent.Items) {
			return fmt.Errorf("%w: %s: index out of range", ErrInvalidAddress, e.Address)
		}
		if e.Unset {
			// array slots cannot be removed without shifting siblings
			parent.Items[last.Index] = doctree.Null()
			return nil
		}
		parent.Items[last.Index] = e.Value.Clone()
		return nil
	}

	if parent.Kind != doctree.KindObject {
		return fmt.Errorf("%w: %s: parent is %s", ErrInvalidAddress, e.Address, parent.Kind)
	}
	if e.Unset {
		parent.Delete(last.Key)
		return nil
	}
	parent.Set(last.Key, e.Value.Clone())
	return nil
}

// Invert builds the patch that restores doc's current values at every address
// touched by p. Addresses absent from doc invert to Unset.
func Invert(doc *doctree.Node, p Patch) Patch {
	var inv Patch
	for _, e := range p.entries {
		if old, ok := doc.Lookup(e.Address); ok {
			inv.Set(e.Address, old.Clone())
			continue
		}
		inv.SetUnset(e.Address)
	}
	return inv
}

// Effective drops entries that would leave doc unchanged: values equal to the
// current value and unsets of absent fields
func Effective(doc *doctree.Node, p Patch) Patch {
	var out Patch
	for _, e := range p.entries {
		old, ok := doc.Lookup(e.Address)
		if e.Unset {
			if ok {
				out.put(e)
			}
			continue
		}
		if ok && doctree.Equal(old, e.Value) {
			continue
		}
		out.put(e)
	}
	return out
}
