// ABOUTME: Conditional co-update of a reference field and its derived sibling
// ABOUTME: Whole-value equality match, fires at every object owning the field

package patch

import (
	"github.com/nainya/linksweep/pkg/doctree"
)

const (
	// DefaultRefField is the reference field name used when none is configured
	DefaultRefField = "videoLink"

	// DefaultDerivedField is the derived sibling name used when none is configured
	DefaultDerivedField = "thumbnail"
)

// LinkRule describes a reference field whose value is swapped together with a
// derived sibling field. Nil pointers mean "not supplied".
type LinkRule struct {
	RefField     string
	Predicate    *string // fire only when the reference equals this value
	NewRef       *string
	DerivedField string
	NewDerived   *string
}

// Active reports whether the rule would write anything when it fires
func (r LinkRule) Active() bool {
	return r.NewRef != nil || r.NewDerived != nil
}

func (r LinkRule) refField() string {
	if r.RefField == "" {
		return DefaultRefField
	}
	return r.RefField
}

func (r LinkRule) derivedField() string {
	if r.DerivedField == "" {
		return DefaultDerivedField
	}
	return r.DerivedField
}

// fires applies the predicate to the current reference value. Without a
// predicate any string reference fires.
func (r LinkRule) fires(current *doctree.Node) bool {
	if !current.IsString() {
		return false
	}
	if r.Predicate == nil {
		return true
	}
	return current.Str == *r.Predicate
}

// LinkedUpdate walks doc and emits patch entries for every object whose
// reference field satisfies the rule. It returns the number of entries written.
func LinkedUpdate(doc *doctree.Node, rule LinkRule) (int, Patch) {
	var p Patch
	changes := 0
	ref := rule.refField()
	derived := rule.derivedField()

	var visit func(n *doctree.Node, addr doctree.Address)
	visit = func(n *doctree.Node, addr doctree.Address) {
		if n == nil {
			return
		}
		switch n.Kind {
		case doctree.KindObject:
			if current, ok := n.Get(ref); ok && rule.fires(current) {
				if rule.NewRef != nil {
					p.Set(addr.Key(ref), doctree.String(*rule.NewRef))
					changes++
				}
				if rule.NewDerived != nil {
					existing, ok := n.Get(derived)
					if !ok || !existing.IsString() || existing.Str != *rule.NewDerived {
						p.Set(addr.Key(derived), doctree.String(*rule.NewDerived))
						changes++
					}
				}
			}
			for _, f := range n.Fields {
				if f.Key == doctree.IdentityField {
					continue
				}
				visit(f.Value, addr.Key(f.Key))
			}
		case doctree.KindArray:
			for i, item := range n.Items {
				visit(item, addr.Index(i))
			}
		}
	}
	visit(doc, doctree.Root())

	return changes, p
}
