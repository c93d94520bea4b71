// ABOUTME: Replacement-set computation and inline document rewrite
// ABOUTME: Identity fields are never traversed; opaque scalars pass through

package patch

import (
	"strings"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/occurrence"
)

// Compute derives a sparse patch replacing every occurrence of target in
// every string leaf of doc. It returns the number of replaced occurrences.
func Compute(doc *doctree.Node, target, replacement string) (int, Patch) {
	var p Patch
	if target == "" {
		return 0, p
	}

	count := 0
	var visit func(n *doctree.Node, addr doctree.Address)
	visit = func(n *doctree.Node, addr doctree.Address) {
		if n == nil {
			return
		}
		switch n.Kind {
		case doctree.KindString:
			c := occurrence.Count(n.Str, target)
			if c == 0 {
				return
			}
			count += c
			p.Set(addr, doctree.String(strings.ReplaceAll(n.Str, target, replacement)))
		case doctree.KindArray:
			for i, item := range n.Items {
				visit(item, addr.Index(i))
			}
		case doctree.KindObject:
			for _, f := range n.Fields {
				if f.Key == doctree.IdentityField {
					continue
				}
				visit(f.Value, addr.Key(f.Key))
			}
		}
	}
	visit(doc, doctree.Root())

	return count, p
}

// ApplyInline returns a rewritten copy of doc and the number of replaced
// occurrences. Identity fields and opaque values are carried over by identity
// and doc itself is left untouched.
func ApplyInline(doc *doctree.Node, target, replacement string) (*doctree.Node, int) {
	if target == "" {
		return doc.Clone(), 0
	}

	count := 0
	var rewrite func(n *doctree.Node) *doctree.Node
	rewrite = func(n *doctree.Node) *doctree.Node {
		if n == nil {
			return nil
		}
		switch n.Kind {
		case doctree.KindString:
			c := occurrence.Count(n.Str, target)
			if c == 0 {
				return doctree.String(n.Str)
			}
			count += c
			return doctree.String(strings.ReplaceAll(n.Str, target, replacement))
		case doctree.KindArray:
			items := make([]*doctree.Node, len(n.Items))
			for i, item := range n.Items {
				items[i] = rewrite(item)
			}
			return doctree.Array(items...)
		case doctree.KindObject:
			fields := make([]doctree.Field, len(n.Fields))
			for i, f := range n.Fields {
				if f.Key == doctree.IdentityField {
					fields[i] = f
					continue
				}
				fields[i] = doctree.F(f.Key, rewrite(f.Value))
			}
			return doctree.Object(fields...)
		case doctree.KindOpaque:
			return n
		default:
			out := *n
			return &out
		}
	}

	return rewrite(doc), count
}
