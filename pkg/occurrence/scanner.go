// ABOUTME: Literal substring occurrence scanner over document trees
// ABOUTME: Aggregates non-overlapping match counts per address and per document

package occurrence

import (
	"strings"

	"github.com/nainya/linksweep/pkg/doctree"
)

// FieldCount is the number of matches found in one string leaf
type FieldCount struct {
	Address doctree.Address
	Count   int
}

// Result is the outcome of scanning one document
type Result struct {
	Total  int
	Fields []FieldCount
}

// Count returns the number of non-overlapping literal occurrences of needle
func Count(haystack, needle string) int {
	if haystack == "" || needle == "" {
		return 0
	}
	return strings.Count(haystack, needle)
}

// Scan walks doc and counts occurrences of target in every string leaf.
// The identity field is scanned too; scanning never mutates doc.
func Scan(doc *doctree.Node, target string) Result {
	if target == "" {
		return Result{}
	}
	s := &scanner{target: target, seen: make(map[string]int)}
	s.visit(doc, doctree.Root())
	return s.res
}

type scanner struct {
	target string
	res    Result
	seen   map[string]int // rendered address -> index in res.Fields
}

func (s *scanner) visit(n *doctree.Node, addr doctree.Address) {
	if n == nil {
		return
	}

	switch n.Kind {
	case doctree.KindString:
		c := Count(n.Str, s.target)
		if c == 0 {
			return
		}
		s.res.Total += c
		key := addr.String()
		if i, ok := s.seen[key]; ok {
			// duplicate object keys render to the same address
			s.res.Fields[i].Count += c
			return
		}
		s.seen[key] = len(s.res.Fields)
		s.res.Fields = append(s.res.Fields, FieldCount{Address: addr, Count: c})
	case doctree.KindArray:
		for i, item := range n.Items {
			s.visit(item, addr.Index(i))
		}
	case doctree.KindObject:
		for _, f := range n.Fields {
			s.visit(f.Value, addr.Key(f.Key))
		}
	case doctree.KindNull, doctree.KindNumber, doctree.KindBool, doctree.KindOpaque:
		// leaves without string content
	}
}

// Sum adds up the per-field counts
func (r Result) Sum() int {
	total := 0
	for _, f := range r.Fields {
		total += f.Count
	}
	return total
}
