package postgres

import (
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/patch"
)

// PatchSQL renders a patch as one UPDATE that folds jsonb_set and #- over
// the stored document. $1 and $2 are the collection and id.
//
// Unsetting an array slot writes null so sibling indexes stay stable.
func PatchSQL(p patch.Patch) (string, []any, error) {
	expr := "doc"
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args)+2)
	}

	for _, e := range p.Entries() {
		path := pq.Array(pathOf(e.Address))
		last, _ := e.Address.Last()

		switch {
		case e.Unset && !last.IsIndex:
			expr = fmt.Sprintf("(%s #- %s::text[])", expr, next(path))
		default:
			value := doctree.Null()
			if !e.Unset {
				value = e.Value
			}
			raw, err := doctree.Encode(value)
			if err != nil {
				return "", nil, fmt.Errorf("%s: %w", e.Address, err)
			}
			expr = fmt.Sprintf("jsonb_set(%s, %s::text[], %s::jsonb, true)", expr, next(path), next(string(raw)))
		}
	}

	query := "UPDATE documents SET doc = " + expr + ", updated_at = now() WHERE collection = $1 AND id = $2"
	return query, args, nil
}

// pathOf renders an address as a Postgres text[] path
func pathOf(addr doctree.Address) []string {
	segs := addr.Segments()
	out := make([]string, len(segs))
	for i, seg := range segs {
		if seg.IsIndex {
			out[i] = strconv.Itoa(seg.Index)
		} else {
			out[i] = seg.Key
		}
	}
	return out
}
