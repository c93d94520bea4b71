// ABOUTME: Aggregates per-document scan results into a report
// ABOUTME: Keeps global and per-collection summaries in step with entries

package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/occurrence"
)

// ErrInconsistent indicates summary totals that disagree with the entry list
var ErrInconsistent = errors.New("report: inconsistent totals")

// DefaultBaseURL is the site root used for display URLs when none is configured
const DefaultBaseURL = "https://bizee.com"

// SlugField is the document field holding the human-facing path
const SlugField = "slug"

// URLResolver maps a document slug to its public URL
type URLResolver struct {
	BaseURL string
}

// DocumentURL joins the base URL and slug with exactly one slash
func (u URLResolver) DocumentURL(slug *string) string {
	base := u.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	base = strings.TrimSuffix(base, "/")
	if slug == nil || *slug == "" {
		return base
	}
	return base + "/" + strings.TrimPrefix(*slug, "/")
}

// Builder accumulates scan results. It is not safe for concurrent use; scan
// collections with one Builder each and Merge them.
type Builder struct {
	target  string
	urls    URLResolver
	summary Summary
	groups  map[string]*Summary
	order   []string
	entries []Entry
}

// NewBuilder creates a builder for the given target string
func NewBuilder(target string, urls URLResolver) *Builder {
	return &Builder{
		target:  target,
		urls:    urls,
		summary: Summary{SearchURL: target},
		groups:  make(map[string]*Summary),
	}
}

func (b *Builder) group(collection string) *Summary {
	g, ok := b.groups[collection]
	if !ok {
		g = &Summary{Collection: collection, SearchURL: b.target}
		b.groups[collection] = g
		b.order = append(b.order, collection)
	}
	return g
}

// SetCollectionURL records the display URL of a collection
func (b *Builder) SetCollectionURL(collection, url string) {
	b.group(collection).CollectionURL = url
}

// Add scans one document and records it. The returned bool reports a match.
func (b *Builder) Add(collection, id string, doc *doctree.Node) (occurrence.Result, bool) {
	res := occurrence.Scan(doc, b.target)
	g := b.group(collection)

	b.summary.TotalDocuments++
	g.TotalDocuments++
	if res.Total == 0 {
		return res, false
	}

	b.summary.TotalDocumentsWithMatches++
	b.summary.TotalOccurrences += res.Total
	g.TotalDocumentsWithMatches++
	g.TotalOccurrences += res.Total

	slug := slugOf(doc)
	fields := make([]Field, len(res.Fields))
	for i, f := range res.Fields {
		fields[i] = Field{Path: f.Address.String(), Count: f.Count}
	}
	b.entries = append(b.entries, Entry{
		ID:               id,
		Collection:       collection,
		Slug:             slug,
		DocURL:           b.urls.DocumentURL(slug),
		TotalOccurrences: res.Total,
		Fields:           fields,
	})
	return res, true
}

// Last returns the most recently recorded entry
func (b *Builder) Last() (Entry, bool) {
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// Merge folds another builder's results into b, after b's own entries
func (b *Builder) Merge(o *Builder) {
	b.summary.TotalDocuments += o.summary.TotalDocuments
	b.summary.TotalDocumentsWithMatches += o.summary.TotalDocumentsWithMatches
	b.summary.TotalOccurrences += o.summary.TotalOccurrences
	for _, name := range o.order {
		src := o.groups[name]
		dst := b.group(name)
		dst.TotalDocuments += src.TotalDocuments
		dst.TotalDocumentsWithMatches += src.TotalDocumentsWithMatches
		dst.TotalOccurrences += src.TotalOccurrences
		if dst.CollectionURL == "" {
			dst.CollectionURL = src.CollectionURL
		}
	}
	b.entries = append(b.entries, o.entries...)
}

// Report finalizes the report, stamping generatedAt
func (b *Builder) Report(now time.Time) *Report {
	summary := b.summary
	summary.GeneratedAt = now.UTC()
	if len(b.order) == 1 {
		g := b.groups[b.order[0]]
		summary.Collection = g.Collection
		summary.CollectionURL = g.CollectionURL
	}

	groups := make(map[string]*Summary, len(b.groups))
	for name, g := range b.groups {
		cp := *g
		cp.GeneratedAt = summary.GeneratedAt
		groups[name] = &cp
	}

	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)

	return &Report{Summary: summary, Collections: groups, Entries: entries}
}

func slugOf(doc *doctree.Node) *string {
	v, ok := doc.Get(SlugField)
	if !ok || !v.IsString() {
		return nil
	}
	s := v.Str
	return &s
}

// Validate checks that every entry's field counts add up to its total and
// that the summaries match the entries
func (r *Report) Validate() error {
	matched := 0
	occurrences := 0
	perGroup := make(map[string][2]int)

	for _, e := range r.Entries {
		sum := 0
		for _, f := range e.Fields {
			sum += f.Count
		}
		if sum != e.TotalOccurrences {
			return fmt.Errorf("%w: entry %s fields sum to %d, total %d", ErrInconsistent, e.ID, sum, e.TotalOccurrences)
		}
		matched++
		occurrences += e.TotalOccurrences
		g := perGroup[e.Collection]
		perGroup[e.Collection] = [2]int{g[0] + 1, g[1] + e.TotalOccurrences}
	}

	if matched != r.Summary.TotalDocumentsWithMatches || occurrences != r.Summary.TotalOccurrences {
		return fmt.Errorf("%w: summary says %d/%d, entries give %d/%d", ErrInconsistent,
			r.Summary.TotalDocumentsWithMatches, r.Summary.TotalOccurrences, matched, occurrences)
	}

	for name, g := range r.Collections {
		want := perGroup[name]
		if g.TotalDocumentsWithMatches != want[0] || g.TotalOccurrences != want[1] {
			return fmt.Errorf("%w: collection %s says %d/%d, entries give %d/%d", ErrInconsistent,
				name, g.TotalDocumentsWithMatches, g.TotalOccurrences, want[0], want[1])
		}
	}
	return nil
}
