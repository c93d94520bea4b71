// ABOUTME: Scan report data model: summaries, per-collection totals, entries
// ABOUTME: Field names follow the search-report JSON written by analyze runs

package report

import (
	"sort"
	"time"
)

// Field is the occurrence count at one document address
type Field struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// Entry is one document that contained the target string
type Entry struct {
	ID               string  `json:"id"`
	Collection       string  `json:"collection,omitempty"`
	Slug             *string `json:"slug"`
	DocURL           string  `json:"docUrl"`
	TotalOccurrences int     `json:"totalOccurrences"`
	Fields           []Field `json:"fields"`
}

// Summary aggregates a scan over one collection or the whole run
type Summary struct {
	Collection                string    `json:"collection,omitempty"`
	CollectionURL             string    `json:"collectionUrl,omitempty"`
	SearchURL                 string    `json:"searchUrl"`
	TotalDocuments            int       `json:"totalDocuments"`
	TotalDocumentsWithMatches int       `json:"totalDocumentsWithMatches"`
	TotalOccurrences          int       `json:"totalOccurrences"`
	GeneratedAt               time.Time `json:"generatedAt"`
}

// Report is the immutable result of one analyze run
type Report struct {
	Summary     Summary             `json:"summary"`
	Collections map[string]*Summary `json:"collections,omitempty"`
	Entries     []Entry             `json:"entries"`
}

// CollectionOrder returns collection names in order of first entry, followed
// by collections without matches in name order
func (r *Report) CollectionOrder() []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range r.Entries {
		if !seen[e.Collection] {
			seen[e.Collection] = true
			names = append(names, e.Collection)
		}
	}
	var rest []string
	for name := range r.Collections {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
