// Package analyze scans store collections for a target string and builds a
// search report. Collections are scanned concurrently and merged in order.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nainya/linksweep/internal/logger"
	"github.com/nainya/linksweep/internal/metrics"
	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/report"
	"github.com/nainya/linksweep/pkg/storage"
)

// ErrMissingTarget is returned when no search string is given
var ErrMissingTarget = errors.New("analyze: target string is required")

// CollectionLocator is implemented by stores that can describe where a
// collection lives
type CollectionLocator interface {
	CollectionURL(collection string) string
}

// Options controls an analyze run
type Options struct {
	Target string

	// Collections to scan; empty scans every collection the store lists
	Collections []string

	URLs report.URLResolver

	// Concurrency bounds parallel collection scans; 0 means one per collection
	Concurrency int

	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Run scans the store and returns a report. Collection order in the report
// follows opts.Collections, or the store's listing order.
func Run(ctx context.Context, store storage.Store, opts Options) (*report.Report, error) {
	if opts.Target == "" {
		return nil, ErrMissingTarget
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	collections := opts.Collections
	if len(collections) == 0 {
		var err error
		collections, err = store.Collections(ctx)
		if err != nil {
			return nil, fmt.Errorf("list collections: %w", err)
		}
	}

	builders := make([]*report.Builder, len(collections))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, name := range collections {
		b := report.NewBuilder(opts.Target, opts.URLs)
		url := ""
		if loc, ok := store.(CollectionLocator); ok {
			url = loc.CollectionURL(name)
		}
		b.SetCollectionURL(name, url)
		builders[i] = b

		g.Go(func() error {
			return scanCollection(gctx, store, name, b, log, opts.Metrics)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := report.NewBuilder(opts.Target, opts.URLs)
	for _, b := range builders {
		out.Merge(b)
	}
	rep := out.Report(now())
	log.LogRunSummary("analyze", map[string]int{
		"collections": len(collections),
		"documents":   rep.Summary.TotalDocuments,
		"matched":     rep.Summary.TotalDocumentsWithMatches,
		"occurrences": rep.Summary.TotalOccurrences,
	})
	return rep, nil
}

func scanCollection(ctx context.Context, store storage.Store, collection string, b *report.Builder, log *logger.Logger, m *metrics.Metrics) error {
	err := store.Iterate(ctx, collection, func(id string, doc *doctree.Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, matched := b.Add(collection, id, doc)
		if m != nil {
			m.RecordScan(collection, res.Total)
		}
		if matched {
			entry, _ := b.Last()
			log.LogScanMatch(collection, id, entry.DocURL, res.Total)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", collection, err)
	}
	return nil
}
