package analyze

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/linksweep/internal/metrics"
	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/report"
	"github.com/nainya/linksweep/pkg/storage"
)

func seed(t *testing.T, docs map[string]map[string]string) *storage.LocalStore {
	t.Helper()
	s, err := storage.OpenLocal(storage.LocalOptions{Path: "db", FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for coll, byID := range docs {
		for id, raw := range byID {
			doc, err := doctree.Decode([]byte(raw))
			require.NoError(t, err)
			require.NoError(t, s.Put(context.Background(), coll, id, doc))
		}
	}
	return s
}

type locatedStore struct {
	*storage.LocalStore
}

func (locatedStore) CollectionURL(collection string) string {
	return "local://db/" + collection
}

func TestRunAcrossCollections(t *testing.T) {
	s := seed(t, map[string]map[string]string{
		"pages": {
			"1": `{"slug":"/about","body":"see https://old.example and https://old.example"}`,
			"2": `{"slug":"contact","body":"nothing"}`,
		},
		"posts": {
			"a": `{"links":["https://old.example/x"]}`,
		},
		"empty": {},
	})

	m := metrics.NewMetrics(prometheus.NewRegistry())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rep, err := Run(context.Background(), locatedStore{s}, Options{
		Target:      "https://old.example",
		Collections: []string{"posts", "pages"},
		URLs:        report.URLResolver{BaseURL: "https://site.example/"},
		Concurrency: 2,
		Metrics:     m,
		Now:         func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, rep.Validate())

	assert.Equal(t, 3, rep.Summary.TotalDocuments)
	assert.Equal(t, 2, rep.Summary.TotalDocumentsWithMatches)
	assert.Equal(t, 3, rep.Summary.TotalOccurrences)
	assert.Equal(t, now, rep.Summary.GeneratedAt)
	assert.Empty(t, rep.Summary.Collection)

	require.Len(t, rep.Entries, 2)
	assert.Equal(t, "posts", rep.Entries[0].Collection)
	assert.Equal(t, "pages", rep.Entries[1].Collection)
	assert.Equal(t, "https://site.example/about", rep.Entries[1].DocURL)
	assert.Equal(t, "local://db/pages", rep.Collections["pages"].CollectionURL)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DocumentsScannedTotal.WithLabelValues("pages")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OccurrencesFoundTotal.WithLabelValues("pages")))
}

func TestRunListsCollectionsWhenNoneGiven(t *testing.T) {
	s := seed(t, map[string]map[string]string{
		"pages": {"1": `{"slug":"a","x":"T"}`},
	})

	rep, err := Run(context.Background(), s, Options{Target: "T"})
	require.NoError(t, err)
	assert.Equal(t, "pages", rep.Summary.Collection)
	assert.Equal(t, 1, rep.Summary.TotalOccurrences)
	assert.Equal(t, report.DefaultBaseURL+"/a", rep.Entries[0].DocURL)
}

type failingStore struct {
	*storage.LocalStore
}

func (failingStore) Iterate(ctx context.Context, collection string, fn storage.IterateFunc) error {
	return errors.New("cursor lost")
}

func TestRunPropagatesErrors(t *testing.T) {
	s := seed(t, nil)

	_, err := Run(context.Background(), s, Options{})
	assert.ErrorIs(t, err, ErrMissingTarget)

	_, err = Run(context.Background(), failingStore{s}, Options{Target: "x", Collections: []string{"pages"}})
	assert.ErrorContains(t, err, "scan pages: cursor lost")
}
