package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/report"
	"github.com/nainya/linksweep/pkg/storage"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, "linksweep %v", args)
	return out
}

func localEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE", "local")
	t.Setenv("LOCAL_DB_PATH", filepath.Join(dir, "db"))
	t.Setenv("HISTORY_PATH", filepath.Join(dir, "history"))
	t.Setenv("JOURNAL_PATH", filepath.Join(dir, "linksweep.journal"))
	t.Setenv("REPORTS_DIR", filepath.Join(dir, "reports"))
	t.Setenv("REDIS_URL", "")
	t.Setenv("MONGODB_COLLECTION", "")
	t.Setenv("DRY_RUN", "")
	t.Setenv("LIMIT", "")
	t.Setenv("SEARCH_URL", "https://old.example")
	t.Setenv("REPLACE_URL", "https://new.example")
	return dir
}

func readDoc(t *testing.T, dir, collection, id string) string {
	t.Helper()
	s, err := storage.OpenLocal(storage.LocalOptions{Path: filepath.Join(dir, "db")})
	require.NoError(t, err)
	defer s.Close()
	doc, err := s.Get(context.Background(), collection, id)
	require.NoError(t, err)
	return string(doctree.MustEncode(doc))
}

func TestAnalyzeReplaceRollback(t *testing.T) {
	dir := localEnv(t)

	docs := filepath.Join(dir, "pages.jsonl")
	require.NoError(t, os.WriteFile(docs, []byte(`{"_id":"1","slug":"/a","body":"see https://old.example and https://old.example/x"}
{"_id":"2","links":["https://old.example"]}
{"_id":"3","body":"nothing here"}
`), 0644))

	out := mustExecute(t, "import", "--collection", "pages", docs)
	assert.Contains(t, out, "Imported 3 documents into pages")

	out = mustExecute(t, "analyze")
	assert.Regexp(t, `Documents scanned:\s+3`, out)
	assert.Regexp(t, `Documents with matches:\s+2`, out)
	assert.Regexp(t, `Total occurrences:\s+3`, out)

	latest, err := report.FindLatest(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	rep, err := report.Load(latest)
	require.NoError(t, err)
	require.Len(t, rep.Entries, 2)
	assert.Equal(t, "pages", rep.Entries[0].Collection)

	// dry run is the default
	out = mustExecute(t, "replace")
	assert.Contains(t, out, "(DRY RUN)")
	assert.Regexp(t, `simulated:\s+2`, out)
	assert.Contains(t, readDoc(t, dir, "pages", "2"), "https://old.example")

	out = mustExecute(t, "replace", "--dry-run=false")
	assert.Contains(t, out, "(LIVE)")
	assert.Regexp(t, `patched:\s+2`, out)
	assert.Regexp(t, `replacements:\s+3`, out)
	assert.Equal(t, `{"_id":"2","links":["https://new.example"]}`, readDoc(t, dir, "pages", "2"))

	runID := regexp.MustCompile(`Run (\S+) \(LIVE\)`).FindStringSubmatch(out)
	require.Len(t, runID, 2)

	// a second live run finds nothing left to change
	out = mustExecute(t, "replace", "--dry-run=false")
	assert.Regexp(t, `unchanged:\s+2`, out)

	out = mustExecute(t, "runs")
	assert.Contains(t, out, runID[1])
	assert.Contains(t, out, "completed")

	out = mustExecute(t, "journal")
	assert.Contains(t, out, runID[1])
	assert.Contains(t, out, "pages/2")

	out = mustExecute(t, "rollback", "--run", runID[1])
	assert.Contains(t, out, "restored 2 documents, 0 failed")
	assert.Equal(t, `{"_id":"2","links":["https://old.example"]}`, readDoc(t, dir, "pages", "2"))

	_, err = execute(t, "rollback", "--run", runID[1])
	assert.Error(t, err)
}

func TestReplaceRequiresReplaceURL(t *testing.T) {
	localEnv(t)
	t.Setenv("REPLACE_URL", "")

	_, err := execute(t, "replace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPLACE_URL")
}

func TestReplaceWithoutReport(t *testing.T) {
	localEnv(t)

	_, err := execute(t, "replace")
	require.ErrorIs(t, err, report.ErrNoReport)
}

func TestInvalidLimit(t *testing.T) {
	localEnv(t)

	_, err := execute(t, "replace", "--limit=-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIMIT")
}

func TestAssignCollections(t *testing.T) {
	entries := []report.Entry{{ID: "1"}, {ID: "2", Collection: "posts"}}

	got, err := assignCollections(entries, []string{"pages"})
	require.NoError(t, err)
	assert.Equal(t, "pages", got[0].Collection)
	assert.Equal(t, "posts", got[1].Collection)
	assert.Empty(t, entries[0].Collection)

	_, err = assignCollections(entries, []string{"pages", "posts"})
	assert.ErrorIs(t, err, ErrAmbiguousCollection)

	_, err = assignCollections(entries[1:], nil)
	assert.NoError(t, err)
}

func TestDecodeDocuments(t *testing.T) {
	docs, err := decodeDocuments([]byte(`[{"_id":"a"},{"_id":{"$oid":"64b7f0c2a1b2c3d4e5f60718"}},{"_id":7}]`))
	require.NoError(t, err)
	require.Len(t, docs, 3)

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i], err = documentID(d)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "64b7f0c2a1b2c3d4e5f60718", "7"}, ids)

	docs, err = decodeDocuments([]byte("{\"_id\":\"x\"}\n\n{\"_id\":\"y\"}\n"))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = decodeDocuments([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = decodeDocuments([]byte(`[{"a":1}`))
	assert.ErrorIs(t, err, doctree.ErrInvalidJSON)

	doc, err := doctree.Decode([]byte(`{"a":1}`))
	require.NoError(t, err)
	_, err = documentID(doc)
	assert.ErrorIs(t, err, ErrMissingID)
}
