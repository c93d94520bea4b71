package acceptance

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/cucumber/godog"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/occurrence"
	"github.com/nainya/linksweep/pkg/patch"
	"github.com/nainya/linksweep/pkg/replay"
	"github.com/nainya/linksweep/pkg/report"
	"github.com/nainya/linksweep/pkg/storage"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

// countingStore counts writes that reach the store
type countingStore struct {
	storage.Store
	writes atomic.Int64
}

func (c *countingStore) ApplyPatch(ctx context.Context, collection, id string, p patch.Patch) error {
	c.writes.Add(1)
	return c.Store.ApplyPatch(ctx, collection, id, p)
}

func (c *countingStore) Replace(ctx context.Context, collection, id string, doc *doctree.Node) error {
	c.writes.Add(1)
	return c.Store.Replace(ctx, collection, id, doc)
}

type world struct {
	doc     *doctree.Node
	scan    occurrence.Result
	count   int
	patch   patch.Patch
	rule    patch.LinkRule
	store   *countingStore
	entries []report.Entry
	result  *replay.Result
}

func (w *world) theDocument(body *godog.DocString) error {
	doc, err := doctree.Decode([]byte(body.Content))
	if err != nil {
		return err
	}
	w.doc = doc
	return nil
}

func (w *world) iScanItFor(target string) error {
	w.scan = occurrence.Scan(w.doc, target)
	return nil
}

func (w *world) theTotalCountIs(n int) error {
	if w.scan.Total != n {
		return fmt.Errorf("expected total %d, got %d", n, w.scan.Total)
	}
	return nil
}

func (w *world) theFieldHasOccurrences(path string, n int) error {
	for _, f := range w.scan.Fields {
		if f.Address.String() == path {
			if f.Count != n {
				return fmt.Errorf("field %s: expected %d, got %d", path, n, f.Count)
			}
			return nil
		}
	}
	return fmt.Errorf("field %s not reported in %+v", path, w.scan.Fields)
}

func (w *world) fieldsAreReported(n int) error {
	if len(w.scan.Fields) != n {
		return fmt.Errorf("expected %d fields, got %d", n, len(w.scan.Fields))
	}
	return nil
}

func (w *world) iReplaceWith(target, replacement string) error {
	w.count, w.patch = patch.Compute(w.doc, target, replacement)
	return nil
}

func (w *world) theCountIs(n int) error {
	if w.count != n {
		return fmt.Errorf("expected count %d, got %d", n, w.count)
	}
	return nil
}

func (w *world) thePatchHasEntries(n int) error {
	if w.patch.Len() != n {
		return fmt.Errorf("expected %d patch entries, got %d", n, w.patch.Len())
	}
	return nil
}

func (w *world) thePatchSetsTo(path, value string) error {
	e, ok := w.patch.Get(path)
	if !ok {
		return fmt.Errorf("patch has no entry for %s", path)
	}
	if e.Unset || e.Value == nil || e.Value.Kind != doctree.KindString || e.Value.Str != value {
		return fmt.Errorf("patch entry %s: expected %q, got %+v", path, value, e)
	}
	return nil
}

func (w *world) aLinkRule(predicate, newRef, newDerived string) error {
	w.rule = patch.LinkRule{Predicate: &predicate, NewRef: &newRef, NewDerived: &newDerived}
	return nil
}

func (w *world) iApplyTheLinkRule() error {
	w.count, w.patch = patch.LinkedUpdate(w.doc, w.rule)
	return nil
}

func (w *world) openStore() error {
	if w.store != nil {
		return nil
	}
	s, err := storage.OpenLocal(storage.LocalOptions{Path: "acceptance", FS: vfs.NewMem()})
	if err != nil {
		return err
	}
	w.store = &countingStore{Store: s}
	return nil
}

func (w *world) theStoreHolds(collection, id string, body *godog.DocString) error {
	if err := w.openStore(); err != nil {
		return err
	}
	doc, err := doctree.Decode([]byte(body.Content))
	if err != nil {
		return err
	}
	return w.store.Put(context.Background(), collection, id, doc)
}

func (w *world) aReportListing(c1, id1, c2, id2 string) error {
	w.entries = []report.Entry{
		{Collection: c1, ID: id1},
		{Collection: c2, ID: id2},
	}
	return nil
}

func (w *world) iReplay(kind, target, replacement string) error {
	exec := replay.NewExecutor(w.store, w.store)
	res, err := exec.Run(context.Background(), w.entries, replay.Options{
		Target:      target,
		Replacement: replacement,
		DryRun:      kind == "dry-run",
	})
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	w.result = res
	return nil
}

func (w *world) entryIs(collection, id, state string) error {
	for _, o := range w.result.Outcomes {
		if o.Collection == collection && o.ID == id {
			if o.State.String() != state {
				return fmt.Errorf("entry %s/%s: expected %s, got %s", collection, id, state, o.State)
			}
			return nil
		}
	}
	return fmt.Errorf("entry %s/%s has no outcome", collection, id)
}

func (w *world) theStoreReceivedWrites(n int) error {
	if got := w.store.writes.Load(); got != int64(n) {
		return fmt.Errorf("expected %d writes, got %d", n, got)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	w := &world{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		*w = world{}
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if w.store != nil {
			w.store.Close()
		}
		return ctx, nil
	})

	ctx.Step(`^the document:$`, w.theDocument)
	ctx.Step(`^I scan it for "([^"]*)"$`, w.iScanItFor)
	ctx.Step(`^the total count is (\d+)$`, w.theTotalCountIs)
	ctx.Step(`^the field "([^"]*)" has (\d+) occurrences$`, w.theFieldHasOccurrences)
	ctx.Step(`^(\d+) fields? (?:is|are) reported$`, w.fieldsAreReported)

	ctx.Step(`^I replace "([^"]*)" with "([^"]*)"$`, w.iReplaceWith)
	ctx.Step(`^the (?:replacement|change) count is (\d+)$`, w.theCountIs)
	ctx.Step(`^the patch has (\d+) entries$`, w.thePatchHasEntries)
	ctx.Step(`^the patch sets "([^"]*)" to "([^"]*)"$`, w.thePatchSetsTo)

	ctx.Step(`^a link rule with predicate "([^"]*)", new reference "([^"]*)" and new derived value "([^"]*)"$`, w.aLinkRule)
	ctx.Step(`^I apply the link rule$`, w.iApplyTheLinkRule)

	ctx.Step(`^the store holds "([^"/]*)/([^"]*)":$`, w.theStoreHolds)
	ctx.Step(`^a report listing "([^"/]*)/([^"]*)" and "([^"/]*)/([^"]*)"$`, w.aReportListing)
	ctx.Step(`^I (replay|dry-run) replacing "([^"]*)" with "([^"]*)"$`, w.iReplay)
	ctx.Step(`^entry "([^"/]*)/([^"]*)" is "([^"]*)"$`, w.entryIs)
	ctx.Step(`^the store received (\d+) writes$`, w.theStoreReceivedWrites)
}
