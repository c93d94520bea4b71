// ABOUTME: Replays a scan report against a live store, one entry at a time
// ABOUTME: Recomputes each patch on the current document so reruns are no-ops

package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/nainya/linksweep/internal/logger"
	"github.com/nainya/linksweep/internal/metrics"
	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/occurrence"
	"github.com/nainya/linksweep/pkg/patch"
	"github.com/nainya/linksweep/pkg/report"
)

// Executor drives report entries through the replay state machine
type Executor struct {
	resolver  Resolver
	sink      Sink
	recorders []Recorder
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithRecorder adds a recorder notified of run start, writes and run end
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) { e.recorders = append(e.recorders, r) }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// WithMetrics enables replay metrics
func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor reading through resolver and writing to sink
func NewExecutor(resolver Resolver, sink Sink, opts ...ExecutorOption) *Executor {
	e := &Executor{
		resolver: resolver,
		sink:     sink,
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run replays entries. Entries are grouped by collection in order of first
// appearance; Limit caps how many are considered and the rest stay Pending.
// Write failures do not stop the run and are aggregated into Result.Err.
func (e *Executor) Run(ctx context.Context, entries []report.Entry, opts Options) (*Result, error) {
	if opts.Target == "" {
		return nil, ErrMissingTarget
	}
	if opts.Mode == "" {
		opts.Mode = ModePatch
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	ordered := Group(entries)
	result := &Result{
		RunID:    opts.RunID,
		Outcomes: make([]Outcome, len(ordered)),
	}
	for i, entry := range ordered {
		result.Outcomes[i] = Outcome{Collection: entry.Collection, ID: entry.ID, State: Pending}
	}

	run := Run{
		ID:          opts.RunID,
		StartedAt:   e.now().UTC(),
		Target:      opts.Target,
		Replacement: opts.Replacement,
		DryRun:      opts.DryRun,
		Mode:        opts.Mode,
		Limit:       opts.Limit,
		Entries:     len(ordered),
	}
	for _, r := range e.recorders {
		if err := r.BeginRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
	}

	var errs *multierror.Error
	seq := 0
	for i, entry := range ordered {
		if opts.Limit > 0 && i >= opts.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}

		out, change := e.process(ctx, entry, opts)
		if change != nil {
			seq++
			change.Seq = seq
			for _, r := range e.recorders {
				if err := r.RecordChange(ctx, *change); err != nil {
					errs = multierror.Append(errs, fmt.Errorf("%s/%s: failed to record change: %w", entry.Collection, entry.ID, err))
				}
			}
		}
		if out.State == Failed {
			errs = multierror.Append(errs, fmt.Errorf("%s/%s: %w", entry.Collection, entry.ID, out.Err))
		}
		result.Outcomes[i] = out

		e.log.ReplayLogger(opts.RunID, entry.Collection).LogReplayOutcome(entry.ID, out.State.String(), out.Count, out.Err)
		if e.metrics != nil {
			applied := 0
			if out.State == Patched {
				applied = out.Count
			}
			e.metrics.RecordReplay(entry.Collection, out.State.String(), applied)
		}
	}

	for _, out := range result.Outcomes {
		result.Totals.add(out)
	}
	result.Err = errs.ErrorOrNil()

	finish := Finish{RunID: opts.RunID, FinishedAt: e.now().UTC(), Totals: result.Totals}
	if result.Err != nil {
		finish.Err = result.Err.Error()
	}
	for _, r := range e.recorders {
		if err := r.EndRun(ctx, finish); err != nil {
			return result, fmt.Errorf("failed to record run end: %w", err)
		}
	}

	e.log.LogRunSummary("replace", result.Totals.Map())
	return result, nil
}

// process moves one entry out of Pending. A non-nil Change is returned for
// successful writes.
func (e *Executor) process(ctx context.Context, entry report.Entry, opts Options) (Outcome, *Change) {
	out := Outcome{Collection: entry.Collection, ID: entry.ID}

	doc, err := e.resolver.Get(ctx, entry.Collection, entry.ID)
	if err != nil {
		out.State = Skipped
		out.Err = err
		return out, nil
	}

	count, p := Plan(doc, opts)
	if p.IsEmpty() {
		out.State = Unchanged
		return out, nil
	}
	out.Count = count

	if opts.DryRun {
		out.State = Simulated
		return out, nil
	}

	inverse := patch.Invert(doc, p)
	whole := opts.Mode == ModeReplace
	if whole {
		var updated *doctree.Node
		if opts.Link != nil && opts.Link.Active() {
			updated, err = patch.Apply(doc, p)
		} else {
			updated, _ = patch.ApplyInline(doc, opts.Target, opts.Replacement)
		}
		if err == nil {
			err = e.sink.Replace(ctx, entry.Collection, entry.ID, updated)
		}
	} else {
		err = e.sink.ApplyPatch(ctx, entry.Collection, entry.ID, p)
	}
	if err != nil {
		out.State = Failed
		out.Err = err
		return out, nil
	}

	out.State = Patched
	return out, &Change{
		RunID:      opts.RunID,
		Collection: entry.Collection,
		ID:         entry.ID,
		Count:      count,
		Whole:      whole,
		Patch:      p,
		Inverse:    inverse,
	}
}

// Plan computes the effective patch for doc: the target replacement plus the
// link rule when one is active. Entries that would not change doc are dropped.
// The count is replaced occurrences plus link field changes.
func Plan(doc *doctree.Node, opts Options) (int, patch.Patch) {
	var count int
	var p patch.Patch
	if opts.Target != opts.Replacement {
		count, p = patch.Compute(doc, opts.Target, opts.Replacement)
	}

	if opts.Link != nil && opts.Link.Active() {
		_, lp := patch.LinkedUpdate(doc, *opts.Link)
		lp = patch.Effective(doc, lp)
		for _, entry := range lp.Entries() {
			// the rule's value wins over a replacement at the same field
			if _, ok := p.Get(entry.Address.String()); ok {
				if orig, found := doc.Lookup(entry.Address); found && orig.Kind == doctree.KindString {
					count -= occurrence.Count(orig.Str, opts.Target)
				}
			}
			count++
		}
		p.Merge(lp)
	}
	return count, p
}

// Group orders entries by collection in order of first appearance, keeping
// the original order within each collection
func Group(entries []report.Entry) []report.Entry {
	var order []string
	groups := make(map[string][]report.Entry)
	for _, entry := range entries {
		if _, ok := groups[entry.Collection]; !ok {
			order = append(order, entry.Collection)
		}
		groups[entry.Collection] = append(groups[entry.Collection], entry)
	}

	out := make([]report.Entry, 0, len(entries))
	for _, name := range order {
		out = append(out, groups[name]...)
	}
	return out
}
