// ABOUTME: Replay run model: per-entry states, options, outcomes and totals
// ABOUTME: Resolver/Sink/Recorder interfaces decouple the executor from backends

package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/patch"
)

var (
	// ErrMissingTarget is returned when a run has no target string
	ErrMissingTarget = errors.New("replay: target string is required")

	// ErrUnknownMode is returned by ParseMode for unrecognized modes
	ErrUnknownMode = errors.New("replay: unknown write mode")
)

// State is the lifecycle state of one report entry during a run
type State int

const (
	Pending State = iota
	Skipped
	Unchanged
	Simulated
	Patched
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Skipped:
		return "skipped"
	case Unchanged:
		return "unchanged"
	case Simulated:
		return "simulated"
	case Patched:
		return "patched"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Mode selects how changes are written back
type Mode string

const (
	// ModePatch writes only the changed fields
	ModePatch Mode = "patch"

	// ModeReplace rewrites the whole document
	ModeReplace Mode = "replace"
)

// ParseMode accepts "patch" or "replace"; empty means patch
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModePatch):
		return ModePatch, nil
	case string(ModeReplace):
		return ModeReplace, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Options configures one replay run
type Options struct {
	Target      string
	Replacement string
	DryRun      bool
	Limit       int // 0 means no limit
	Mode        Mode
	Link        *patch.LinkRule
	RunID       string
}

// Resolver loads the current version of a document
type Resolver interface {
	Get(ctx context.Context, collection, id string) (*doctree.Node, error)
}

// Sink writes changes back to a document store
type Sink interface {
	ApplyPatch(ctx context.Context, collection, id string, p patch.Patch) error
	Replace(ctx context.Context, collection, id string, doc *doctree.Node) error
}

// Run describes a replay run to recorders
type Run struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	Target      string    `json:"target"`
	Replacement string    `json:"replacement"`
	DryRun      bool      `json:"dryRun"`
	Mode        Mode      `json:"mode"`
	Limit       int       `json:"limit"`
	Entries     int       `json:"entries"`
}

// Change is one successful write, with the patch that undoes it
type Change struct {
	RunID      string      `json:"run"`
	Seq        int         `json:"seq"`
	Collection string      `json:"collection"`
	ID         string      `json:"id"`
	Count      int         `json:"count"`
	Whole      bool        `json:"whole,omitempty"`
	Patch      patch.Patch `json:"patch"`
	Inverse    patch.Patch `json:"inverse"`
}

// Totals counts entries per final state
type Totals struct {
	Considered   int `json:"considered"`
	Pending      int `json:"pending"`
	Skipped      int `json:"skipped"`
	Unchanged    int `json:"unchanged"`
	Simulated    int `json:"simulated"`
	Patched      int `json:"patched"`
	Failed       int `json:"failed"`
	Replacements int `json:"replacements"`
}

func (t *Totals) add(o Outcome) {
	switch o.State {
	case Pending:
		t.Pending++
		return
	case Skipped:
		t.Skipped++
	case Unchanged:
		t.Unchanged++
	case Simulated:
		t.Simulated++
		t.Replacements += o.Count
	case Patched:
		t.Patched++
		t.Replacements += o.Count
	case Failed:
		t.Failed++
	}
	t.Considered++
}

// Map flattens the totals for structured logging
func (t Totals) Map() map[string]int {
	return map[string]int{
		"considered":   t.Considered,
		"pending":      t.Pending,
		"skipped":      t.Skipped,
		"unchanged":    t.Unchanged,
		"simulated":    t.Simulated,
		"patched":      t.Patched,
		"failed":       t.Failed,
		"replacements": t.Replacements,
	}
}

// Finish is handed to recorders once a run ends
type Finish struct {
	RunID      string    `json:"run"`
	FinishedAt time.Time `json:"finishedAt"`
	Totals     Totals    `json:"totals"`
	Err        string    `json:"error,omitempty"`
}

// Recorder observes a run; journal and history implement it
type Recorder interface {
	BeginRun(ctx context.Context, run Run) error
	RecordChange(ctx context.Context, change Change) error
	EndRun(ctx context.Context, finish Finish) error
}

// Outcome is the final state of one entry
type Outcome struct {
	Collection string
	ID         string
	State      State
	Count      int // would-be or applied changes
	Err        error
}

// Result is returned by Executor.Run
type Result struct {
	RunID    string
	Outcomes []Outcome
	Totals   Totals

	// Err aggregates write failures; nil when every write succeeded
	Err error
}
