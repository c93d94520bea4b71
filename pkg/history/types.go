// ABOUTME: Run history data model
// ABOUTME: A run record plus the ordered inverse patches needed to undo it

package history

import (
	"errors"
	"time"

	"github.com/nainya/linksweep/pkg/replay"
)

var (
	// ErrRunNotFound is returned for unknown run ids
	ErrRunNotFound = errors.New("history: run not found")

	// ErrAlreadyRolledBack is returned when a run was undone before
	ErrAlreadyRolledBack = errors.New("history: run already rolled back")
)

// Run is the stored record of one replay run
type Run struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
	Target       string        `json:"target"`
	Replacement  string        `json:"replacement"`
	DryRun       bool          `json:"dryRun"`
	Mode         replay.Mode   `json:"mode"`
	Limit        int           `json:"limit"`
	Entries      int           `json:"entries"`
	Changes      int           `json:"changes"`
	Totals       replay.Totals `json:"totals"`
	Err          string        `json:"error,omitempty"`
	RolledBackAt *time.Time    `json:"rolledBackAt,omitempty"`
}

// Completed reports whether the run reached its end
func (r *Run) Completed() bool {
	return r.FinishedAt != nil
}

// RollbackResult summarizes an undo
type RollbackResult struct {
	RunID    string
	Restored int
	Failed   int

	// Err aggregates per-document failures
	Err error
}
