// ABOUTME: Pebble-backed run history with time-ordered listing
// ABOUTME: Records inverse patches per change and rolls runs back in reverse order

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/nainya/linksweep/pkg/replay"
	"github.com/nainya/linksweep/pkg/storage"
)

// Prefixes for history storage
const (
	PREFIX_RUN      = uint32(6000) // (runID) -> run JSON
	PREFIX_RUN_TIME = uint32(6100) // Index by (startedAt, runID)
	PREFIX_CHANGE   = uint32(6200) // (runID, seq) -> change JSON
)

// Store keeps run history in a pebble database
type Store struct {
	db  *pebble.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a history store on db. The database may be shared with a
// storage.LocalStore; key prefixes do not overlap.
func NewStore(db *pebble.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func runKey(id string) []byte {
	return storage.EncodeKey(PREFIX_RUN, []storage.Value{storage.NewStringValue(id)})
}

func runTimeKey(started time.Time, id string) []byte {
	return storage.EncodeKey(PREFIX_RUN_TIME, []storage.Value{
		storage.NewTimeValue(started),
		storage.NewStringValue(id),
	})
}

func changeKey(runID string, seq int) []byte {
	return storage.EncodeKey(PREFIX_CHANGE, []storage.Value{
		storage.NewStringValue(runID),
		storage.NewUint64Value(uint64(seq)),
	})
}

// BeginRun implements replay.Recorder
func (s *Store) BeginRun(ctx context.Context, run replay.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Run{
		ID:          run.ID,
		StartedAt:   run.StartedAt,
		Target:      run.Target,
		Replacement: run.Replacement,
		DryRun:      run.DryRun,
		Mode:        run.Mode,
		Limit:       run.Limit,
		Entries:     run.Entries,
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(runKey(run.ID), val, nil); err != nil {
		return err
	}
	if err := batch.Set(runTimeKey(run.StartedAt, run.ID), nil, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// RecordChange implements replay.Recorder
func (s *Store) RecordChange(ctx context.Context, change replay.Change) error {
	val, err := json.Marshal(change)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getRun(change.RunID)
	if err != nil {
		return err
	}
	run.Changes++
	runVal, err := json.Marshal(run)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(changeKey(change.RunID, change.Seq), val, nil); err != nil {
		return err
	}
	if err := batch.Set(runKey(run.ID), runVal, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// EndRun implements replay.Recorder
func (s *Store) EndRun(ctx context.Context, finish replay.Finish) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateRun(finish.RunID, func(r *Run) {
		at := finish.FinishedAt
		r.FinishedAt = &at
		r.Totals = finish.Totals
		r.Err = finish.Err
	})
}

// GetRun loads a run record
func (s *Store) GetRun(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRun(id)
}

func (s *Store) getRun(id string) (*Run, error) {
	val, closer, err := s.db.Get(runKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var run Run
	if err := json.Unmarshal(val, &run); err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return &run, nil
}

// updateRun rewrites a run record (caller must hold mu)
func (s *Store) updateRun(id string, fn func(*Run)) error {
	run, err := s.getRun(id)
	if err != nil {
		return err
	}
	fn(run)
	val, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.db.Set(runKey(id), val, pebble.Sync)
}

// ListRuns returns runs ordered by start time, oldest first
func (s *Store) ListRuns() ([]*Run, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: storage.EncodeKey(PREFIX_RUN_TIME, nil),
		UpperBound: storage.KeyUpperBound(PREFIX_RUN_TIME, nil),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		vals, err := storage.ExtractValues(iter.Key())
		if err != nil || len(vals) != 2 {
			return nil, fmt.Errorf("corrupt run index key: %x", iter.Key())
		}
		ids = append(ids, string(vals[1].Str))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Changes returns a run's changes in write order
func (s *Store) Changes(runID string) ([]replay.Change, error) {
	lead := []storage.Value{storage.NewStringValue(runID)}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: storage.EncodeKey(PREFIX_CHANGE, lead),
		UpperBound: storage.KeyUpperBound(PREFIX_CHANGE, lead),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var changes []replay.Change
	for iter.First(); iter.Valid(); iter.Next() {
		var c replay.Change
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("change %x: %w", iter.Key(), err)
		}
		changes = append(changes, c)
	}
	return changes, iter.Error()
}

// Rollback applies the inverse of every change of a run, newest first.
// Per-document failures are collected and do not stop the rollback. The run
// is marked rolled back only when every change was restored, so a failed
// rollback can be retried; inverses set absolute values and reapply cleanly.
func (s *Store) Rollback(ctx context.Context, runID string, sink replay.Sink) (*RollbackResult, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.RolledBackAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRolledBack, runID)
	}

	changes, err := s.Changes(runID)
	if err != nil {
		return nil, err
	}

	res := &RollbackResult{RunID: runID}
	var errs *multierror.Error
	for i := len(changes) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := changes[i]
		if err := sink.ApplyPatch(ctx, c.Collection, c.ID, c.Inverse); err != nil {
			res.Failed++
			errs = multierror.Append(errs, fmt.Errorf("%s/%s: %w", c.Collection, c.ID, err))
			continue
		}
		res.Restored++
	}
	res.Err = errs.ErrorOrNil()
	if res.Err != nil {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now().UTC()
	if err := s.updateRun(runID, func(r *Run) { r.RolledBackAt = &at }); err != nil {
		return res, err
	}
	return res, nil
}
