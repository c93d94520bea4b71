package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nainya/linksweep/pkg/replay"
)

// RunLog is the journaled history of one replay run
type RunLog struct {
	ID       string
	StartLSN uint64
	Start    *replay.Run
	Changes  []replay.Change
	Finish   *replay.Finish

	// Completed is true when a run-end entry was written
	Completed bool
}

// Runs groups entries by run in order of first appearance
func Runs(entries []*Entry) ([]*RunLog, error) {
	byID := make(map[string]*RunLog)
	var order []*RunLog

	for _, e := range entries {
		run, ok := byID[e.Run]
		if !ok {
			run = &RunLog{ID: e.Run, StartLSN: e.LSN}
			byID[e.Run] = run
			order = append(order, run)
		}

		switch e.Kind {
		case KindRunStart:
			var start replay.Run
			if err := json.Unmarshal(e.Payload, &start); err != nil {
				return nil, fmt.Errorf("run start at LSN %d: %w", e.LSN, err)
			}
			run.Start = &start
		case KindChange:
			var change replay.Change
			if err := json.Unmarshal(e.Payload, &change); err != nil {
				return nil, fmt.Errorf("change at LSN %d: %w", e.LSN, err)
			}
			run.Changes = append(run.Changes, change)
		case KindRunEnd:
			var finish replay.Finish
			if err := json.Unmarshal(e.Payload, &finish); err != nil {
				return nil, fmt.Errorf("run end at LSN %d: %w", e.LSN, err)
			}
			run.Finish = &finish
			run.Completed = true
		}
	}
	return order, nil
}

// Recorder journals replay runs
type Recorder struct {
	J *Journal
}

// BeginRun implements replay.Recorder
func (r Recorder) BeginRun(ctx context.Context, run replay.Run) error {
	_, err := r.J.AppendJSON(KindRunStart, run.ID, run)
	return err
}

// RecordChange implements replay.Recorder
func (r Recorder) RecordChange(ctx context.Context, change replay.Change) error {
	_, err := r.J.AppendJSON(KindChange, change.RunID, change)
	return err
}

// EndRun implements replay.Recorder and syncs the journal
func (r Recorder) EndRun(ctx context.Context, finish replay.Finish) error {
	if _, err := r.J.AppendJSON(KindRunEnd, finish.RunID, finish); err != nil {
		return err
	}
	return r.J.Fsync()
}
