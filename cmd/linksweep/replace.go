package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nainya/linksweep/internal/config"
	"github.com/nainya/linksweep/pkg/journal"
	"github.com/nainya/linksweep/pkg/replay"
	"github.com/nainya/linksweep/pkg/report"
)

// ErrAmbiguousCollection is returned when a report entry has no collection and
// more than one is configured
var ErrAmbiguousCollection = errors.New("report entry has no collection and MONGODB_COLLECTION names several")

func newReplaceCmd(a *app) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "replace",
		Short: "Replay the latest search report, replacing SEARCH_URL with REPLACE_URL",
		Long: `Load a search report (the newest in the reports directory unless --from
is given) and rewrite every listed document. Runs are dry unless DRY_RUN
is "false". Every write is journaled and kept in the run history so it
can be rolled back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Require(config.SearchURL, config.ReplaceURL); err != nil {
				return err
			}
			ctx := cmd.Context()

			path := from
			if path == "" {
				latest, err := report.FindLatest(a.cfg.ReportsDir)
				if err != nil {
					return fmt.Errorf("%w in %s; run analyze first", err, a.cfg.ReportsDir)
				}
				path = latest
			}
			rep, err := report.Load(path)
			if err != nil {
				return err
			}
			if rep.Summary.SearchURL != "" && rep.Summary.SearchURL != a.cfg.SearchURL {
				a.log.Warn("Report was generated for a different search string").
					Str("report", rep.Summary.SearchURL).
					Str("search_url", a.cfg.SearchURL).
					Send()
			}
			entries, err := assignCollections(rep.Entries, a.cfg.MongoCollections)
			if err != nil {
				return err
			}

			m := newMetrics()
			b, err := a.openBackend(ctx, m)
			if err != nil {
				return err
			}
			defer b.Close()

			release, err := a.acquireLock(ctx, b)
			if err != nil {
				return err
			}
			defer releaseQuietly(a, release)

			j := &journal.Journal{Path: a.cfg.JournalPath}
			if err := j.Open(); err != nil {
				return err
			}
			defer j.Close()

			hist, err := b.history(a.cfg.HistoryPath, a.cfg.LocalDBPath)
			if err != nil {
				return err
			}

			exec := replay.NewExecutor(b.store, b.store,
				replay.WithRecorder(journal.Recorder{J: j}),
				replay.WithRecorder(hist),
				replay.WithLogger(a.log),
				replay.WithMetrics(m),
			)

			a.log.Info("Starting replace").
				Str("report", path).
				Int("entries", len(entries)).
				Bool("dry_run", a.cfg.DryRun).
				Int("limit", a.cfg.Limit).
				Str("mode", string(a.cfg.ReplaceMode)).
				Send()

			res, err := exec.Run(ctx, entries, a.cfg.ReplayOptions())
			if res != nil {
				printTotals(cmd.OutOrStdout(), res, a.cfg.DryRun)
			}
			if err != nil {
				return err
			}
			return res.Err
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Report file to replay (default: newest in the reports directory)")
	cmd.Flags().Bool("dry-run", true, "Only report what would change; overrides DRY_RUN")
	cmd.Flags().Int("limit", 0, "Process at most this many entries (0 = all)")
	cmd.Flags().String("mode", string(replay.ModePatch), "Write mode: patch or replace")
	return cmd
}

// assignCollections fills in the collection of entries that lack one when
// exactly one collection is configured
func assignCollections(entries []report.Entry, configured []string) ([]report.Entry, error) {
	out := make([]report.Entry, len(entries))
	for i, e := range entries {
		if e.Collection == "" {
			if len(configured) != 1 {
				return nil, fmt.Errorf("%w: entry %s", ErrAmbiguousCollection, e.ID)
			}
			e.Collection = configured[0]
		}
		out[i] = e
	}
	return out, nil
}

func printTotals(w io.Writer, res *replay.Result, dryRun bool) {
	mode := "LIVE"
	if dryRun {
		mode = "DRY RUN"
	}
	fmt.Fprintf(w, "Run %s (%s)\n", res.RunID, mode)

	totals := res.Totals.Map()
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-13s %d\n", k+":", totals[k])
	}
}
