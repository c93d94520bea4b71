package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/linksweep/internal/config"
	"github.com/nainya/linksweep/pkg/journal"
)

func newRollbackCmd(a *app) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Undo the writes of a replace run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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

			hist, err := b.history(a.cfg.HistoryPath, a.cfg.LocalDBPath)
			if err != nil {
				return err
			}

			res, err := hist.Rollback(ctx, runID, b.store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s: restored %d documents, %d failed\n", res.RunID, res.Restored, res.Failed)
			return res.Err
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id to roll back")
	cmd.MarkFlagRequired("run")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded replace runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := &backend{}
			if a.cfg.Store == config.StoreLocal && samePath(a.cfg.HistoryPath, a.cfg.LocalDBPath) {
				var err error
				if b, err = a.openBackend(cmd.Context(), nil); err != nil {
					return err
				}
				defer b.Close()
			}
			hist, err := b.history(a.cfg.HistoryPath, a.cfg.LocalDBPath)
			if err != nil {
				return err
			}
			if b.store == nil {
				defer b.historyDB.Close()
			}

			runs, err := hist.ListRuns()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tDRY\tMODE\tCHANGES\tSTATUS")
			for _, r := range runs {
				status := "running"
				switch {
				case r.RolledBackAt != nil:
					status = "rolled back"
				case r.Err != "":
					status = "errors"
				case r.Completed():
					status = "completed"
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%d\t%s\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.DryRun, r.Mode, r.Changes, status)
			}
			return tw.Flush()
		},
	}
}

func newJournalCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show replace runs recorded in the write-ahead journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j := &journal.Journal{Path: a.cfg.JournalPath}
			entries, err := j.ReadAll()
			if err != nil {
				return err
			}
			runs, err := journal.Runs(entries)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			for _, r := range runs {
				state := "incomplete"
				if r.Completed {
					state = "completed"
				}
				fmt.Fprintf(out, "%s  lsn=%d  changes=%d  %s\n", r.ID, r.StartLSN, len(r.Changes), state)
				for _, c := range r.Changes {
					fmt.Fprintf(out, "  #%d %s/%s  %d replacements\n", c.Seq, c.Collection, c.ID, c.Count)
				}
				if r.Finish != nil && r.Finish.Err != "" {
					fmt.Fprintf(out, "  error: %s\n", r.Finish.Err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}
