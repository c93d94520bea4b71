package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nainya/linksweep/internal/config"
	"github.com/nainya/linksweep/pkg/analyze"
	"github.com/nainya/linksweep/pkg/report"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Scan the store for SEARCH_URL and write a search report",
		Long: `Scan every configured collection for the SEARCH_URL string and write
search-report-<timestamp>.{json,csv,txt} to the reports directory.
Nothing in the store is modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Require(config.SearchURL); err != nil {
				return err
			}
			ctx := cmd.Context()
			m := newMetrics()

			b, err := a.openBackend(ctx, m)
			if err != nil {
				return err
			}
			defer b.Close()

			rep, err := analyze.Run(ctx, b.store, analyze.Options{
				Target:      a.cfg.SearchURL,
				Collections: a.cfg.MongoCollections,
				URLs:        report.URLResolver{BaseURL: a.cfg.BaseURL},
				Concurrency: concurrency,
				Logger:      a.log,
				Metrics:     m,
			})
			if err != nil {
				return err
			}

			dir, err := report.EnsureDir(a.cfg.ReportsDir)
			if err != nil {
				return err
			}
			files, err := report.Save(dir, rep)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Documents scanned:      %d\n", rep.Summary.TotalDocuments)
			fmt.Fprintf(out, "Documents with matches: %d\n", rep.Summary.TotalDocumentsWithMatches)
			fmt.Fprintf(out, "Total occurrences:      %d\n", rep.Summary.TotalOccurrences)
			fmt.Fprintf(out, "JSON report: %s\n", files.JSON)
			fmt.Fprintf(out, "CSV report:  %s\n", files.CSV)
			fmt.Fprintf(out, "Text report: %s\n", files.Text)
			return nil
		},
	}

	cmd.Flags().String("base-url", "", "Site root used to build document URLs")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Collections scanned in parallel (0 = all)")
	return cmd
}
