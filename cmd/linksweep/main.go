// linksweep finds a URL across stored documents, writes a report and replays
// the replacement from that report
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nainya/linksweep/internal/config"
	"github.com/nainya/linksweep/internal/logger"
)

var version = "dev"

// app holds state resolved before any subcommand runs
type app struct {
	v   *viper.Viper
	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "linksweep",
		Short:         "Find and replace a URL across stored documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.BindFlags(a.v, cmd.Flags(), flagBindings); err != nil {
				return err
			}
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logger.InitGlobalLogger(logger.Config{
				Level:  cfg.LogLevel,
				Pretty: cfg.LogPretty,
				Output: cmd.ErrOrStderr(),
			})
			a.log = logger.GetGlobalLogger()
			return nil
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-pretty", false, "Human-readable log output")
	root.PersistentFlags().String("store", config.StoreMongo, "Document store (mongo, postgres, local)")
	root.PersistentFlags().String("reports-dir", "", "Directory for search reports")

	root.AddCommand(
		newAnalyzeCmd(a),
		newReplaceCmd(a),
		newRollbackCmd(a),
		newRunsCmd(a),
		newJournalCmd(a),
		newImportCmd(a),
		newServeCmd(a),
	)
	return root
}

// flagBindings maps configuration variables to the flags that override them
var flagBindings = map[string]string{
	config.LogLevel:    "log-level",
	config.LogPretty:   "log-pretty",
	config.Store:       "store",
	config.ReportsDir:  "reports-dir",
	config.DryRun:      "dry-run",
	config.Limit:       "limit",
	config.ReplaceMode: "mode",
	config.BaseURL:     "base-url",
	config.GrpcPort:    "port",
	config.MetricsPort: "metrics-port",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "linksweep:", err)
		os.Exit(1)
	}
}
