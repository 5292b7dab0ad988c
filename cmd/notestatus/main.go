package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cognicore/notestatus/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	env      string
	logLevel string
}

func newRootCommand() *cobra.Command {
	var g globalFlags
	cmd := &cobra.Command{
		Use:           "notestatus",
		Short:         "Segment clinical notes and reduce annotations to per-encounter feature status",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Init("notestatus", g.env, g.logLevel)
			cmd.SetContext(logging.WithContext(cmd.Context()))
		},
	}
	cmd.PersistentFlags().StringVar(&g.env, "env", "development", "Log format: development (console) or anything else (JSON)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newChunkCommand())
	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newRunsCommand())
	return cmd
}
