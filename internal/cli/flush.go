package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Reduce pending batch intents to network calls now",
		Long: `Run a reduction pass over the batch intent log immediately,
without waiting for the collection window to elapse. Intents collapse
to the minimal set of network calls and are sent in order.

Example:
  syncd flush
  syncd flush --config ./syncd.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlush(rootOpts, cmd)
		},
	}

	return cmd
}

func runFlush(opts *RootOptions, cmd *cobra.Command) error {
	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	before, err := rt.engine.Status(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read status", err)
	}
	if err := rt.engine.Flush(ctx); err != nil {
		return WrapExitError(ExitFailure, "reduction pass failed", err)
	}
	after, err := rt.engine.Status(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read status", err)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(map[string]int{
			"intentsBefore": before.Intents,
			"intentsAfter":  after.Intents,
		})
	}
	return formatter.Success(fmt.Sprintf("flushed: %d intents -> %d remaining", before.Intents, after.Intents))
}
