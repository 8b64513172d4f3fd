package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Drain the durable network replay queue",
		Long: `Send queued network requests in FIFO order. Mutations that
still cannot reach the remote service halt the drain and keep their
place at the head of the queue; reads are deferred to the end and
deduplicated.

Example:
  syncd replay
  syncd replay --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd)
		},
	}

	return cmd
}

func runReplay(opts *RootOptions, cmd *cobra.Command) error {
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
	if err := rt.engine.Replay(ctx); err != nil {
		return WrapExitError(ExitFailure, "replay drain failed", err)
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
			"queuedBefore": before.ReplayDepth,
			"queuedAfter":  after.ReplayDepth,
		})
	}
	return formatter.Success(fmt.Sprintf("replayed: %d queued -> %d remaining", before.ReplayDepth, after.ReplayDepth))
}
