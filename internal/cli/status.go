package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/localnerve/jam-build-sub001/internal/engine"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync queue depths and connectivity",
		Long: `Report the engine's durable state: pending batch intents,
captured version conflicts, and queued network requests awaiting replay.

Example:
  syncd status
  syncd status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}

	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	status, err := rt.engine.Status(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read status", err)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(status)
	}
	return formatter.Success(formatStatus(status))
}

func formatStatus(s engine.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "online:       %t\n", s.Online)
	fmt.Fprintf(&b, "clients:      %d\n", s.Clients)
	fmt.Fprintf(&b, "intents:      %d\n", s.Intents)
	fmt.Fprintf(&b, "conflicts:    %d\n", s.Conflicts)
	fmt.Fprintf(&b, "replay depth: %d", s.ReplayDepth)
	return b.String()
}
