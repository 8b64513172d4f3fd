package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync engine and message channel",
		Long: `Start the sync engine over the local database and expose the
websocket message channel for attached contexts.

The engine consumes client actions in arrival order, persists local
mutations, reduces batched intents into network calls, and replays
queued requests when connectivity allows.

Example:
  syncd serve
  syncd serve --config ./syncd.yaml --listen :8089`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	rt, err := openRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.close()

	listen := rt.cfg.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}

	// Use command's context if available (for testing), otherwise create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			rt.log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/channel", rt.hub)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status, serr := rt.engine.Status(r.Context())
		if serr != nil {
			http.Error(w, serr.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	srv := &http.Server{Addr: listen, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		rt.log.Info("channel listening", "addr", listen)
		err := srv.ListenAndServe()
		serveErr <- err
		if !errors.Is(err, http.ErrServerClosed) {
			// Bind failure or similar: stop the engine loop too.
			cancel()
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Listening for client actions...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	runErr := rt.engine.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		rt.log.Error("server shutdown", "error", serr)
	}

	if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", serr)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}

	rt.log.Info("engine stopped gracefully")
	return nil
}
