package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/localnerve/jam-build-sub001/internal/channel"
	"github.com/localnerve/jam-build-sub001/internal/config"
	"github.com/localnerve/jam-build-sub001/internal/engine"
	"github.com/localnerve/jam-build-sub001/internal/store"
)

// runtime bundles the wired components a command operates on.
type runtime struct {
	cfg    config.Config
	log    *slog.Logger
	engine *engine.Engine
	hub    *channel.Hub

	close func()
}

// newLogger builds the structured logger from config, with --verbose
// forcing debug level.
func newLogger(cfg config.Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, hopts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, hopts)
	}
	return slog.New(handler)
}

// openRuntime loads config, opens the local store, and wires an engine
// over it. The caller must invoke close when done.
func openRuntime(opts *RootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	log := newLogger(cfg, opts.Verbose)
	slog.SetDefault(log)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		if errors.Is(err, store.ErrMigrationBlocked) {
			return nil, WrapExitError(ExitCommandError,
				fmt.Sprintf("database %s was written by a newer build; upgrade this binary", cfg.Database.Path), err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	hub := channel.NewHub(log)
	eng := engine.New(cfg, st, hub, log)

	return &runtime{
		cfg:    cfg,
		log:    log,
		engine: eng,
		hub:    hub,
		close: func() {
			hub.Close()
			if cerr := st.Close(); cerr != nil {
				log.Error("error closing database", "error", cerr)
			}
		},
	}, nil
}
