// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logger setup and target opening.
package appctx

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lherron/fsmerge/internal/config"
	"github.com/lherron/fsmerge/internal/db"
	"github.com/lherron/fsmerge/internal/logging"
	"github.com/lherron/fsmerge/internal/store"
)

// App holds the shared application context for commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// Ctx carries Logger and the command's cancellation.
	Ctx context.Context

	// DB and Store are nil unless NeedsDB was set.
	DB    *db.DB
	Store *store.Store
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
		a.Store = nil
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsDB opens the target and refuses to continue when it has
	// pending migrations.
	NeedsDB bool
}

// DefaultOptions returns options that open the target.
func DefaultOptions() Options {
	return Options{NeedsDB: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The target is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlag(cmd, "target", &cfg.TargetPath)
	applyFlag(cmd, "log-level", &cfg.LogLevel)
	applyFlag(cmd, "log-format", &cfg.LogFormat)

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Format = cfg.LogFormat
	if cfg.LogOutput != "" {
		logCfg.Output = cfg.LogOutput
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app := &App{Config: cfg, Logger: logging.New(logCfg)}
	app.Ctx = logging.WithLogger(ctx, app.Logger)

	if opts.NeedsDB {
		database, err := db.Open(cfg.TargetPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open target: %w", err)
		}
		if err := database.RequiresMigrationError(); err != nil {
			database.Close()
			return nil, err
		}
		app.DB = database
		app.Store = store.New(database)
	}

	return app, nil
}

func applyFlag(cmd *cobra.Command, name string, dst *string) {
	if f := cmd.Flag(name); f != nil && f.Value.String() != "" {
		*dst = f.Value.String()
	}
}
