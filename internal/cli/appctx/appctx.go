// Package appctx provides a shared bootstrap helper for CLI commands and
// the daemon. It centralizes config loading, database opening and the
// construction of the registry components.
package appctx

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/config"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/logging"
	"github.com/MGMAppDev/soccerview-sub003/internal/matchdedup"
	"github.com/MGMAppDev/soccerview-sub003/internal/merge"
	"github.com/MGMAppDev/soccerview-sub003/internal/registry"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
	"github.com/MGMAppDev/soccerview-sub003/internal/webhooks"
)

// App holds the shared application context for commands.
type App struct {
	Config *config.Config
	Log    *logrus.Logger

	// DB, Store, Gate and Audit are nil if NeedsDB is false.
	DB    *db.DB
	Store *store.Store
	Gate  *lease.Manager
	Audit *audit.Writer
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsDB indicates whether to open the database.
	NeedsDB bool
	// AllowPending skips the pending-migration check (for migrate itself).
	AllowPending bool
}

// DefaultOptions returns default options (DB required).
func DefaultOptions() Options {
	return Options{NeedsDB: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The database is closed automatically when the wrapped function returns.
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

// flagValue returns a flag's value when the command (or a parent) defines
// it and it was set.
func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil && f.Changed {
		return f.Value.String()
	}
	return ""
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if v := flagValue(cmd, "db"); v != "" {
		cfg.DBPath = v
		cfg.Driver = db.DialectSQLite
	}
	if v := flagValue(cmd, "actor"); v != "" {
		cfg.Actor = v
	}
	if v := flagValue(cmd, "log-level"); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{
		Config: cfg,
		Log:    logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()}),
	}
	if !opts.NeedsDB {
		return app, nil
	}

	driver, dsn := cfg.DataSource()
	database, err := db.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if !opts.AllowPending {
		if err := database.RequiresMigrationError(cmd.Context()); err != nil {
			database.Close()
			return nil, err
		}
	}

	app.DB = database
	app.Store = store.New(database)
	app.Gate = lease.NewManager(database, cfg.Lease.TTL, app.Log)
	app.Audit = audit.NewWriter(cfg.Actor)
	return app, nil
}

// Holder names this process for the write lease.
func (a *App) Holder() string {
	return lease.HolderName(a.Config.Actor)
}

// Resolver builds the registry resolver.
func (a *App) Resolver() *registry.Resolver {
	return registry.New(a.Store, a.Gate, a.Audit, registry.Options{
		LegacySources: a.Config.LegacySources,
		Logger:        a.Log,
	})
}

// Deduplicator builds the standalone match deduplicator.
func (a *App) Deduplicator() *matchdedup.Deduplicator {
	return matchdedup.New(a.Store, a.Gate, a.Audit, a.Log)
}

// Executor builds the merge executor from configuration.
func (a *App) Executor() *merge.Executor {
	return merge.New(a.Store, a.Gate, a.Audit, merge.Options{
		MaxPasses:  a.Config.Merge.MaxPasses,
		ChunkSize:  a.Config.Merge.ChunkSize,
		SampleSize: a.Config.Merge.SampleSize,
		Logger:     a.Log,
	})
}

// Webhooks builds the batch notifier from configuration.
func (a *App) Webhooks() *webhooks.Dispatcher {
	return webhooks.New(a.Config.Webhooks, a.Log)
}
