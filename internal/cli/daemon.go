package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/daemon"
)

// DaemonOptions configures the HTTP daemon.
type DaemonOptions struct {
	Addr  string
	Unix  string
	Token string
}

func newServeCmd() *cobra.Command {
	var opts DaemonOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry over HTTP",
		Long: `Starts the teamq HTTP daemon. Write endpoints take the registry write
lease per request; a request arriving while another writer holds it is
answered with 423 Locked.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			if opts.Addr == "" {
				opts.Addr = app.Config.Daemon.Addr
			}
			if opts.Token == "" {
				opts.Token = app.Config.Daemon.Token
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return ServeDaemon(ctx, app, opts)
		}),
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (overrides TEAMQ_DAEMON_ADDR)")
	cmd.Flags().StringVar(&opts.Unix, "unix", "", "Listen on a unix socket instead of TCP")
	cmd.Flags().StringVar(&opts.Token, "token", "", "Require this bearer token (overrides TEAMQ_DAEMON_TOKEN)")
	return cmd
}

// ServeDaemon runs the HTTP daemon until ctx is cancelled.
func ServeDaemon(ctx context.Context, app *appctx.App, opts DaemonOptions) error {
	srv := daemon.New(app.Store, app.Gate, app.Resolver(), daemon.Options{
		Token:  opts.Token,
		Holder: app.Holder(),
		Logger: app.Log,
	})
	httpServer := &http.Server{
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	var listener net.Listener
	var err error
	if opts.Unix != "" {
		_ = os.Remove(opts.Unix)
		listener, err = net.Listen("unix", opts.Unix)
	} else {
		listener, err = net.Listen("tcp", opts.Addr)
	}
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()
	app.Log.WithField("addr", listener.Addr().String()).Info("teamqd listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	app.Log.Info("teamqd stopped")
	return nil
}

// ExecuteDaemon runs the standalone teamqd command.
func ExecuteDaemon() error {
	cmd := newServeCmd()
	cmd.Use = "teamqd"
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.Flags().String("db", "", "Path to SQLite database file (overrides TEAMQ_DB_PATH)")
	cmd.Flags().String("actor", "", "Actor recorded on audit entries (overrides TEAMQ_ACTOR)")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	return cmd.Execute()
}
