package appctx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("db", "", "Database path")
	cmd.Flags().String("actor", "", "Actor")
	cmd.Flags().String("log-level", "", "Log level")
	cmd.SetContext(context.Background())
	return cmd
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TEAMQ_CONFIG", "")
	t.Setenv("TEAMQ_DRIVER", "")
	t.Setenv("TEAMQ_DSN", "")
	t.Setenv("TEAMQ_DB_PATH", "")
	t.Chdir(home)
	return home
}

func migratedDB(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "teamq.db")
	database, err := db.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	require.NoError(t, database.Close())
	return path
}

func TestBootstrap_ConfigOnly(t *testing.T) {
	isolate(t)

	app, err := Bootstrap(newCmd(), Options{NeedsDB: false})
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Config)
	assert.NotNil(t, app.Log)
	assert.Nil(t, app.DB)
	assert.Nil(t, app.Store)
}

func TestBootstrap_WithDB(t *testing.T) {
	home := isolate(t)
	path := migratedDB(t, home)

	cmd := newCmd()
	require.NoError(t, cmd.Flags().Set("db", path))
	require.NoError(t, cmd.Flags().Set("actor", "ops"))

	app, err := Bootstrap(cmd, DefaultOptions())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, path, app.DB.Path())
	assert.Equal(t, "ops", app.Config.Actor)
	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Gate)
	assert.NotNil(t, app.Audit)
	assert.NotNil(t, app.Resolver())
	assert.NotNil(t, app.Executor())
	assert.NotNil(t, app.Deduplicator())
	assert.Contains(t, app.Holder(), "ops")
}

func TestBootstrap_PendingMigrations(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "fresh.db")

	cmd := newCmd()
	require.NoError(t, cmd.Flags().Set("db", path))

	_, err := Bootstrap(cmd, DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires migration")

	app, err := Bootstrap(cmd, Options{NeedsDB: true, AllowPending: true})
	require.NoError(t, err)
	app.Close()
	app.Close()
}

func TestWithApp_ClosesDB(t *testing.T) {
	home := isolate(t)
	path := migratedDB(t, home)

	cmd := newCmd()
	require.NoError(t, cmd.Flags().Set("db", path))

	var captured *App
	run := WithApp(DefaultOptions(), func(app *App, cmd *cobra.Command, args []string) error {
		captured = app
		assert.NotNil(t, app.DB)
		return nil
	})
	require.NoError(t, run(cmd, nil))
	require.NotNil(t, captured)
	assert.Nil(t, captured.DB)
}
