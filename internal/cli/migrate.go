package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
)

func newMigrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Applies every pending schema migration, each in its own transaction.
With --status, lists applied and pending migrations without changing anything.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.Options{NeedsDB: true, AllowPending: true}, func(app *appctx.App, cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if status {
				applied, pending, err := app.DB.MigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				for _, v := range applied {
					fmt.Fprintf(out, "%s  %s\n", green("applied"), v)
				}
				for _, v := range pending {
					fmt.Fprintf(out, "%s  %s\n", yellow("pending"), v)
				}
				return nil
			}

			applied, err := app.DB.MigrateWithInfo(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintf(out, "Database %s is up to date\n", app.DB.Path())
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(out, "Applied %s\n", v)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&status, "status", false, "Show migration status only")
	return cmd
}
