package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check registry invariants",
		Long: `Runs read-only health checks: schema and constraints, referential and
source-map integrity, live duplicate and degenerate matches, identity
collisions, residual duplicate teams, audit uniqueness, merged ids that
still exist and stale write leases.

Exits 1 when any check reports an error.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.Options{NeedsDB: true, AllowPending: true}, func(app *appctx.App, cmd *cobra.Command, args []string) error {
			report, err := doctor.Run(cmd.Context(), app.Store, time.Now())
			if err != nil {
				return err
			}
			r, err := renderer(app, cmd)
			if err != nil {
				return err
			}
			if r.Structured() {
				if err := r.Render(report, nil, nil); err != nil {
					return err
				}
			} else {
				printDoctor(cmd, report)
			}
			if report.Errors > 0 {
				return exitError(ExitFailure, fmt.Errorf("doctor found %d errors", report.Errors))
			}
			return nil
		}),
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func printDoctor(cmd *cobra.Command, report *doctor.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s\n\n", report.Database)
	for _, c := range report.Checks {
		mark := green("✓")
		switch c.Status {
		case doctor.StatusWarning:
			mark = yellow("⚠")
		case doctor.StatusError:
			mark = red("✗")
		}
		fmt.Fprintf(out, "%s %-22s %s\n", mark, c.Name, c.Message)
		for _, d := range c.Details {
			fmt.Fprintf(out, "    %s\n", d)
		}
	}
	fmt.Fprintf(out, "\n%s: %d errors, %d warnings\n", report.OverallStatus, report.Errors, report.Warnings)
}
