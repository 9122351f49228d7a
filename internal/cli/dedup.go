package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/matchdedup"
	"github.com/MGMAppDev/soccerview-sub003/internal/webhooks"
)

func newDedupMatchesCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "dedup-matches",
		Short: "Soft-delete duplicate and degenerate live matches",
		Long: `Finds live matches sharing (date, home, away) and keeps one per group,
preferring a scored match, then a non-legacy one, then the earliest. Live
matches whose home and away team are the same are soft-deleted as
degenerate. Every soft deletion is audited.

--mode plan (the default) reports without writing.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			d := app.Deduplicator()
			var res *matchdedup.Result
			var err error
			switch mode {
			case "plan":
				res, err = d.Plan(cmd.Context())
			case "execute":
				err = withWriteLease(cmd.Context(), app, func(ctx context.Context, l *lease.Lease) error {
					var err error
					res, err = d.Run(ctx, l)
					return err
				})
			default:
				return exitError(ExitUsage, fmt.Errorf("invalid --mode %q (expected plan or execute)", mode))
			}
			if err != nil {
				return err
			}
			if mode == "execute" {
				app.Webhooks().Dispatch(cmd.Context(), webhooks.Payload{
					Event: webhooks.EventMatchDedup,
					Actor: app.Audit.Actor(),
					Data:  res,
				})
			}

			r, err := renderer(app, cmd)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.Render(res, nil, nil)
			}
			var rows [][]string
			for _, s := range res.Duplicates {
				rows = append(rows, []string{"duplicate", id.Short(s.MatchID), id.Short(s.KeptID), s.Reason})
			}
			for _, s := range res.Degenerate {
				rows = append(rows, []string{"degenerate", id.Short(s.MatchID), "-", s.Reason})
			}
			if err := r.RenderTable([]string{"KIND", "MATCH", "KEPT", "REASON"}, rows); err != nil {
				return err
			}
			verb := "Would soft-delete"
			if mode == "execute" {
				verb = "Soft-deleted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d matches (%d duplicate groups, %d degenerate)\n",
				verb, res.Total(), res.Groups, len(res.Degenerate))
			return nil
		}),
	}
	cmd.Flags().StringVar(&mode, "mode", "plan", "plan or execute")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}
