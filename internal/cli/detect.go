package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
)

func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List duplicate canonical teams without changing anything",
		Long: `Scans every canonical team for duplicates: same normalized name,
compatible identity, one record strictly more complete than the other and
some recorded match activity. Prints the candidate (keep, merge) pairs.
Teams compatible with more than one cluster are reported as ambiguous.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			res, err := app.Executor().Detect(cmd.Context())
			if err != nil {
				return err
			}
			r, err := renderer(app, cmd)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.Render(res, nil, nil)
			}

			rows := make([][]string, 0, len(res.Pairs))
			for _, p := range res.Pairs {
				rows = append(rows, []string{id.Short(p.KeepID), id.Short(p.MergeID), p.Reason})
			}
			if err := r.RenderTable([]string{"KEEP", "MERGE", "REASON"}, rows); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d teams: %d groups, %d teams to merge\n", res.Scanned, len(res.Groups), res.MergeCount())
			for _, a := range res.Ambiguous {
				fmt.Fprintf(out, "%s %s matches %d clusters, left alone\n", yellow("ambiguous:"), id.Short(a.TeamID), len(a.Clusters))
			}
			return nil
		}),
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}
