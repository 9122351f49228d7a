package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/ingest"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/registry"
)

func newIngestCmd() *cobra.Command {
	var (
		continueOnError bool
		progress        bool
		asJSON          bool
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Resolve team and match observations from scraped documents",
		Long: `Reads observation documents (JSON or YAML) and applies them to the
registry under the write lease: teams first, then matches, in document order.

A document that fails conversion aborts the run before anything is written.
Exit status is 5 when some observations failed and --continue-on-error was set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			docs := make([]*ingest.Document, 0, len(args))
			for _, path := range args {
				doc, err := ingest.LoadFile(path)
				if err != nil {
					return exitError(ExitUsage, err)
				}
				docs = append(docs, doc)
			}

			runner := ingest.NewRunner(app.Resolver(), ingest.Options{
				ContinueOnError: continueOnError,
				ShowProgress:    progress,
				Logger:          app.Log,
			})
			var sum *ingest.Summary
			err := withWriteLease(cmd.Context(), app, func(ctx context.Context, l *lease.Lease) error {
				var err error
				sum, err = runner.Run(ctx, l, docs)
				return err
			})
			if err != nil {
				return err
			}

			if asJSON {
				r, err := renderer(app, cmd)
				if err != nil {
					return err
				}
				if err := r.RenderJSON(sum); err != nil {
					return err
				}
			} else {
				printIngestSummary(cmd, sum)
			}
			if code := sum.Result.ExitCode(); code != 0 {
				return exitError(code, fmt.Errorf("%d of %d observations failed", sum.Result.Failed, sum.Result.TotalItems))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep going after a failed observation")
	cmd.Flags().BoolVar(&progress, "progress", false, "Show a progress bar on stderr")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the summary as JSON")
	return cmd
}

func printIngestSummary(cmd *cobra.Command, sum *ingest.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Documents: %d\n", sum.Documents)

	teams := make([]string, 0, len(sum.Teams))
	for k := range sum.Teams {
		teams = append(teams, string(k))
	}
	sort.Strings(teams)
	for _, k := range teams {
		fmt.Fprintf(out, "  team %-10s %d\n", k, sum.Teams[registry.Outcome(k)])
	}

	matches := make([]string, 0, len(sum.Matches))
	for k := range sum.Matches {
		matches = append(matches, string(k))
	}
	sort.Strings(matches)
	for _, k := range matches {
		fmt.Fprintf(out, "  match %-10s %d\n", k, sum.Matches[registry.MatchOutcome(k)])
	}
	if sum.Filled > 0 || sum.Deferred > 0 {
		fmt.Fprintf(out, "  fields filled %d, deferred %d\n", sum.Filled, sum.Deferred)
	}
	sum.Result.PrintSummary(out)
}
