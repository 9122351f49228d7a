package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/detect"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/merge"
	"github.com/MGMAppDev/soccerview-sub003/internal/webhooks"
)

type mergeFlags struct {
	mode       string
	pairs      []string
	pairsFile  string
	reportPath string
	diff       bool
	maxPasses  int
	chunkSize  int
}

func newMergeCmd() *cobra.Command {
	f := &mergeFlags{}
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge duplicate canonical teams",
		Long: `Merges duplicate canonical teams into their keep record. Pairs come from
the duplicate detector unless given with --pair keep:merge or --pairs FILE.

--mode plan (the default) previews the batch: teams to merge, matches to
migrate and a sample of pairs. --mode execute runs it under the write
lease, one committed transaction per chunk. A failing chunk rolls back and
later chunks are not attempted; committed chunks stay committed.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			return runMerge(app, cmd, f)
		}),
	}
	cmd.Flags().StringVar(&f.mode, "mode", "plan", "plan or execute")
	cmd.Flags().StringArrayVar(&f.pairs, "pair", nil, "Manual pair keep:merge (repeatable)")
	cmd.Flags().StringVar(&f.pairsFile, "pairs", "", "YAML or JSON file of manual pairs")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "Write the JSON plan or report to path")
	cmd.Flags().BoolVar(&f.diff, "diff", false, "Show each keep record before and after (plan mode)")
	cmd.Flags().IntVar(&f.maxPasses, "max-passes", 0, "Secondary-collision pass bound (overrides config)")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "Groups per committed transaction (overrides config)")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func runMerge(app *appctx.App, cmd *cobra.Command, f *mergeFlags) error {
	if f.mode != "plan" && f.mode != "execute" {
		return exitError(ExitUsage, fmt.Errorf("invalid --mode %q (expected plan or execute)", f.mode))
	}
	if cmd.Flags().Changed("max-passes") {
		if f.maxPasses < 0 {
			return exitError(ExitUsage, fmt.Errorf("--max-passes must be >= 0"))
		}
		app.Config.Merge.MaxPasses = f.maxPasses
	}
	if cmd.Flags().Changed("chunk-size") {
		if f.chunkSize <= 0 {
			return exitError(ExitUsage, fmt.Errorf("--chunk-size must be positive"))
		}
		app.Config.Merge.ChunkSize = f.chunkSize
	}

	ctx := cmd.Context()
	exec := app.Executor()
	manual, err := manualPairs(f)
	if err != nil {
		return err
	}

	r, err := renderer(app, cmd)
	if err != nil {
		return err
	}

	if f.mode == "plan" {
		pairs, detected, err := mergePairs(ctx, exec, manual)
		if err != nil {
			return err
		}
		plan, err := exec.Plan(ctx, pairs)
		if err != nil {
			return err
		}
		if detected != nil {
			plan.Ambiguous = detected.Ambiguous
		}
		if err := writeReport(f.reportPath, plan); err != nil {
			return err
		}
		if r.Structured() {
			return r.Render(plan, nil, nil)
		}
		printPlan(cmd.OutOrStdout(), plan)
		if f.diff {
			for _, g := range plan.Groups {
				d, err := exec.Diff(ctx, g)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
		}
		return nil
	}

	var rep *merge.Report
	runErr := withWriteLease(ctx, app, func(ctx context.Context, l *lease.Lease) error {
		// Detection runs under the lease so no write lands between it and
		// the batch.
		pairs, _, err := mergePairs(ctx, exec, manual)
		if err != nil {
			return err
		}
		rep, err = exec.Execute(ctx, l, pairs)
		return err
	})
	if rep != nil {
		app.Webhooks().Dispatch(ctx, webhooks.Payload{
			Event:   webhooks.EventMergeBatch,
			BatchID: rep.BatchID,
			Actor:   app.Audit.Actor(),
			Failed:  runErr != nil,
			Data:    rep,
		})
		if err := writeReport(f.reportPath, rep); err != nil {
			return err
		}
		if r.Structured() {
			if err := r.Render(rep, nil, nil); err != nil {
				return err
			}
		} else {
			printReport(cmd.OutOrStdout(), rep)
		}
	}
	return runErr
}

// manualPairs collects the --pair and --pairs overrides.
func manualPairs(f *mergeFlags) ([]domain.Pair, error) {
	var pairs []domain.Pair
	for _, s := range f.pairs {
		p, err := merge.ParsePair(s)
		if err != nil {
			return nil, exitError(ExitUsage, err)
		}
		pairs = append(pairs, p)
	}
	if f.pairsFile != "" {
		loaded, err := merge.LoadPairs(f.pairsFile)
		if err != nil {
			return nil, exitError(ExitUsage, err)
		}
		pairs = append(pairs, loaded...)
	}
	return pairs, nil
}

// mergePairs returns the manual pairs when any were given, otherwise the
// detector's pairs along with its result.
func mergePairs(ctx context.Context, exec *merge.Executor, manual []domain.Pair) ([]domain.Pair, *detect.Result, error) {
	if len(manual) > 0 {
		return manual, nil, nil
	}
	res, err := exec.Detect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return res.Pairs, res, nil
}

func writeReport(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func printPlan(out io.Writer, plan *merge.Plan) {
	fmt.Fprintf(out, "Would merge %d teams in %d groups, migrate %d matches (%d would become degenerate), %d chunks\n",
		plan.TeamsToMerge, len(plan.Groups), plan.MatchesToMigrate, plan.DegenerateMatches, plan.Chunks)
	if plan.SecondaryMerges > 0 {
		fmt.Fprintf(out, "  including %d secondary merges over %d passes\n", plan.SecondaryMerges, plan.Passes)
	}
	if plan.DuplicateMatches > 0 {
		fmt.Fprintf(out, "  %d duplicate matches would be soft-deleted\n", plan.DuplicateMatches)
	}
	if plan.Skipped > 0 {
		fmt.Fprintf(out, "Skipped %d pairs whose teams no longer exist\n", plan.Skipped)
	}
	if len(plan.Samples) > 0 {
		fmt.Fprintln(out, "Sample pairs:")
		for _, p := range plan.Samples {
			fmt.Fprintf(out, "  %s <- %s  %s\n", id.Short(p.KeepID), id.Short(p.MergeID), p.Reason)
		}
	}
	for _, rj := range plan.Rejected {
		fmt.Fprintf(out, "%s %s <- %s: %s\n", red("rejected:"), id.Short(rj.Pair.KeepID), id.Short(rj.Pair.MergeID), rj.Reason)
	}
	for _, e := range plan.Errors {
		fmt.Fprintf(out, "%s %s\n", red("would fail:"), e)
	}
	for _, a := range plan.Ambiguous {
		fmt.Fprintf(out, "%s %s matches %d clusters, not merged\n", yellow("ambiguous:"), id.Short(a.TeamID), len(a.Clusters))
	}
}

func printReport(out io.Writer, rep *merge.Report) {
	status := green("complete")
	if len(rep.Errors) > 0 {
		status = red("failed")
	}
	fmt.Fprintf(out, "Batch %s %s: %d/%d chunks committed\n", rep.BatchID, status, rep.CommittedChunks, rep.Chunks)
	fmt.Fprintf(out, "  merged %d, skipped %d, rejected %d\n", rep.Merged, rep.Skipped, len(rep.Rejected))
	fmt.Fprintf(out, "  matches migrated %d, duplicates removed %d, degenerate removed %d\n",
		rep.MatchesMigrated, rep.DuplicateMatches, rep.DegenerateMatches)
	if rep.SecondaryMerges > 0 {
		fmt.Fprintf(out, "  secondary merges %d over %d passes\n", rep.SecondaryMerges, rep.Passes)
	}
	if rep.RolledBack > 0 || rep.NotAttempted > 0 {
		fmt.Fprintf(out, "  %s rolled back %d, not attempted %d\n", yellow("!"), rep.RolledBack, rep.NotAttempted)
	}
	for _, rj := range rep.Rejected {
		fmt.Fprintf(out, "  %s %s <- %s: %s\n", red("rejected:"), id.Short(rj.Pair.KeepID), id.Short(rj.Pair.MergeID), rj.Reason)
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(out, "  %s %s\n", red("error:"), e)
	}
}
