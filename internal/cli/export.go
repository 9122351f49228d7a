package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/snapshot"
)

func newExportCmd() *cobra.Command {
	var (
		outPath string
		verify  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a canonical JSON snapshot of the registry",
		Long: `Exports teams, source mappings and live matches as canonical JSON with a
content revision (snapshot_rev). Identical registry state always yields the
same revision. Without --out the snapshot is written to stdout.

--verify FILE checks an existing snapshot's revision instead of exporting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verify != "" {
				data, err := os.ReadFile(verify)
				if err != nil {
					return fmt.Errorf("failed to read snapshot: %w", err)
				}
				snap, err := snapshot.Verify(data)
				if err != nil {
					return exitError(ExitFailure, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d teams, %d matches)\n",
					green("verified"), snap.Meta.SnapshotRev, len(snap.Teams), len(snap.Matches))
				return nil
			}
			return appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
				res, data, err := snapshot.Export(cmd.Context(), app.Store, snapshot.ExportOptions{OutputPath: outPath})
				if err != nil {
					return err
				}
				if outPath == "" {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s: %d teams, %d mappings, %d matches (%s)\n",
					res.OutputPath, res.TeamCount, res.MappingCount, res.MatchCount, res.SnapshotRev)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "Snapshot output path")
	cmd.Flags().StringVar(&verify, "verify", "", "Verify an existing snapshot file")
	return cmd
}
