package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
)

func newLeaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Inspect or clear the registry write lease",
	}
	cmd.AddCommand(newLeaseStatusCmd(), newLeaseReleaseCmd())
	return cmd
}

// LeaseStatus describes the registry gate.
type LeaseStatus struct {
	Held    bool         `json:"held"`
	Expired bool         `json:"expired,omitempty"`
	Lease   *lease.Lease `json:"lease,omitempty"`
}

func newLeaseStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show who holds the write lease",
		Args:  cobra.NoArgs,
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			l, ok, err := app.Gate.Status(cmd.Context(), lease.RegistryGate)
			if err != nil {
				return err
			}
			st := LeaseStatus{Held: ok, Lease: l}
			if ok {
				st.Expired = l.Expired(time.Now())
			}

			r, err := renderer(app, cmd)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.Render(st, nil, nil)
			}
			out := cmd.OutOrStdout()
			switch {
			case !ok:
				fmt.Fprintln(out, "Write lease is free")
			case st.Expired:
				fmt.Fprintf(out, "%s lease held by %s expired at %s\n", yellow("stale:"), l.Holder, l.ExpiresAt.Format(time.RFC3339))
			default:
				fmt.Fprintf(out, "Write lease held by %s until %s\n", l.Holder, l.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		}),
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func newLeaseReleaseCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Clear the write lease left by a crashed writer",
		Long: `Removes the registry write lease regardless of its holder. Only use this
when the holder is known to be gone; a live writer loses its authorization
and its next chunk fails.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			if !force {
				return exitError(ExitUsage, fmt.Errorf("refusing to release the write lease without --force"))
			}
			released, err := app.Gate.ForceRelease(cmd.Context(), lease.RegistryGate)
			if err != nil {
				return err
			}
			if released {
				app.Log.WithField("gate", lease.RegistryGate).Warn("write lease force-released")
				fmt.Fprintln(cmd.OutOrStdout(), "Write lease released")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Write lease was not held")
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "Release even if another process holds the lease")
	return cmd
}
