package cli

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/render"
)

// renderer honors --output and --porcelain, falling back to the
// configured default format.
func renderer(app *appctx.App, cmd *cobra.Command) (*render.Renderer, error) {
	name := app.Config.Output
	if f := cmd.Flag("output"); f != nil && f.Changed {
		name = f.Value.String()
	}
	if f := cmd.Flag("json"); f != nil && f.Changed && f.Value.String() == "true" {
		name = string(render.FormatJSON)
	}
	format, err := render.ParseFormat(name)
	if err != nil {
		return nil, exitError(ExitUsage, err)
	}
	porcelain := false
	if f := cmd.Flag("porcelain"); f != nil {
		porcelain = f.Value.String() == "true"
	}
	return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format, Porcelain: porcelain}), nil
}

// withWriteLease runs fn while holding the registry write lease.
func withWriteLease(ctx context.Context, app *appctx.App, fn func(ctx context.Context, l *lease.Lease) error) error {
	return app.Gate.Do(ctx, lease.RegistryGate, app.Holder(), fn)
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
