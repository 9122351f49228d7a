package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
)

func newAuditCmd() *cobra.Command {
	var f audit.Filter
	var action string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit log entries, newest first",
		Args:  cobra.NoArgs,
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			f.Action = domain.AuditAction(strings.ToUpper(action))
			records, err := audit.List(cmd.Context(), app.DB, f)
			if err != nil {
				return err
			}
			r, err := renderer(app, cmd)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
					string(rec.Action),
					rec.TableName,
					id.Short(rec.RecordID),
					id.Short(rec.BatchID),
					rec.Actor,
				})
			}
			return r.Render(records, []string{"AT", "ACTION", "TABLE", "RECORD", "BATCH", "ACTOR"}, rows)
		}),
	}
	cmd.Flags().StringVar(&f.RecordID, "record", "", "Only entries for this record id")
	cmd.Flags().StringVar(&action, "action", "", "Only MERGE, SOFT_DELETE, REPOINT or REDIRECT")
	cmd.Flags().StringVar(&f.BatchID, "batch", "", "Only entries from this batch")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "Maximum entries")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}
