package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli/appctx"
	"github.com/MGMAppDev/soccerview-sub003/internal/cursor"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/selectors"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
)

func newTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Inspect canonical teams",
	}
	cmd.AddCommand(newTeamShowCmd(), newTeamListCmd())
	return cmd
}

// TeamDetail is a team with its lifecycle state and source mappings.
type TeamDetail struct {
	*domain.Team
	State      domain.TeamState       `json:"state"`
	Mappings   []domain.SourceMapping `json:"mappings"`
	MergedFrom string                 `json:"merged_from,omitempty"`
}

// loadTeamDetail resolves selector and loads the surviving team.
func loadTeamDetail(ctx context.Context, s *store.Store, ex db.Executor, selector string) (*TeamDetail, error) {
	res, err := selectors.Resolve(ctx, s, ex, selector)
	if err != nil {
		return nil, err
	}
	team, err := s.Teams.Get(ctx, ex, res.TeamID)
	if err != nil {
		return nil, err
	}
	mappings, err := s.Mappings.ForTeams(ctx, ex, []string{team.ID})
	if err != nil {
		return nil, err
	}
	if mappings == nil {
		mappings = []domain.SourceMapping{}
	}
	return &TeamDetail{Team: team, State: team.State(), Mappings: mappings, MergedFrom: res.MergedFrom}, nil
}

func newTeamShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show SELECTOR",
		Short: "Show one team",
		Long: `Shows a canonical team by selector:

  <id>                  team id (a merged-away id redirects to the survivor)
  src:<source>:<entity> the team a source entity maps to
  name:<name>           the only team with that normalized name`,
		Args: cobra.ExactArgs(1),
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			detail, err := loadTeamDetail(cmd.Context(), app.Store, app.DB, args[0])
			if err != nil {
				return err
			}
			r, err := renderer(app, cmd)
			if err != nil {
				return err
			}
			if r.Structured() {
				return r.Render(detail, nil, nil)
			}

			out := cmd.OutOrStdout()
			if detail.MergedFrom != "" {
				fmt.Fprintf(out, "%s %s was merged into %s\n", yellow("note:"), detail.MergedFrom, detail.ID)
			}
			t := detail.Team
			fmt.Fprintf(out, "ID:         %s\n", t.ID)
			fmt.Fprintf(out, "Name:       %s\n", t.DisplayName)
			fmt.Fprintf(out, "Canonical:  %s\n", t.CanonicalName)
			fmt.Fprintf(out, "State:      %s\n", detail.State)
			fmt.Fprintf(out, "Birth year: %s\n", intOrDash(t.BirthYear))
			fmt.Fprintf(out, "Gender:     %s\n", strOrDash(t.Gender))
			fmt.Fprintf(out, "Region:     %s\n", strOrDash(t.Region))
			fmt.Fprintf(out, "Record:     %d played, %d-%d-%d\n", t.MatchesPlayed, t.Wins, t.Losses, t.Draws)
			if len(t.Aliases) > 0 {
				fmt.Fprintf(out, "Aliases:    %s\n", strings.Join(t.Aliases, ", "))
			}
			for _, m := range detail.Mappings {
				fmt.Fprintf(out, "Source:     %s:%s\n", m.SourceID, m.SourceEntityID)
			}
			return nil
		}),
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func newTeamListCmd() *cobra.Command {
	var (
		limit int
		after string
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List teams in creation order",
		Args:  cobra.NoArgs,
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			page, err := listTeams(cmd.Context(), app.Store, app.DB, after, limit)
			if err != nil {
				return exitError(ExitUsage, err)
			}
			r, err := renderer(app, cmd)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(page.Teams))
			for _, t := range page.Teams {
				rows = append(rows, []string{
					id.Short(t.ID), t.DisplayName, intOrDash(t.BirthYear), strOrDash(t.Gender), strOrDash(t.Region),
					strconv.Itoa(t.MatchesPlayed),
				})
			}
			if err := r.Render(page, []string{"ID", "NAME", "BORN", "GENDER", "REGION", "PLAYED"}, rows); err != nil {
				return err
			}
			if !r.Structured() && page.NextCursor != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "next: --cursor %s\n", page.NextCursor)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	cmd.Flags().StringVar(&after, "cursor", "", "Resume after a previous page")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

// TeamPage is one page of the team listing.
type TeamPage struct {
	Teams      []*domain.Team `json:"teams"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

const maxPageSize = 500

// listTeams returns one keyset page of teams. NextCursor is empty on the
// last page.
func listTeams(ctx context.Context, s *store.Store, ex db.Executor, encoded string, limit int) (*TeamPage, error) {
	if limit <= 0 || limit > maxPageSize {
		return nil, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
	}
	c, err := cursor.Decode(encoded, cursor.ListingTeams)
	if err != nil {
		return nil, err
	}
	key, last := c.After()

	teams, err := s.Teams.Page(ctx, ex, key, last, limit+1)
	if err != nil {
		return nil, err
	}
	page := &TeamPage{Teams: teams}
	if page.Teams == nil {
		page.Teams = []*domain.Team{}
	}
	if len(teams) > limit {
		page.Teams = teams[:limit]
		tail := page.Teams[limit-1]
		next, err := cursor.New(cursor.ListingTeams, db.FormatTime(tail.CreatedAt), tail.ID)
		if err != nil {
			return nil, err
		}
		if page.NextCursor, err = next.Encode(); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func strOrDash(v *string) string {
	if v == nil {
		return "-"
	}
	return dash(*v)
}
