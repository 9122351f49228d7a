// Package doctor checks that the registry satisfies its integrity
// invariants: no dangling references, no duplicate live matches or
// identities, an append-only audit trail consistent with the team table.
package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/detect"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/merge"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
)

const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

// maxDetails caps the examples listed per check.
const maxDetails = 10

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

// Report collects every check.
type Report struct {
	Database      string        `json:"database"`
	Checks        []CheckResult `json:"checks"`
	Warnings      int           `json:"warnings"`
	Errors        int           `json:"errors"`
	OverallStatus string        `json:"overall_status"`
}

type check func(ctx context.Context, s *store.Store, ex db.Executor, now time.Time) (CheckResult, error)

var checks = []check{
	checkMigrations,
	checkConstraints,
	checkOrphanedMatches,
	checkSourceMap,
	checkLiveDuplicates,
	checkDegenerate,
	checkIdentityCollisions,
	checkResidualDuplicates,
	checkAuditUniqueness,
	checkMergedTeamsGone,
	checkLease,
}

// Run executes every check read-only against s.
func Run(ctx context.Context, s *store.Store, now time.Time) (*Report, error) {
	report := &Report{Database: s.DB().Path(), Checks: []CheckResult{}, OverallStatus: StatusOK}
	for i, c := range checks {
		res, err := c(ctx, s, s.DB(), now)
		if err != nil {
			return nil, err
		}
		report.Checks = append(report.Checks, res)
		switch res.Status {
		case StatusWarning:
			report.Warnings++
		case StatusError:
			report.Errors++
		}
		// The remaining checks need the current schema.
		if i == 0 && res.Status == StatusError {
			break
		}
	}
	if report.Errors > 0 {
		report.OverallStatus = StatusError
	} else if report.Warnings > 0 {
		report.OverallStatus = StatusWarning
	}
	return report, nil
}

func result(name string, problems []string, bad string, message string) CheckResult {
	if len(problems) == 0 {
		return CheckResult{Name: name, Status: StatusOK, Message: message}
	}
	details := problems
	if len(details) > maxDetails {
		details = append(details[:maxDetails:maxDetails], fmt.Sprintf("... and %d more", len(problems)-maxDetails))
	}
	return CheckResult{Name: name, Status: bad, Message: fmt.Sprintf("%d found", len(problems)), Details: details}
}

func checkMigrations(ctx context.Context, s *store.Store, _ db.Executor, _ time.Time) (CheckResult, error) {
	_, pending, err := s.DB().MigrationStatus(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if len(pending) > 0 {
		return CheckResult{Name: "migrations", Status: StatusError,
			Message: fmt.Sprintf("%d pending migration(s); run 'teamq migrate'", len(pending)), Details: pending}, nil
	}
	return CheckResult{Name: "migrations", Status: StatusOK, Message: "schema up to date"}, nil
}

func checkConstraints(ctx context.Context, _ *store.Store, ex db.Executor, _ time.Time) (CheckResult, error) {
	var missing []string
	for _, c := range merge.Teams.Constraints() {
		ok, err := db.IndexExists(ctx, ex, c.Name)
		if err != nil {
			return CheckResult{}, err
		}
		if !ok {
			missing = append(missing, c.Name)
		}
	}
	return result("unique_constraints", missing, StatusError, "all unique constraints in place"), nil
}

func checkOrphanedMatches(ctx context.Context, s *store.Store, ex db.Executor, _ time.Time) (CheckResult, error) {
	matches, err := s.Matches.Orphaned(ctx, ex)
	if err != nil {
		return CheckResult{}, err
	}
	var problems []string
	for _, m := range matches {
		problems = append(problems, fmt.Sprintf("match %s references %s vs %s", m.ID, id.Short(m.HomeTeamID), id.Short(m.AwayTeamID)))
	}
	return result("referential_integrity", problems, StatusError, "every match references live teams"), nil
}

func checkSourceMap(ctx context.Context, s *store.Store, ex db.Executor, _ time.Time) (CheckResult, error) {
	mappings, err := s.Mappings.Dangling(ctx, ex)
	if err != nil {
		return CheckResult{}, err
	}
	var problems []string
	for _, m := range mappings {
		problems = append(problems, fmt.Sprintf("%s:%s -> %s", m.SourceID, m.SourceEntityID, m.TeamID))
	}
	return result("source_map_integrity", problems, StatusError, "every source mapping resolves"), nil
}

func checkLiveDuplicates(ctx context.Context, s *store.Store, ex db.Executor, _ time.Time) (CheckResult, error) {
	groups, err := s.Matches.LiveDuplicateGroups(ctx, ex, nil)
	if err != nil {
		return CheckResult{}, err
	}
	var problems []string
	for _, g := range groups {
		problems = append(problems, fmt.Sprintf("%d live matches on %s %s vs %s", len(g), g[0].Date, id.Short(g[0].HomeTeamID), id.Short(g[0].AwayTeamID)))
	}
	return result("duplicate_matches", problems, StatusError, "at most one live match per date and pairing"), nil
}

func checkDegenerate(ctx context.Context, s *store.Store, ex db.Executor, _ time.Time) (CheckResult, error) {
	matches, err := s.Matches.LiveDegenerate(ctx, ex, nil)
	if err != nil {
		return CheckResult{}, err
	}
	var problems []string
	for _, m := range matches {
		problems = append(problems, fmt.Sprintf("match %s on %s: %s plays itself", m.ID, m.Date, id.Short(m.HomeTeamID)))
	}
	return result("degenerate_matches", problems, StatusError, "no live match has the same team on both sides"), nil
}

func checkIdentityCollisions(ctx context.Context, s *store.Store, ex db.Executor, _ time.Time) (CheckResult, error) {
	groups, err := s.Teams.IdentityCollisions(ctx, ex, nil)
	if err != nil {
		return CheckResult{}, err
	}
	var problems []string
	for _, g := range groups {
		key, _ := store.IdentityKey(g[0])
		problems = append(problems, fmt.Sprintf("%d teams share %s", len(g), key))
	}
	return result("identity_collisions", problems, StatusError, "fully specified identities are unique"), nil
}

func checkResidualDuplicates(ctx context.Context, s *store.Store, ex db.Executor, _ time.Time) (CheckResult, error) {
	res, err := detect.Scan(ctx, s, ex)
	if err != nil {
		return CheckResult{}, err
	}
	var problems []string
	for _, g := range res.Groups {
		problems = append(problems, fmt.Sprintf("keep %s absorbs %d team(s)", id.Short(g.KeepID), len(g.MergeIDs)))
	}
	return result("residual_duplicates", problems, StatusWarning, "no mergeable duplicate teams"), nil
}

func checkAuditUniqueness(ctx context.Context, _ *store.Store, ex db.Executor, _ time.Time) (CheckResult, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT record_id, COUNT(*) FROM audit_log
		WHERE table_name = 'teams' AND action = ?
		GROUP BY record_id HAVING COUNT(*) > 1
		ORDER BY record_id
	`, string(domain.AuditActionMerge))
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to check audit uniqueness: %w", err)
	}
	defer rows.Close()
	var problems []string
	for rows.Next() {
		var recordID string
		var n int
		if err := rows.Scan(&recordID, &n); err != nil {
			return CheckResult{}, err
		}
		problems = append(problems, fmt.Sprintf("team %s has %d merge records", recordID, n))
	}
	if err := rows.Err(); err != nil {
		return CheckResult{}, err
	}
	return result("audit_uniqueness", problems, StatusError, "each merged team has one merge record"), nil
}

func checkMergedTeamsGone(ctx context.Context, _ *store.Store, ex db.Executor, _ time.Time) (CheckResult, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT a.record_id FROM audit_log a
		WHERE a.table_name = 'teams' AND a.action = ?
			AND EXISTS (SELECT 1 FROM teams t WHERE t.id = a.record_id)
		ORDER BY a.record_id
	`, string(domain.AuditActionMerge))
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to check merged ids: %w", err)
	}
	defer rows.Close()
	var problems []string
	for rows.Next() {
		var recordID string
		if err := rows.Scan(&recordID); err != nil {
			return CheckResult{}, err
		}
		problems = append(problems, fmt.Sprintf("team %s was merged but still exists", recordID))
	}
	if err := rows.Err(); err != nil {
		return CheckResult{}, err
	}
	return result("merged_ids", problems, StatusError, "no merged team id is still live"), nil
}

func checkLease(ctx context.Context, s *store.Store, _ db.Executor, now time.Time) (CheckResult, error) {
	gate := lease.NewManager(s.DB(), 0, nil)
	l, ok, err := gate.Status(ctx, lease.RegistryGate)
	if err != nil {
		return CheckResult{}, err
	}
	switch {
	case !ok:
		return CheckResult{Name: "write_lease", Status: StatusOK, Message: "registry gate is free"}, nil
	case l.Expired(now):
		return CheckResult{Name: "write_lease", Status: StatusWarning,
			Message: fmt.Sprintf("stale lease held by %s expired at %s", l.Holder, l.ExpiresAt.Format(time.RFC3339)),
			Details: []string{"the next writer will take it over; 'teamq lease release --force' clears it"}}, nil
	}
	return CheckResult{Name: "write_lease", Status: StatusOK,
		Message: fmt.Sprintf("held by %s until %s", l.Holder, l.ExpiresAt.Format(time.RFC3339))}, nil
}
