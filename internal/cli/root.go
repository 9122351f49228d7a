// Package cli implements the teamq command tree.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
)

// NewRootCmd builds the teamq command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "teamq",
		Short: "Canonical team registry and duplicate merge engine",
		Long: `teamq keeps one canonical record per real-world youth soccer team.
It resolves team and match observations from scraped sources, detects
duplicate canonical teams and merges them in audited, chunked batches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("db", "", "Path to SQLite database file (overrides TEAMQ_DB_PATH)")
	root.PersistentFlags().String("actor", "", "Actor recorded on audit entries (overrides TEAMQ_ACTOR)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringP("output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().Bool("porcelain", false, "Stable machine-readable output")

	root.AddCommand(
		newMigrateCmd(),
		newIngestCmd(),
		newDetectCmd(),
		newMergeCmd(),
		newDedupMatchesCmd(),
		newDoctorCmd(),
		newAuditCmd(),
		newTeamCmd(),
		newLeaseCmd(),
		newExportCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitCode(err)
}

// ExitError carries a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// Exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitNotFound = 3
	ExitLocked   = 4
	ExitPartial  = 5
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	switch {
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return ExitLocked
	case errors.Is(err, domain.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, domain.ErrInvalidObservation):
		return ExitUsage
	}
	return ExitFailure
}
