// Package bulk runs a function over a list of items in order, collecting
// per-item failures. Items run one at a time: callers mutate the registry
// under a single write lease.
package bulk

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Operation configures a bulk run.
type Operation struct {
	ContinueOnError bool
	ShowProgress    bool
	// Progress receives the progress line; defaults to stderr.
	Progress io.Writer
}

// Result represents the result of a bulk operation
type Result struct {
	TotalItems int         `json:"total"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Skipped    int         `json:"skipped"`
	Errors     []ItemError `json:"errors,omitempty"`
}

// ItemError represents an error for a specific item
type ItemError struct {
	Item    string `json:"item"`
	Message string `json:"error"`
	Error   error  `json:"-"`
}

// Run applies fn to every item in order. label names an item in errors
// and progress output. Cancellation stops the run; unprocessed items are
// counted as skipped and the context error is returned.
func Run[T any](ctx context.Context, op Operation, items []T, label func(T) string, fn func(context.Context, T) error) (*Result, error) {
	result := &Result{TotalItems: len(items)}
	progress := op.ShowProgress && isatty(os.Stderr)
	out := op.Progress
	if out == nil {
		out = os.Stderr
	}
	defer func() {
		if progress {
			fmt.Fprintf(out, "\r\033[K")
		}
	}()

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			result.Skipped = len(items) - i
			return result, err
		}
		if progress {
			pct := (i + 1) * 100 / len(items)
			fmt.Fprintf(out, "\rProcessing [%s] %d/%d", progressBar(pct, 20), i+1, len(items))
		}

		if err := fn(ctx, item); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Item: label(item), Message: err.Error(), Error: err})
			if !op.ContinueOnError {
				result.Skipped = len(items) - i - 1
				return result, nil
			}
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// ExitCode returns the appropriate exit code for the result
func (r *Result) ExitCode() int {
	if r.Failed == 0 {
		return 0
	}
	if r.Succeeded > 0 {
		return 5 // partial success
	}
	return 1
}

// PrintSummary prints a human-readable summary of the result
func (r *Result) PrintSummary(w io.Writer) {
	switch {
	case r.Failed == 0 && r.Skipped == 0:
		fmt.Fprintf(w, "✓ All %d observations applied\n", r.TotalItems)
	case r.Succeeded == 0:
		fmt.Fprintf(w, "✗ No observations applied (%d failed, %d skipped)\n", r.Failed, r.Skipped)
	default:
		fmt.Fprintf(w, "⚠ Partial success: %d applied, %d failed, %d skipped (out of %d)\n",
			r.Succeeded, r.Failed, r.Skipped, r.TotalItems)
	}

	errs := r.Errors
	if len(errs) == 0 {
		return
	}
	if len(errs) > 10 {
		fmt.Fprintf(w, "\nShowing first 10 errors (of %d):\n", len(errs))
		errs = errs[:10]
	} else {
		fmt.Fprintf(w, "\nErrors:\n")
	}
	for _, e := range errs {
		fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
	}
}

// progressBar creates a simple ASCII progress bar
func progressBar(percent, width int) string {
	filled := percent * width / 100
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// isatty checks if the file descriptor is a terminal
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
