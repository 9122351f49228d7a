package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrIdentityConflict marks two records whose known identity fields disagree.
	ErrIdentityConflict = errors.New("identity conflict")

	// ErrNonConvergent marks secondary-collision resolution exceeding its pass bound.
	ErrNonConvergent = errors.New("secondary collisions did not converge")

	// ErrAuthorizationDenied marks a write attempted without holding the write gate.
	ErrAuthorizationDenied = errors.New("write authorization denied")

	// ErrSourceMapIntegrity marks a source mapping whose target team is missing.
	ErrSourceMapIntegrity = errors.New("source map integrity failure")

	ErrNotFound           = errors.New("not found")
	ErrInvalidObservation = errors.New("invalid observation")
)

// IdentityConflictError carries the pair and the disagreeing field.
type IdentityConflictError struct {
	KeepID     string
	MergeID    string
	Field      string
	KeepValue  string
	MergeValue string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict merging %s into %s: %s %q != %q",
		e.MergeID, e.KeepID, e.Field, e.KeepValue, e.MergeValue)
}

func (e *IdentityConflictError) Is(target error) bool {
	return target == ErrIdentityConflict
}

// NonConvergentError reports the passes spent and the collision groups still open.
type NonConvergentError struct {
	Passes    int
	Remaining []string
}

func (e *NonConvergentError) Error() string {
	return fmt.Sprintf("secondary collisions remain after %d pass(es): %s", e.Passes, strings.Join(e.Remaining, "; "))
}

func (e *NonConvergentError) Is(target error) bool {
	return target == ErrNonConvergent
}

// AuthorizationDeniedError names the current holder of the gate, if any.
type AuthorizationDeniedError struct {
	Gate      string
	Holder    string
	ExpiresAt time.Time
	Reason    string
}

func (e *AuthorizationDeniedError) Error() string {
	msg := fmt.Sprintf("write authorization denied for %q", e.Gate)
	if e.Holder != "" {
		msg += fmt.Sprintf(": held by %s until %s", e.Holder, e.ExpiresAt.Format(time.RFC3339))
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AuthorizationDeniedError) Is(target error) bool {
	return target == ErrAuthorizationDenied
}

// SourceMapIntegrityError is fatal: a mapping points at a team that does not exist.
type SourceMapIntegrityError struct {
	SourceID       string
	SourceEntityID string
	TeamID         string
}

func (e *SourceMapIntegrityError) Error() string {
	return fmt.Sprintf("source mapping %s/%s points to missing team %s", e.SourceID, e.SourceEntityID, e.TeamID)
}

func (e *SourceMapIntegrityError) Is(target error) bool {
	return target == ErrSourceMapIntegrity
}

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError represents a rejected observation field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
	}
	return "invalid observation: " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidObservation
}

// BatchError wraps a failed merge chunk with the context needed to diagnose it.
type BatchError struct {
	BatchID string
	Chunk   int
	Pairs   []Pair
	Rule    string
	Err     error
}

func (e *BatchError) Error() string {
	ids := make([]string, 0, len(e.Pairs))
	for _, p := range e.Pairs {
		ids = append(ids, p.MergeID+"->"+p.KeepID)
	}
	if len(ids) > 5 {
		ids = append(ids[:5], fmt.Sprintf("(+%d more)", len(e.Pairs)-5))
	}
	return fmt.Sprintf("batch %s chunk %d failed at %s [%s]: %v", e.BatchID, e.Chunk, e.Rule, strings.Join(ids, ", "), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ConstraintRestoreError means a relaxed constraint could not be rebuilt
// because duplicates remained.
type ConstraintRestoreError struct {
	Constraint string
	Err        error
}

func (e *ConstraintRestoreError) Error() string {
	return fmt.Sprintf("failed to restore constraint %s: %v", e.Constraint, e.Err)
}

func (e *ConstraintRestoreError) Unwrap() error {
	return e.Err
}
