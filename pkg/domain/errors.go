package domain

import "fmt"

// ValidationError reports a request the caller must fix before retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid request: field %s %s", e.Field, e.Reason)
}

// IdempotencyConflictError reports a token reused with a different payload or
// a different baseline. Terminal: the caller must supply a new token.
type IdempotencyConflictError struct {
	Token               string
	ExistingBaselineID  string
	AttemptedBaselineID string
	Reason              string
}

func (e IdempotencyConflictError) Error() string {
	return fmt.Sprintf("idempotency conflict on token %s: %s", e.Token, e.Reason)
}

// BaselineCollisionError reports an attempt to bind a project to a baseline
// different from the one it already holds. Terminal for this project ID; the
// caller may retry without a project hint and be routed to a different
// identity.
type BaselineCollisionError struct {
	ProjectID           string
	ExistingBaselineID  string
	AttemptedBaselineID string
}

func (e BaselineCollisionError) Error() string {
	return fmt.Sprintf("project %s is bound to baseline %s, not %s",
		e.ProjectID, e.ExistingBaselineID, e.AttemptedBaselineID)
}

// VersionConflictError reports a handoff revision whose expected version no
// longer matches the stored record.
type VersionConflictError struct {
	HandoffID       string
	ExpectedVersion int
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("handoff %s changed since version %d was read", e.HandoffID, e.ExpectedVersion)
}

// NotFoundError reports a missing record on a read path.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// TransientStoreError wraps an underlying store failure. The whole operation
// is safe to retry: the atomic write either fully applied or did not apply.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e TransientStoreError) Error() string {
	return fmt.Sprintf("store failure during %s: %v", e.Op, e.Err)
}

func (e TransientStoreError) Unwrap() error { return e.Err }
