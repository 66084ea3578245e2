package domain

// HandoffOutcome classifies how a handoff request terminated successfully.
// Conflicts are errors, not outcomes; see errors.go.
type HandoffOutcome string

const (
	// OutcomeCreated means this invocation performed the handoff.
	OutcomeCreated HandoffOutcome = "created"
	// OutcomeReplayed means the idempotency ledger supplied a cached result.
	OutcomeReplayed HandoffOutcome = "replayed"
)

// MaterializationResult reports what seeding rubros for a (project, baseline)
// pair did. Skipped with a reason is a normal, non-error state.
type MaterializationResult struct {
	Seeded  int      `json:"seeded"`
	Skipped bool     `json:"skipped"`
	Reason  string   `json:"reason,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Skip reasons reported by the materializer.
const (
	SkipAlreadySeeded = "already_seeded"
	SkipNoEstimates   = "no_estimates"
)

// HandoffResult is the terminal value of a successful handoff invocation. It
// is also what the idempotency ledger caches and replays.
type HandoffResult struct {
	HandoffID       string                `json:"handoff_id"`
	ProjectID       string                `json:"project_id"`
	BaselineID      string                `json:"baseline_id"`
	Outcome         HandoffOutcome        `json:"outcome"`
	Materialization MaterializationResult `json:"materialization"`
}
