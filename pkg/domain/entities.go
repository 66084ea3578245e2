// Package domain defines the core persistent entities, value types, and
// error taxonomy used by finzcore.
package domain

import "time"

// ProjectStatus enumerates delivery-side project states.
type ProjectStatus string

// Canonical project statuses. A project is created in handoff state and
// becomes active once its baseline is accepted by delivery.
const (
	// StatusHandoff marks a project whose baseline was handed off but not yet accepted.
	StatusHandoff ProjectStatus = "handoff"
	// StatusActive marks a project whose baseline was accepted by delivery.
	StatusActive ProjectStatus = "active"
	StatusClosed ProjectStatus = "closed"
)

// RubroKind distinguishes labor-derived from non-labor-derived line items.
type RubroKind string

const (
	RubroLabor    RubroKind = "labor"
	RubroNonLabor RubroKind = "non_labor"
)

// Base contains common fields for durable records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LaborEstimate is one canonical labor row of a baseline.
type LaborEstimate struct {
	Role          string  `json:"role"`
	HoursPerMonth float64 `json:"hours_per_month"`
	FTECount      float64 `json:"fte_count"`
	HourlyRate    float64 `json:"hourly_rate"`
	OnCostPct     float64 `json:"on_cost_percentage"`
	StartMonth    int     `json:"start_month"`
	EndMonth      int     `json:"end_month"`
}

// NonLaborEstimate is one canonical non-labor row of a baseline.
type NonLaborEstimate struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Recurring   bool    `json:"recurring"`
	StartMonth  int     `json:"start_month"`
	EndMonth    int     `json:"end_month"`
}

// Baseline is the canonical shape of an approved estimate. Baselines are
// produced upstream by the PMO flow and are read-only here; the normalizer
// converts whatever raw payload arrives into this structure.
type Baseline struct {
	ID             string             `json:"baseline_id"`
	ProjectName    string             `json:"project_name"`
	ClientName     string             `json:"client_name"`
	Currency       string             `json:"currency"`
	DurationMonths int                `json:"duration_months"`
	Labor          []LaborEstimate    `json:"labor_estimates"`
	NonLabor       []NonLaborEstimate `json:"non_labor_estimates"`
}

// Empty reports whether the baseline carries no estimates at all. This is a
// valid state, not an error.
func (b Baseline) Empty() bool {
	return len(b.Labor) == 0 && len(b.NonLabor) == 0
}

// Project is the durable delivery-side identity a baseline is bound to.
// Once BaselineID is set it may only ever be rewritten with the same value;
// that invariant is enforced by the conditional write in the collision guard,
// never by this struct.
type Project struct {
	Base
	BaselineID string        `json:"baseline_id,omitempty"`
	Name       string        `json:"name"`
	Client     string        `json:"client"`
	Currency   string        `json:"currency"`
	Status     ProjectStatus `json:"status"`
	AcceptedBy string        `json:"accepted_by,omitempty"`
	AcceptedAt *time.Time    `json:"accepted_at,omitempty"`
}

// Handoff records the act of transferring a baseline to delivery. Its
// (ProjectID, BaselineID) origin is immutable; Fields may be revised later
// through a version-checked update.
type Handoff struct {
	Base
	ProjectID  string         `json:"project_id"`
	BaselineID string         `json:"baseline_id"`
	Owner      string         `json:"owner"`
	Version    int            `json:"version"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Rubro is a priced, dated cost line item derived from one baseline estimate.
// Its ID is deterministic over (code, baseline, ordinal) so re-expanding the
// same baseline always yields the same identifiers.
type Rubro struct {
	ID          string    `json:"rubro_id"`
	ProjectID   string    `json:"project_id"`
	BaselineID  string    `json:"baseline_id"`
	Code        string    `json:"code"`
	Kind        RubroKind `json:"kind"`
	Ordinal     int       `json:"ordinal"`
	Description string    `json:"description,omitempty"`
	MonthlyCost float64   `json:"monthly_cost"`
	TotalCost   float64   `json:"total_cost"`
	StartMonth  int       `json:"start_month"`
	EndMonth    int       `json:"end_month"`
	OneTime     bool      `json:"one_time"`
	CreatedAt   time.Time `json:"created_at"`
}

// IdempotencyRecord binds a caller-supplied token to the canonical payload
// that produced a result and the result itself. One token maps to exactly one
// payload for its whole lifetime.
type IdempotencyRecord struct {
	Token     string        `json:"token"`
	Payload   []byte        `json:"payload"`
	Result    HandoffResult `json:"result"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Expired reports whether the record is past its retention window at now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
