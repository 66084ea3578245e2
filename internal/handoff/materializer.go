package handoff

import (
	"context"
	"log/slog"
	"time"

	"finzcore/internal/kv"
	"finzcore/internal/taxonomy"
	"finzcore/pkg/domain"
)

// Materializer persists the expanded line items for a (project, baseline)
// pair exactly once. Idempotency comes from two layers: a marker check that
// skips the whole batch when any existing rubro under the project carries
// this baseline, and deterministic rubro IDs that make a redundant re-write
// an overwrite of identical rows rather than a duplicate insert.
type Materializer struct {
	store         kv.Store
	projectsTable string
	lookup        taxonomy.Lookup
	logger        *slog.Logger
	now           func() time.Time
}

func newMaterializer(store kv.Store, projectsTable string, lookup taxonomy.Lookup, logger *slog.Logger, now func() time.Time) *Materializer {
	return &Materializer{store: store, projectsTable: projectsTable, lookup: lookup, logger: logger, now: now}
}

// Seed expands the baseline and writes each rubro independently. Per-item
// failures are collected, never fatal: the handoff's success criterion is the
// durable project/handoff link, not every derived row.
func (m *Materializer) Seed(ctx context.Context, projectID string, baseline domain.Baseline) (domain.MaterializationResult, error) {
	var result domain.MaterializationResult

	existing, err := m.store.Query(ctx, kv.QueryRequest{
		Table:    m.projectsTable,
		PK:       pkProjectPrefix + projectID,
		SKPrefix: skRubroPrefix,
	})
	if err != nil {
		// Unknown seeding state. Proceed: IDs are deterministic, so the worst
		// case is rewriting identical rows.
		m.logger.Warn("rubro marker check failed, seeding anyway",
			"project_id", projectID, "baseline_id", baseline.ID, "error", err)
	} else {
		for _, item := range existing {
			if item.String("baseline_id") == baseline.ID {
				result.Skipped = true
				result.Reason = domain.SkipAlreadySeeded
				return result, nil
			}
		}
	}

	if baseline.Empty() {
		result.Skipped = true
		result.Reason = domain.SkipNoEstimates
		return result, nil
	}

	for _, rubro := range Expand(baseline, m.lookup, projectID, m.now()) {
		item, err := toItem(rubro, rubroKey(projectID, rubro.ID))
		if err != nil {
			result.Errors = append(result.Errors, rubro.ID+": "+err.Error())
			continue
		}
		if err := m.store.Put(ctx, kv.Put{Table: m.projectsTable, Item: item}); err != nil {
			m.logger.Warn("rubro write failed",
				"project_id", projectID, "rubro_id", rubro.ID, "error", err)
			result.Errors = append(result.Errors, rubro.ID+": "+err.Error())
			continue
		}
		result.Seeded++
	}
	return result, nil
}
