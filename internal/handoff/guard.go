package handoff

import (
	"context"
	"errors"
	"time"

	"finzcore/internal/kv"
	"finzcore/pkg/domain"
)

// Guard performs the collision-guarded atomic bind of a handoff to a
// project. A fail-fast read rejects obvious collisions before any write; the
// authoritative protection is the condition on the metadata put inside a
// single multi-item transaction: succeed only if the metadata record is
// absent, carries no baseline binding, or is already bound to this exact
// baseline. A late race lost at write time surfaces as a collision, never as
// a generic error, and the combined write either fully applies or not at all.
type Guard struct {
	store         kv.Store
	projectsTable string
	now           func() time.Time
}

func newGuard(store kv.Store, projectsTable string, now func() time.Time) *Guard {
	return &Guard{store: store, projectsTable: projectsTable, now: now}
}

// Binding is the durably written pair.
type Binding struct {
	Project domain.Project
	Handoff domain.Handoff
}

// Bind atomically writes the project metadata and the handoff record.
func (g *Guard) Bind(ctx context.Context, project domain.Project, handoff domain.Handoff) (Binding, error) {
	now := g.now()

	// Fail fast on a visible collision. Best effort only; the transaction
	// condition below is what actually holds under races.
	existingItem, exists, err := g.store.Get(ctx, g.projectsTable, projectKey(project.ID))
	if err != nil {
		return Binding{}, domain.TransientStoreError{Op: "read project metadata", Err: err}
	}
	if exists {
		existing, err := fromItem[domain.Project](existingItem)
		if err != nil {
			return Binding{}, domain.TransientStoreError{Op: "read project metadata", Err: err}
		}
		if existing.BaselineID != "" && existing.BaselineID != project.BaselineID {
			return Binding{}, domain.BaselineCollisionError{
				ProjectID:           project.ID,
				ExistingBaselineID:  existing.BaselineID,
				AttemptedBaselineID: project.BaselineID,
			}
		}
		// Re-evaluation of the same baseline: keep identity and acceptance
		// state, refresh descriptive fields.
		project.CreatedAt = existing.CreatedAt
		project.AcceptedBy = existing.AcceptedBy
		project.AcceptedAt = existing.AcceptedAt
		if existing.Status != "" {
			project.Status = existing.Status
		}
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	if project.Status == "" {
		project.Status = domain.StatusHandoff
	}
	project.UpdatedAt = now

	// A retried handoff for the same baseline revises the existing record in
	// place rather than appending a second one.
	prevItem, prevExists, err := g.store.Get(ctx, g.projectsTable, handoffKey(project.ID, handoff.BaselineID))
	if err != nil {
		return Binding{}, domain.TransientStoreError{Op: "read handoff record", Err: err}
	}
	if prevExists {
		prev, err := fromItem[domain.Handoff](prevItem)
		if err != nil {
			return Binding{}, domain.TransientStoreError{Op: "read handoff record", Err: err}
		}
		handoff.ID = prev.ID
		handoff.CreatedAt = prev.CreatedAt
		handoff.Version = prev.Version + 1
	} else {
		handoff.CreatedAt = now
		handoff.Version = 1
	}
	handoff.ProjectID = project.ID
	handoff.UpdatedAt = now

	projectItem, err := toItem(project, projectKey(project.ID))
	if err != nil {
		return Binding{}, domain.TransientStoreError{Op: "encode project metadata", Err: err}
	}
	handoffItem, err := toItem(handoff, handoffKey(project.ID, handoff.BaselineID))
	if err != nil {
		return Binding{}, domain.TransientStoreError{Op: "encode handoff record", Err: err}
	}

	err = g.store.TransactWrite(ctx,
		kv.Put{
			Table: g.projectsTable,
			Item:  projectItem,
			Condition: &kv.Condition{
				Absent:       true,
				FieldMissing: "baseline_id",
				FieldEquals:  map[string]any{"baseline_id": project.BaselineID},
			},
		},
		kv.Put{Table: g.projectsTable, Item: handoffItem},
	)
	if errors.Is(err, kv.ErrConditionFailed) {
		return Binding{}, g.collision(ctx, project.ID, project.BaselineID)
	}
	if err != nil {
		return Binding{}, domain.TransientStoreError{Op: "bind handoff", Err: err}
	}

	return Binding{Project: project, Handoff: handoff}, nil
}

// collision re-reads the committed metadata so the error names the baseline
// that won the race.
func (g *Guard) collision(ctx context.Context, projectID, attempted string) error {
	collision := domain.BaselineCollisionError{
		ProjectID:           projectID,
		AttemptedBaselineID: attempted,
	}
	if item, ok, err := g.store.Get(ctx, g.projectsTable, projectKey(projectID)); err == nil && ok {
		collision.ExistingBaselineID = item.String("baseline_id")
	}
	return collision
}
