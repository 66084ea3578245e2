package handoff

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"finzcore/internal/audit"
	"finzcore/internal/kv/memory"
	"finzcore/pkg/domain"
)

func rawPayload() map[string]any {
	return map[string]any{
		"baseline_id":  "b1",
		"project_name": "Plataforma Pagos",
		"client_name":  "Acme",
		"currency":     "MXN",
		"labor_estimates": []any{
			map[string]any{
				"role":               "Ingeniero",
				"hours_per_month":    float64(160),
				"fte_count":          float64(2),
				"hourly_rate":        float64(50),
				"on_cost_percentage": float64(20),
				"start_month":        float64(1),
				"end_month":          float64(3),
			},
		},
	}
}

func newTestService(store *memory.Store, opts ...Option) *Service {
	n := 0
	base := []Option{
		WithLogger(discardLogger()),
		WithClock(fixedClock()),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	}
	return NewService(store, append(base, opts...)...)
}

func TestService_HandoffCreatesAndReplays(t *testing.T) {
	store := memory.NewStore()
	sink := audit.NewMemory()
	s := newTestService(store, WithAudit(sink))
	ctx := context.Background()

	req := HandoffRequest{BaselineID: "b1", Token: "tok1", Owner: "maria", Payload: rawPayload()}
	result, err := s.Handoff(ctx, req)
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if result.Outcome != domain.OutcomeCreated {
		t.Fatalf("outcome: %q", result.Outcome)
	}
	if result.ProjectID == "" || result.HandoffID == "" {
		t.Fatalf("result ids: %+v", result)
	}
	if result.Materialization.Seeded != 1 {
		t.Fatalf("materialization: %+v", result.Materialization)
	}

	project, err := s.GetProject(ctx, result.ProjectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if project.BaselineID != "b1" || project.Name != "Plataforma Pagos" || project.Status != domain.StatusHandoff {
		t.Fatalf("project: %+v", project)
	}

	rubros, err := s.ListRubros(ctx, result.ProjectID)
	if err != nil {
		t.Fatalf("list rubros: %v", err)
	}
	if len(rubros) != 1 || rubros[0].MonthlyCost != 19200 || rubros[0].TotalCost != 57600 {
		t.Fatalf("rubros: %+v", rubros)
	}

	// retry with the same token and payload replays without touching storage
	replay, err := s.Handoff(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Outcome != domain.OutcomeReplayed {
		t.Fatalf("replay outcome: %q", replay.Outcome)
	}
	if replay.ProjectID != result.ProjectID || replay.HandoffID != result.HandoffID {
		t.Fatalf("replay identity drifted: %+v vs %+v", replay, result)
	}

	entries := sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries: %d (replay must not emit)", len(entries))
	}
	if entries[0].Action != "handoff.minted" || entries[0].Actor != "maria" {
		t.Fatalf("audit entry: %+v", entries[0])
	}
}

func TestService_TokenPayloadConflict(t *testing.T) {
	s := newTestService(memory.NewStore())
	ctx := context.Background()

	if _, err := s.Handoff(ctx, HandoffRequest{BaselineID: "b1", Token: "tok1", Payload: rawPayload()}); err != nil {
		t.Fatalf("handoff: %v", err)
	}

	changed := rawPayload()
	changed["client_name"] = "Other"
	_, err := s.Handoff(ctx, HandoffRequest{BaselineID: "b1", Token: "tok1", Payload: changed})
	var conflict domain.IdempotencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected IdempotencyConflictError, got %v", err)
	}
}

func TestService_RedirectToExistingBinding(t *testing.T) {
	s := newTestService(memory.NewStore())
	ctx := context.Background()

	first, err := s.Handoff(ctx, HandoffRequest{BaselineID: "b1", Token: "tok1", Payload: rawPayload()})
	if err != nil {
		t.Fatalf("first handoff: %v", err)
	}

	// a different caller hands off the same baseline with a fresh token and no
	// hint: it must land on the same project, not mint a second one
	second, err := s.Handoff(ctx, HandoffRequest{BaselineID: "b1", Token: "tok2", Payload: rawPayload()})
	if err != nil {
		t.Fatalf("second handoff: %v", err)
	}
	if second.ProjectID != first.ProjectID {
		t.Fatalf("redirect failed: %q vs %q", second.ProjectID, first.ProjectID)
	}
	if second.Outcome != domain.OutcomeCreated {
		t.Fatalf("outcome: %q", second.Outcome)
	}
	if !second.Materialization.Skipped || second.Materialization.Reason != domain.SkipAlreadySeeded {
		t.Fatalf("materialization must skip: %+v", second.Materialization)
	}
}

func TestService_StaleHintNeverRebinds(t *testing.T) {
	s := newTestService(memory.NewStore())
	ctx := context.Background()

	first, err := s.Handoff(ctx, HandoffRequest{BaselineID: "b1", Token: "tok1", Payload: rawPayload()})
	if err != nil {
		t.Fatalf("first handoff: %v", err)
	}

	// hinting the b1 project while handing off b2 must leave the original
	// binding untouched and route b2 elsewhere
	payload := rawPayload()
	payload["baseline_id"] = "b2"
	second, err := s.Handoff(ctx, HandoffRequest{
		ProjectID:  first.ProjectID,
		BaselineID: "b2",
		Token:      "tok2",
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("second handoff: %v", err)
	}
	if second.ProjectID == first.ProjectID {
		t.Fatalf("hint was rebound to a different baseline")
	}

	project, err := s.GetProject(ctx, first.ProjectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if project.BaselineID != "b1" {
		t.Fatalf("original binding changed: %q", project.BaselineID)
	}
}

func TestService_Validation(t *testing.T) {
	s := newTestService(memory.NewStore())
	ctx := context.Background()

	cases := []struct {
		name string
		req  HandoffRequest
	}{
		{"missing baseline", HandoffRequest{Token: "tok", Payload: rawPayload()}},
		{"missing token", HandoffRequest{BaselineID: "b1", Payload: rawPayload()}},
		{"missing payload", HandoffRequest{BaselineID: "b1", Token: "tok"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Handoff(ctx, tc.req)
			var validation domain.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestService_EmptyBaselineHandsOff(t *testing.T) {
	s := newTestService(memory.NewStore())

	result, err := s.Handoff(context.Background(), HandoffRequest{
		BaselineID: "b1",
		Token:      "tok1",
		Payload:    map[string]any{"baseline_id": "b1", "project_name": "Empty"},
	})
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	if result.Outcome != domain.OutcomeCreated {
		t.Fatalf("outcome: %q", result.Outcome)
	}
	if !result.Materialization.Skipped || result.Materialization.Reason != domain.SkipNoEstimates {
		t.Fatalf("materialization: %+v", result.Materialization)
	}
}

func TestService_AcceptBaseline(t *testing.T) {
	s := newTestService(memory.NewStore())
	ctx := context.Background()

	result, err := s.Handoff(ctx, HandoffRequest{BaselineID: "b1", Token: "tok1", Payload: rawPayload()})
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}

	project, err := s.AcceptBaseline(ctx, result.ProjectID, "b1", "jose")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if project.Status != domain.StatusActive || project.AcceptedBy != "jose" || project.AcceptedAt == nil {
		t.Fatalf("project after accept: %+v", project)
	}

	// acceptance survives a same-baseline handoff retry
	if _, err := s.Handoff(ctx, HandoffRequest{BaselineID: "b1", Token: "tok2", Payload: rawPayload()}); err != nil {
		t.Fatalf("retry handoff: %v", err)
	}
	project, err = s.GetProject(ctx, result.ProjectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if project.Status != domain.StatusActive || project.AcceptedBy != "jose" {
		t.Fatalf("acceptance lost on retry: %+v", project)
	}

	// accepting the wrong baseline is a collision
	_, err = s.AcceptBaseline(ctx, result.ProjectID, "b9", "jose")
	var collision domain.BaselineCollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("expected BaselineCollisionError, got %v", err)
	}

	_, err = s.AcceptBaseline(ctx, "missing", "b1", "jose")
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestService_ReviseHandoff(t *testing.T) {
	s := newTestService(memory.NewStore())
	ctx := context.Background()

	result, err := s.Handoff(ctx, HandoffRequest{BaselineID: "b1", Token: "tok1", Owner: "maria", Payload: rawPayload()})
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}

	revised, err := s.ReviseHandoff(ctx, result.ProjectID, "b1", 1, "jose", map[string]any{"note": "kickoff moved"})
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if revised.Version != 2 || revised.Owner != "jose" {
		t.Fatalf("revised: %+v", revised)
	}
	if revised.ID != result.HandoffID {
		t.Fatalf("handoff identity changed: %q vs %q", revised.ID, result.HandoffID)
	}

	// a stale expected version is rejected
	_, err = s.ReviseHandoff(ctx, result.ProjectID, "b1", 1, "", nil)
	var stale domain.VersionConflictError
	if !errors.As(err, &stale) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}

	_, err = s.ReviseHandoff(ctx, result.ProjectID, "b9", 1, "", nil)
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestService_GetProjectNotFound(t *testing.T) {
	s := newTestService(memory.NewStore())
	_, err := s.GetProject(context.Background(), "missing")
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
