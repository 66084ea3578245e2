package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"finzcore/internal/kv/memory"
	"finzcore/pkg/domain"
)

func TestLedger_MissHitConflict(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(memory.NewStore(), "finz_idempotency")
	payload := []byte(`{"baseline_id":"b1"}`)
	result := domain.HandoffResult{HandoffID: "h1", ProjectID: "p1", BaselineID: "b1", Outcome: domain.OutcomeCreated}

	rec, err := ledger.Check(ctx, "tok1", payload)
	if err != nil || rec != nil {
		t.Fatalf("fresh token: rec=%v err=%v", rec, err)
	}

	if err := ledger.Record(ctx, "tok1", payload, result); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec, err = ledger.Check(ctx, "tok1", payload)
	if err != nil {
		t.Fatalf("replay check: %v", err)
	}
	if rec == nil || rec.Result.ProjectID != "p1" || rec.Result.HandoffID != "h1" {
		t.Fatalf("replay record: %+v", rec)
	}

	_, err = ledger.Check(ctx, "tok1", []byte(`{"baseline_id":"b2"}`))
	var conflict domain.IdempotencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected IdempotencyConflictError, got %v", err)
	}
	if conflict.Token != "tok1" || conflict.ExistingBaselineID != "b1" {
		t.Fatalf("conflict detail: %+v", conflict)
	}
}

func TestLedger_Expiry(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(memory.NewStore(), "finz_idempotency")
	payload := []byte(`{"baseline_id":"b1"}`)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return base }
	if err := ledger.Record(ctx, "tok1", payload, domain.HandoffResult{BaselineID: "b1"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	// just inside the window
	ledger.now = func() time.Time { return base.Add(LedgerTTL - time.Minute) }
	if rec, err := ledger.Check(ctx, "tok1", payload); err != nil || rec == nil {
		t.Fatalf("expected live record, rec=%v err=%v", rec, err)
	}

	// past the window the token behaves like a fresh one, even with a
	// different payload
	ledger.now = func() time.Time { return base.Add(LedgerTTL + time.Minute) }
	if rec, err := ledger.Check(ctx, "tok1", payload); err != nil || rec != nil {
		t.Fatalf("expected expired miss, rec=%v err=%v", rec, err)
	}
	if rec, err := ledger.Check(ctx, "tok1", []byte(`{"baseline_id":"b9"}`)); err != nil || rec != nil {
		t.Fatalf("expired token must not conflict, rec=%v err=%v", rec, err)
	}
}

func TestCanonicalPayload(t *testing.T) {
	a, err := CanonicalPayload(map[string]any{"b": 1, "a": "x"})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	b, err := CanonicalPayload(map[string]any{"a": "x", "b": 1})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("key order changed canonical form: %s vs %s", a, b)
	}
	if string(a) != `{"a":"x","b":1}` {
		t.Fatalf("canonical form: %s", a)
	}
}
