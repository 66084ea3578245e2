package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"finzcore/internal/kv/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func item(pk, sk string, extra map[string]any) core.Item {
	it := core.Item{"pk": pk, "sk": sk}
	for k, v := range extra {
		it[k] = v
	}
	return it
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, core.Put{Table: "finz_projects", Item: item("PROJECT#p1", "METADATA", map[string]any{"baseline_id": "b1", "version": float64(1)})}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, "finz_projects", core.Key{PK: "PROJECT#p1", SK: "METADATA"})
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if got.String("baseline_id") != "b1" {
		t.Fatalf("unexpected item %v", got)
	}
	// overwrite is unconditional by default
	if err := s.Put(ctx, core.Put{Table: "finz_projects", Item: item("PROJECT#p1", "METADATA", map[string]any{"baseline_id": "b1", "version": float64(2)})}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	// tables are isolated
	if _, ok, _ := s.Get(ctx, "finz_idempotency", core.Key{PK: "PROJECT#p1", SK: "METADATA"}); ok {
		t.Fatalf("item leaked across tables")
	}
}

func TestStore_ConditionalSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createOnly := &core.Condition{Absent: true}
	put := core.Put{Table: "t", Item: item("k", "METADATA", map[string]any{"baseline_id": "b1"}), Condition: createOnly}

	if err := s.Put(ctx, put); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := s.Put(ctx, put); !errors.Is(err, core.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}

	rebind := core.Put{
		Table:     "t",
		Item:      item("k", "METADATA", map[string]any{"baseline_id": "b2"}),
		Condition: &core.Condition{Absent: true, FieldMissing: "baseline_id", FieldEquals: map[string]any{"baseline_id": "b1"}},
	}
	// the equals clause matches the stored binding, so the rewrite passes
	if err := s.Put(ctx, rebind); err != nil {
		t.Fatalf("same-baseline guarded put: %v", err)
	}
	// but now the stored binding is b2 and the same condition fails
	if err := s.Put(ctx, rebind); !errors.Is(err, core.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed after rebind, got %v", err)
	}
}

func TestStore_TransactWriteAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, core.Put{Table: "t", Item: item("a", "1", nil)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := s.TransactWrite(ctx,
		core.Put{Table: "t", Item: item("b", "1", nil)},
		core.Put{Table: "t", Item: item("a", "1", nil), Condition: &core.Condition{Absent: true}},
	)
	if !errors.Is(err, core.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "t", core.Key{PK: "b", SK: "1"}); ok {
		t.Fatalf("failed transaction left a write behind")
	}

	if err := s.TransactWrite(ctx,
		core.Put{Table: "t", Item: item("PROJECT#p1", "METADATA", map[string]any{"baseline_id": "b1"}), Condition: &core.Condition{Absent: true}},
		core.Put{Table: "t", Item: item("PROJECT#p1", "HANDOFF#b1", map[string]any{"version": float64(1)})},
	); err != nil {
		t.Fatalf("transact: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "t", core.Key{PK: "PROJECT#p1", SK: "HANDOFF#b1"}); !ok {
		t.Fatalf("handoff record missing after transaction")
	}
}

func TestStore_ScanPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		it := item(fmt.Sprintf("PROJECT#p%d", i), "METADATA", nil)
		if err := s.Put(ctx, core.Put{Table: "t", Item: it}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	var total int
	var startKey *core.Key
	for pages := 0; ; pages++ {
		if pages > 10 {
			t.Fatalf("scan did not terminate")
		}
		page, err := s.Scan(ctx, core.ScanRequest{Table: "t", Limit: 3, StartKey: startKey})
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		total += len(page.Items)
		if page.LastKey == nil {
			break
		}
		startKey = page.LastKey
	}
	if total != 7 {
		t.Fatalf("scanned %d items, want 7", total)
	}
}

func TestStore_QueryPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, it := range []core.Item{
		item("PROJECT#p1", "METADATA", nil),
		item("PROJECT#p1", "RUBRO#MOD-ING#b1#000", nil),
		item("PROJECT#p1", "RUBRO#NL-SW#b1#001", nil),
		item("PROJECT#p1", "HANDOFF#b1", nil),
	} {
		if err := s.Put(ctx, core.Put{Table: "t", Item: it}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	items, err := s.Query(ctx, core.QueryRequest{Table: "t", PK: "PROJECT#p1", SKPrefix: "RUBRO#"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 rubros, got %d", len(items))
	}
}
