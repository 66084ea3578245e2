package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"finzcore/internal/kv/core"
)

func item(pk, sk string, extra map[string]any) core.Item {
	it := core.Item{"pk": pk, "sk": sk}
	for k, v := range extra {
		it[k] = v
	}
	return it
}

func TestStore_PutGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.Put(ctx, core.Put{Table: "t", Item: item("PROJECT#p1", "METADATA", map[string]any{"baseline_id": "b1"})}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, "t", core.Key{PK: "PROJECT#p1", SK: "METADATA"})
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if got.String("baseline_id") != "b1" {
		t.Fatalf("unexpected item %v", got)
	}
	// returned item is a copy
	got["baseline_id"] = "mutated"
	again, _, _ := s.Get(ctx, "t", core.Key{PK: "PROJECT#p1", SK: "METADATA"})
	if again.String("baseline_id") != "b1" {
		t.Fatalf("get returned shared item")
	}
	if _, ok, _ := s.Get(ctx, "t", core.Key{PK: "PROJECT#missing", SK: "METADATA"}); ok {
		t.Fatalf("expected miss")
	}
}

func TestStore_ConditionalPut(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	createOnly := &core.Condition{Absent: true}

	first := core.Put{Table: "t", Item: item("k", "METADATA", nil), Condition: createOnly}
	if err := s.Put(ctx, first); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := s.Put(ctx, first); !errors.Is(err, core.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}

	guarded := core.Put{
		Table:     "t",
		Item:      item("k", "METADATA", map[string]any{"baseline_id": "b2"}),
		Condition: &core.Condition{FieldEquals: map[string]any{"baseline_id": "b1"}},
	}
	if err := s.Put(ctx, guarded); !errors.Is(err, core.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed for mismatched equals, got %v", err)
	}
}

func TestStore_TransactWriteAtomic(t *testing.T) {
	s := NewStore()
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
	// a failed set must leave nothing behind, including the unconditional put
	if _, ok, _ := s.Get(ctx, "t", core.Key{PK: "b", SK: "1"}); ok {
		t.Fatalf("failed transaction left a write behind")
	}

	if err := s.TransactWrite(ctx,
		core.Put{Table: "t", Item: item("c", "1", nil), Condition: &core.Condition{Absent: true}},
		core.Put{Table: "t", Item: item("c", "2", nil)},
	); err != nil {
		t.Fatalf("transact: %v", err)
	}
	for _, sk := range []string{"1", "2"} {
		if _, ok, _ := s.Get(ctx, "t", core.Key{PK: "c", SK: sk}); !ok {
			t.Fatalf("missing item c/%s", sk)
		}
	}
}

func TestStore_TransactWriteRace(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	cond := &core.Condition{Absent: true, FieldMissing: "baseline_id"}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.TransactWrite(ctx, core.Put{
				Table:     "t",
				Item:      item("PROJECT#p1", "METADATA", map[string]any{"baseline_id": fmt.Sprintf("b%d", i)}),
				Condition: cond,
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else if !errors.Is(err, core.ErrConditionFailed) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestStore_ScanPagination(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		pk := fmt.Sprintf("PROJECT#p%d", i)
		if err := s.Put(ctx, core.Put{Table: "t", Item: item(pk, "METADATA", nil)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	var seen []string
	var startKey *core.Key
	pages := 0
	for {
		page, err := s.Scan(ctx, core.ScanRequest{Table: "t", Limit: 2, StartKey: startKey})
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		pages++
		for _, it := range page.Items {
			seen = append(seen, it.String("pk"))
		}
		if page.LastKey == nil {
			break
		}
		startKey = page.LastKey
	}
	if pages != 3 || len(seen) != 5 {
		t.Fatalf("pages=%d items=%d", pages, len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("scan out of order: %v", seen)
		}
	}
}

func TestStore_QueryPrefix(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	puts := []core.Item{
		item("PROJECT#p1", "METADATA", nil),
		item("PROJECT#p1", "RUBRO#MOD-ING#b1#000", nil),
		item("PROJECT#p1", "RUBRO#NL-SW#b1#001", nil),
		item("PROJECT#p2", "RUBRO#MOD-ING#b2#000", nil),
	}
	for _, it := range puts {
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
	if items[0].String("sk") > items[1].String("sk") {
		t.Fatalf("query out of sk order")
	}
}
