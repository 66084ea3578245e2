// Package core defines the key-value storage abstractions used by the
// handoff engine. All shared mutable state is coordinated through these
// primitives; there are no in-process locks above this layer.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Driver identifies a concrete key-value backend implementation.
type Driver string

const (
	// DriverMemory represents the in-memory implementation (tests / ephemeral).
	DriverMemory Driver = "memory"
	// DriverSQLite represents the embedded sqlite implementation (default, dev).
	DriverSQLite Driver = "sqlite"
	// DriverPostgres represents the PostgreSQL implementation.
	DriverPostgres Driver = "postgres"
	// DriverDynamo represents the DynamoDB implementation (production).
	DriverDynamo Driver = "dynamo"
)

// Key addresses one item inside a table.
type Key struct {
	PK string
	SK string
}

// Item is one stored record. Values must survive a JSON round trip, so
// backends may assume numbers are float64, and nested values are
// map[string]any or []any.
type Item map[string]any

// Key extracts the item's pk/sk attributes.
func (it Item) Key() Key {
	return Key{PK: it.String("pk"), SK: it.String("sk")}
}

// String returns the named attribute as a string, or "" when absent or not a
// string.
func (it Item) String(field string) string {
	s, _ := it[field].(string)
	return s
}

// Clone deep-copies the item through a JSON round trip.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	data, err := json.Marshal(it)
	if err != nil {
		// Items are built from JSON-decoded values; marshalling cannot fail
		// for well-formed callers.
		panic(fmt.Sprintf("kv: clone item: %v", err))
	}
	var out Item
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("kv: clone item: %v", err))
	}
	return out
}

// Condition restricts a Put to commit only when the stored state satisfies
// one of its clauses, which OR together:
//
//   - Absent: no item exists at the key,
//   - FieldMissing: the stored item lacks the named attribute,
//   - FieldEquals: every named attribute equals the given value.
//
// A nil *Condition is unconditional. The zero Condition never passes against
// an existing item, which makes {Absent: true} a create-only put.
type Condition struct {
	Absent       bool
	FieldMissing string
	FieldEquals  map[string]any
}

// Evaluate reports whether the condition passes against the stored item.
// Shared by the backends that check conditions in application code; the
// DynamoDB backend compiles the same clauses to a ConditionExpression.
func (c *Condition) Evaluate(existing Item, exists bool) bool {
	if c == nil {
		return true
	}
	if !exists {
		return true
	}
	if c.FieldMissing != "" {
		if _, ok := existing[c.FieldMissing]; !ok {
			return true
		}
	}
	if len(c.FieldEquals) > 0 {
		all := true
		for field, want := range c.FieldEquals {
			got, ok := existing[field]
			if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// Put describes one write, optionally guarded by a condition.
type Put struct {
	Table     string
	Item      Item
	Condition *Condition
}

// ScanRequest asks for one page of a table scan. The scan order is stable
// (pk, sk ascending) so callers can bound iteration by page count.
type ScanRequest struct {
	Table    string
	Limit    int
	StartKey *Key
}

// ScanPage is one page of scan results. A nil LastKey means the scan is
// exhausted.
type ScanPage struct {
	Items   []Item
	LastKey *Key
}

// QueryRequest asks for all items sharing a partition key, optionally
// narrowed to a sort-key prefix, in sk order.
type QueryRequest struct {
	Table    string
	PK       string
	SKPrefix string
}

// Store provides point reads, conditional writes, atomic multi-item writes,
// and bounded scans over keyed tables. Every implementation must make
// TransactWrite all-or-nothing and must report a lost condition as
// ErrConditionFailed, never as a generic error.
type Store interface {
	Get(ctx context.Context, table string, key Key) (Item, bool, error)
	Put(ctx context.Context, put Put) error
	TransactWrite(ctx context.Context, puts ...Put) error
	Scan(ctx context.Context, req ScanRequest) (ScanPage, error)
	Query(ctx context.Context, req QueryRequest) ([]Item, error)
	Driver() Driver
	Close() error
}

// ErrConditionFailed is returned when a conditional put (or any put inside a
// TransactWrite) found the stored state outside its condition. The write did
// not apply; for TransactWrite, no write in the set applied.
var ErrConditionFailed = errors.New("kv: conditional write failed")
