// Package memory provides an in-memory kv backend with the same conditional
// write semantics as the durable backends. Used by tests and ephemeral runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"finzcore/internal/kv/core"
)

// Store keeps all tables in process memory behind a single lock, so a
// TransactWrite is trivially atomic with respect to every other operation.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[core.Key]core.Item
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{tables: make(map[string]map[core.Key]core.Item)}
}

var _ core.Store = (*Store)(nil)

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) Close() error { return nil }

func (s *Store) table(name string) map[core.Key]core.Item {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[core.Key]core.Item)
		s.tables[name] = t
	}
	return t
}

// Get returns a deep copy of the item at key.
func (s *Store) Get(_ context.Context, table string, key core.Key) (core.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.tables[table][key]
	if !ok {
		return nil, false, nil
	}
	return item.Clone(), true, nil
}

// Put writes one item, honoring the put's condition.
func (s *Store) Put(_ context.Context, put core.Put) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(put)
}

// TransactWrite checks every condition under the lock, then applies every
// put. Any failed condition aborts the whole set.
func (s *Store) TransactWrite(_ context.Context, puts ...core.Put) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, put := range puts {
		existing, ok := s.tables[put.Table][put.Item.Key()]
		if !put.Condition.Evaluate(existing, ok) {
			return core.ErrConditionFailed
		}
	}
	for _, put := range puts {
		s.table(put.Table)[put.Item.Key()] = put.Item.Clone()
	}
	return nil
}

func (s *Store) apply(put core.Put) error {
	key := put.Item.Key()
	existing, ok := s.tables[put.Table][key]
	if !put.Condition.Evaluate(existing, ok) {
		return core.ErrConditionFailed
	}
	s.table(put.Table)[key] = put.Item.Clone()
	return nil
}

// Scan returns one page of the table in (pk, sk) order.
func (s *Store) Scan(_ context.Context, req core.ScanRequest) (core.ScanPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]core.Key, 0, len(s.tables[req.Table]))
	for k := range s.tables[req.Table] {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PK != keys[j].PK {
			return keys[i].PK < keys[j].PK
		}
		return keys[i].SK < keys[j].SK
	})

	start := 0
	if req.StartKey != nil {
		for i, k := range keys {
			if k.PK > req.StartKey.PK || (k.PK == req.StartKey.PK && k.SK > req.StartKey.SK) {
				start = i
				break
			}
			start = i + 1
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = len(keys)
	}

	var page core.ScanPage
	for i := start; i < len(keys) && len(page.Items) < limit; i++ {
		page.Items = append(page.Items, s.tables[req.Table][keys[i]].Clone())
		if len(page.Items) == limit && i+1 < len(keys) {
			last := keys[i]
			page.LastKey = &last
		}
	}
	return page, nil
}

// Query returns all items under a partition key, optionally filtered by a
// sort-key prefix, in sk order.
func (s *Store) Query(_ context.Context, req core.QueryRequest) ([]core.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Item
	for k, item := range s.tables[req.Table] {
		if k.PK != req.PK {
			continue
		}
		if req.SKPrefix != "" && !strings.HasPrefix(k.SK, req.SKPrefix) {
			continue
		}
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String("sk") < out[j].String("sk") })
	return out, nil
}
