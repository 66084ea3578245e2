// Package sqlite provides an embedded kv backend over a single records
// table. Conditions are evaluated inside the database transaction, so the
// check-and-write is atomic with respect to other writers on the same file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"finzcore/internal/kv/core"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Store persists items as JSON payloads keyed by (table, pk, sk).
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

var _ core.Store = (*Store)(nil)

// NewStore opens (or creates) the database file at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "finzcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		tbl TEXT NOT NULL,
		pk TEXT NOT NULL,
		sk TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (tbl, pk, sk)
	)`); err != nil {
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverSQLite }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close closes the database file.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Get reads one item.
func (s *Store) Get(ctx context.Context, table string, key core.Key) (core.Item, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE tbl=? AND pk=? AND sk=?`,
		table, key.PK, key.SK).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select record: %w", err)
	}
	var item core.Item
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, false, fmt.Errorf("decode record %s/%s: %w", key.PK, key.SK, err)
	}
	return item, true, nil
}

// Put writes one item, honoring the condition.
func (s *Store) Put(ctx context.Context, put core.Put) error {
	return s.TransactWrite(ctx, put)
}

// TransactWrite checks every condition and applies every put inside a single
// database transaction. The mutex serializes writers; modernc sqlite allows
// only one at a time anyway.
func (s *Store) TransactWrite(ctx context.Context, puts ...core.Put) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, put := range puts {
		key := put.Item.Key()
		var payload []byte
		err := tx.QueryRowContext(ctx,
			`SELECT payload FROM records WHERE tbl=? AND pk=? AND sk=?`,
			put.Table, key.PK, key.SK).Scan(&payload)
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			retErr = fmt.Errorf("select record: %w", err)
			return retErr
		}
		var existing core.Item
		if exists {
			if err := json.Unmarshal(payload, &existing); err != nil {
				retErr = fmt.Errorf("decode record %s/%s: %w", key.PK, key.SK, err)
				return retErr
			}
		}
		if !put.Condition.Evaluate(existing, exists) {
			retErr = core.ErrConditionFailed
			return retErr
		}
	}

	for _, put := range puts {
		key := put.Item.Key()
		data, err := json.Marshal(put.Item)
		if err != nil {
			retErr = fmt.Errorf("encode record %s/%s: %w", key.PK, key.SK, err)
			return retErr
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records(tbl,pk,sk,payload) VALUES(?,?,?,?)
			 ON CONFLICT(tbl,pk,sk) DO UPDATE SET payload=excluded.payload`,
			put.Table, key.PK, key.SK, data); err != nil {
			retErr = fmt.Errorf("upsert record %s/%s: %w", key.PK, key.SK, err)
			return retErr
		}
	}

	if err := tx.Commit(); err != nil {
		retErr = fmt.Errorf("commit: %w", err)
		return retErr
	}
	return nil
}

// Scan returns one page of the table in (pk, sk) order.
func (s *Store) Scan(ctx context.Context, req core.ScanRequest) (core.ScanPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 250
	}
	startPK, startSK := "", ""
	if req.StartKey != nil {
		startPK, startSK = req.StartKey.PK, req.StartKey.SK
	}
	// Fetch one extra row to learn whether another page exists.
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM records
		 WHERE tbl=? AND (pk>? OR (pk=? AND sk>?))
		 ORDER BY pk, sk LIMIT ?`,
		req.Table, startPK, startPK, startSK, limit+1)
	if err != nil {
		return core.ScanPage{}, fmt.Errorf("scan records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var page core.ScanPage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return core.ScanPage{}, fmt.Errorf("scan row: %w", err)
		}
		var item core.Item
		if err := json.Unmarshal(payload, &item); err != nil {
			return core.ScanPage{}, fmt.Errorf("decode scan row: %w", err)
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return core.ScanPage{}, fmt.Errorf("iterate scan: %w", err)
	}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		last := page.Items[limit-1].Key()
		page.LastKey = &last
	}
	return page, nil
}

// Query returns all items under a partition key in sk order.
func (s *Store) Query(ctx context.Context, req core.QueryRequest) ([]core.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM records
		 WHERE tbl=? AND pk=? AND sk LIKE ? ORDER BY sk`,
		req.Table, req.PK, req.SKPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Item
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var item core.Item
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("decode query row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query: %w", err)
	}
	return out, nil
}
