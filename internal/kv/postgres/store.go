// Package postgres provides a PostgreSQL kv backend. Conditions are checked
// under SELECT ... FOR UPDATE inside a single transaction, which gives the
// same lost-race behavior as DynamoDB's conditional writes: among concurrent
// conflicting transactions exactly one commits, the rest observe the
// committed row and fail their condition.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"finzcore/internal/kv/core"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const defaultDSN = "postgres://localhost/finzcore?sslmode=disable"

// Store persists items as JSONB payloads keyed by (table, pk, sk).
type Store struct {
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN) and ensures the records table exists.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS records (
		tbl TEXT NOT NULL,
		pk TEXT NOT NULL,
		sk TEXT NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (tbl, pk, sk)
	)`); err != nil {
		return nil, fmt.Errorf("ensure records table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverPostgres }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Get reads one item.
func (s *Store) Get(ctx context.Context, table string, key core.Key) (core.Item, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE tbl=$1 AND pk=$2 AND sk=$3`,
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

// TransactWrite checks every condition under row locks, then applies every
// put, all inside one database transaction.
func (s *Store) TransactWrite(ctx context.Context, puts ...core.Put) (retErr error) {
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
			`SELECT payload FROM records WHERE tbl=$1 AND pk=$2 AND sk=$3 FOR UPDATE`,
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
			`INSERT INTO records(tbl,pk,sk,payload) VALUES($1,$2,$3,$4)
			 ON CONFLICT(tbl,pk,sk) DO UPDATE SET payload=EXCLUDED.payload`,
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM records
		 WHERE tbl=$1 AND (pk>$2 OR (pk=$2 AND sk>$3))
		 ORDER BY pk, sk LIMIT $4`,
		req.Table, startPK, startSK, limit+1)
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
		 WHERE tbl=$1 AND pk=$2 AND sk LIKE $3 ORDER BY sk`,
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
