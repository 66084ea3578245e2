package kv

import (
	"context"
	"fmt"
	"os"

	"finzcore/internal/kv/dynamo"
	"finzcore/internal/kv/memory"
	"finzcore/internal/kv/postgres"
	"finzcore/internal/kv/sqlite"
)

// Options holds explicit backend selection parameters. Zero values fall back
// to the corresponding environment variables.
type Options struct {
	Driver         Driver
	SQLitePath     string
	PostgresDSN    string
	DynamoRegion   string
	DynamoEndpoint string
}

// Open selects a Store implementation from Options and environment variables.
// Defaults to sqlite when unset.
//
//	FINZCORE_KV_DRIVER: memory|sqlite|postgres|dynamo (default sqlite)
//	FINZCORE_SQLITE_PATH: path to sqlite file (default ./finzcore.db)
//	FINZCORE_POSTGRES_DSN: postgres DSN when driver=postgres
//	(DynamoDB specific variables documented in dynamo/store.go)
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = Driver(os.Getenv("FINZCORE_KV_DRIVER"))
	}
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = os.Getenv("FINZCORE_SQLITE_PATH")
		}
		return sqlite.NewStore(path)
	case DriverPostgres:
		dsn := opts.PostgresDSN
		if dsn == "" {
			dsn = os.Getenv("FINZCORE_POSTGRES_DSN")
		}
		return postgres.NewStore(dsn)
	case DriverDynamo:
		if opts.DynamoRegion == "" && opts.DynamoEndpoint == "" {
			return dynamo.OpenFromEnv(ctx)
		}
		return dynamo.New(ctx, dynamo.Config{Region: opts.DynamoRegion, Endpoint: opts.DynamoEndpoint})
	default:
		return nil, fmt.Errorf("unknown kv driver %s", driver)
	}
}
