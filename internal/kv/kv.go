// Package kv re-exports the storage abstractions from kv/core and selects a
// concrete backend. Packages above this layer depend on kv.Store only; the
// backend subpackages are wired exclusively here (enforced by an
// architecture test).
package kv

import "finzcore/internal/kv/core"

type (
	Store        = core.Store
	Driver       = core.Driver
	Key          = core.Key
	Item         = core.Item
	Condition    = core.Condition
	Put          = core.Put
	ScanRequest  = core.ScanRequest
	ScanPage     = core.ScanPage
	QueryRequest = core.QueryRequest
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
	DriverDynamo   = core.DriverDynamo
)

// ErrConditionFailed reports a lost conditional write. See core.ErrConditionFailed.
var ErrConditionFailed = core.ErrConditionFailed
