package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"finzcore/internal/kv"
	"finzcore/pkg/domain"
)

// LedgerTTL is the retention window for idempotency records. Past it, a
// reused token behaves like a fresh one.
const LedgerTTL = 24 * time.Hour

// Ledger is the idempotency ledger: a keyed record of the exact payload and
// result each token produced. The same token may only ever be associated
// with one payload; a reuse with a different payload is a conflict, never a
// cache hit.
type Ledger struct {
	store kv.Store
	table string
	now   func() time.Time
}

// NewLedger constructs a ledger over the given table.
func NewLedger(store kv.Store, table string) *Ledger {
	return &Ledger{store: store, table: table, now: func() time.Time { return time.Now().UTC() }}
}

// ledgerRecord is the stored shape of one idempotency record.
type ledgerRecord struct {
	Token     string               `json:"token"`
	Payload   string               `json:"payload"`
	Result    domain.HandoffResult `json:"result"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt int64                `json:"expires_at"` // unix seconds; doubles as the store-side TTL attribute
}

// Check looks the token up. It returns nil when the token is unknown or
// expired, the cached record when the payload matches byte-for-byte, and an
// IdempotencyConflictError when the token was used with a different payload.
func (l *Ledger) Check(ctx context.Context, token string, payload []byte) (*domain.IdempotencyRecord, error) {
	item, ok, err := l.store.Get(ctx, l.table, idempotencyKey(token))
	if err != nil {
		return nil, domain.TransientStoreError{Op: "idempotency check", Err: err}
	}
	if !ok {
		return nil, nil
	}
	stored, err := fromItem[ledgerRecord](item)
	if err != nil {
		return nil, domain.TransientStoreError{Op: "idempotency check", Err: err}
	}
	rec := domain.IdempotencyRecord{
		Token:     stored.Token,
		Payload:   []byte(stored.Payload),
		Result:    stored.Result,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: time.Unix(stored.ExpiresAt, 0).UTC(),
	}
	if rec.Expired(l.now()) {
		return nil, nil
	}
	if !bytes.Equal(rec.Payload, payload) {
		return nil, domain.IdempotencyConflictError{
			Token:              token,
			ExistingBaselineID: rec.Result.BaselineID,
			Reason:             "token was already used with a different payload",
		}
	}
	return &rec, nil
}

// Record stores the payload and result for the token. The write is
// unconditional: the orchestrator only records after the ledger reported the
// token absent or matching, so a concurrent duplicate writes the same value.
func (l *Ledger) Record(ctx context.Context, token string, payload []byte, result domain.HandoffResult) error {
	now := l.now()
	item, err := toItem(ledgerRecord{
		Token:     token,
		Payload:   string(payload),
		Result:    result,
		CreatedAt: now,
		ExpiresAt: now.Add(LedgerTTL).Unix(),
	}, idempotencyKey(token))
	if err != nil {
		return domain.TransientStoreError{Op: "idempotency record", Err: err}
	}
	if err := l.store.Put(ctx, kv.Put{Table: l.table, Item: item}); err != nil {
		return domain.TransientStoreError{Op: "idempotency record", Err: err}
	}
	return nil
}

// CanonicalPayload renders a raw payload as canonical JSON (sorted keys) so
// that payload equality is structural, not byte-order-of-arrival.
func CanonicalPayload(raw map[string]any) ([]byte, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return data, nil
}
