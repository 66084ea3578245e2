// Package handoff implements the baseline-to-project handoff engine:
// normalization of raw baseline payloads, resolution of the durable project
// identity, the collision-guarded atomic bind, idempotent rubro
// materialization, and the idempotency ledger that makes retries safe.
package handoff

import (
	"encoding/json"
	"fmt"

	"finzcore/internal/kv"
)

// Key layout, inherited from the production tables:
//
//	PROJECT#<projectID> / METADATA             project metadata (baseline binding)
//	PROJECT#<projectID> / HANDOFF#<baselineID> handoff record
//	PROJECT#<projectID> / RUBRO#<rubroID>      seeded line item
//	IDEMP#<token>       / METADATA             idempotency ledger record
const (
	pkProjectPrefix = "PROJECT#"
	pkIdempPrefix   = "IDEMP#"
	skMetadata      = "METADATA"
	skHandoffPrefix = "HANDOFF#"
	skRubroPrefix   = "RUBRO#"
)

func projectKey(projectID string) kv.Key {
	return kv.Key{PK: pkProjectPrefix + projectID, SK: skMetadata}
}

func handoffKey(projectID, baselineID string) kv.Key {
	return kv.Key{PK: pkProjectPrefix + projectID, SK: skHandoffPrefix + baselineID}
}

func rubroKey(projectID, rubroID string) kv.Key {
	return kv.Key{PK: pkProjectPrefix + projectID, SK: skRubroPrefix + rubroID}
}

func idempotencyKey(token string) kv.Key {
	return kv.Key{PK: pkIdempPrefix + token, SK: skMetadata}
}

// toItem flattens v through JSON into a kv.Item carrying the given key.
func toItem(v any, key kv.Key) (kv.Item, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var item kv.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("flatten record: %w", err)
	}
	item["pk"] = key.PK
	item["sk"] = key.SK
	return item, nil
}

// fromItem rebuilds a typed record from a stored item.
func fromItem[T any](item kv.Item) (T, error) {
	var out T
	data, err := json.Marshal(item)
	if err != nil {
		return out, fmt.Errorf("encode item: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode item: %w", err)
	}
	return out, nil
}
