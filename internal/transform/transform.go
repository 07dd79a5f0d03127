// Package transform implements the per-index record transformers applied
// between extract and load. Transformers strip volatile, indexer-only
// fields and normalize shapes BigQuery cannot ingest, such as arrays
// containing null.
package transform

import (
	json "github.com/goccy/go-json"
)

// Record is a single extracted record, decoded into a generic map so that
// transformers can inspect and mutate arbitrary fields without a schema.
type Record = map[string]any

// Transformer rewrites a single record in place before it is staged for
// loading. IdentityTransformer is the trivial one: it returns data
// unchanged.
type Transformer interface {
	Transform(data Record) Record
}

// IdentityTransformer is the fallback used for any index without a
// registered Transformer.
type IdentityTransformer struct{}

// Transform implements Transformer.
func (IdentityTransformer) Transform(data Record) Record {
	return data
}

// Registry looks up the Transformer registered for an index name, falling
// back to IdentityTransformer for anything unregistered.
type Registry struct {
	transformers map[string]Transformer
	fallback     Transformer
}

// NewRegistry returns a Registry pre-populated with the transformers for
// accounts, blocks, tokens, and logs.
func NewRegistry() *Registry {
	return &Registry{
		transformers: map[string]Transformer{
			"accounts": AccountsTransformer{},
			"blocks":   BlocksTransformer{},
			"tokens":   TokensTransformer{},
			"logs":     LogsTransformer{},
		},
		fallback: IdentityTransformer{},
	}
}

// Get returns the Transformer registered for index, or the identity
// transformer if none was registered.
func (r *Registry) Get(index string) Transformer {
	if t, ok := r.transformers[index]; ok {
		return t
	}
	return r.fallback
}

// TransformJSON decodes rawJSON, applies the Transformer registered for
// index, and re-encodes the result.
func (r *Registry) TransformJSON(index string, rawJSON []byte) ([]byte, error) {
	var data Record
	if err := json.Unmarshal(rawJSON, &data); err != nil {
		return nil, err
	}

	data = r.Get(index).Transform(data)

	return json.Marshal(data)
}

// AccountsTransformer drops the indexer's volatile "api_*" fields, which are
// derived at query time and never belong in the warehouse.
type AccountsTransformer struct{}

// Transform implements Transformer.
func (AccountsTransformer) Transform(data Record) Record {
	dropPrefixed(data, "api_")
	return data
}

// TokensTransformer drops the indexer's volatile "nft_*" and "api_*"
// fields for the same reason as AccountsTransformer.
type TokensTransformer struct{}

// Transform implements Transformer.
func (TokensTransformer) Transform(data Record) Record {
	dropPrefixed(data, "nft_", "api_")
	return data
}

// BlocksTransformer drops the large, purely-internal top-level
// "pubKeyBitmap" field, plus the "reserved" field nested under each
// epoch-start shard's pending miniblock headers.
type BlocksTransformer struct{}

// Transform implements Transformer.
func (BlocksTransformer) Transform(data Record) Record {
	delete(data, "pubKeyBitmap")

	shardsData, _ := data["epochStartShardsData"].([]any)
	for _, raw := range shardsData {
		shard, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		headers, _ := shard["pendingMiniBlockHeaders"].([]any)
		for _, rawHeader := range headers {
			header, ok := rawHeader.(map[string]any)
			if !ok {
				continue
			}
			delete(header, "reserved")
		}
	}

	return data
}

// LogsTransformer replaces null entries in each event's "topics" and
// "additionalData" arrays with empty strings: BigQuery rejects NULL values
// inside a REPEATED-mode column.
type LogsTransformer struct{}

// Transform implements Transformer.
func (LogsTransformer) Transform(data Record) Record {
	events, _ := data["events"].([]any)
	for _, raw := range events {
		event, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		event["topics"] = nullsToEmptyStrings(event["topics"])
		event["additionalData"] = nullsToEmptyStrings(event["additionalData"])
	}
	return data
}

func nullsToEmptyStrings(v any) []any {
	items, _ := v.([]any)
	out := make([]any, len(items))
	for i, item := range items {
		if item == nil {
			out[i] = ""
		} else {
			out[i] = item
		}
	}
	return out
}

func dropPrefixed(data Record, prefixes ...string) {
	for key := range data {
		for _, prefix := range prefixes {
			if hasPrefix(key, prefix) {
				delete(data, key)
				break
			}
		}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
