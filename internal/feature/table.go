package feature

import "context"

// Table is the Tier-2 surface: a durable tabular store queryable by primary
// key. A batch query reflects a consistent snapshot within a single call;
// cross-batch reads are eventually consistent.
type Table interface {
	// QueryRows returns the rows found for keys; absent keys are simply
	// missing from the result map.
	QueryRows(ctx context.Context, keys []Key) (map[Key]Row, error)
	// UpsertRow writes values under key with the given version, replacing any
	// prior row.
	UpsertRow(ctx context.Context, key Key, values map[string]any, version uint64) error
	// NextVersion allocates a monotonic version for key.
	NextVersion(ctx context.Context, key Key) (uint64, error)
}
