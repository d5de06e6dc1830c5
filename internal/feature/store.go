package feature

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/telemetry"
)

// Store is the two-tier read-through feature store client. Reads consult
// Tier 1 first and populate it from Tier 2 on miss; writes go through Tier 2
// before touching Tier 1.
type Store struct {
	tier1 KV
	tier2 Table
	log   zerolog.Logger
}

// NewStore wires a Tier-1 KV in front of a Tier-2 table.
func NewStore(tier1 KV, tier2 Table, log zerolog.Logger) *Store {
	return &Store{tier1: tier1, tier2: tier2, log: log.With().Str("component", "feature_store").Logger()}
}

// retryOnce runs op, repeating a single time when the failure is transient.
func retryOnce(op func() error) error {
	err := op()
	if err != nil && IsTransient(err) {
		err = op()
	}
	return err
}

// Get returns the row for key, reading through Tier 1. Returns
// ErrRowNotFound when the key exists in neither tier.
func (s *Store) Get(ctx context.Context, key Key) (Row, error) {
	results, err := s.GetBatch(ctx, []Key{key})
	if err != nil {
		return Row{}, err
	}
	if results[0].Row == nil {
		return Row{}, fmt.Errorf("%s/%s: %w", key.Group, key.EntityID, ErrRowNotFound)
	}
	return *results[0].Row, nil
}

// BatchEntry is one position of a batch result. Row is nil for keys found in
// neither tier.
type BatchEntry struct {
	Key Key
	Row *Row
}

// GetBatch retrieves rows for keys, preserving input order in the result.
// Duplicate keys are coalesced into a single lookup; the Tier-2 miss set is
// fetched with one query.
func (s *Store) GetBatch(ctx context.Context, keys []Key) ([]BatchEntry, error) {
	found := make(map[Key]Row, len(keys))
	seen := make(map[Key]bool, len(keys))
	var misses []Key

	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		var (
			row Row
			ok  bool
		)
		err := retryOnce(func() error {
			var kvErr error
			row, ok, kvErr = s.tier1.Get(ctx, key)
			return kvErr
		})
		if err != nil {
			return nil, err
		}
		if ok {
			telemetry.FeatureCacheHits.Inc()
			found[key] = row
		} else {
			telemetry.FeatureCacheMisses.Inc()
			misses = append(misses, key)
		}
	}

	if len(misses) > 0 {
		var fetched map[Key]Row
		err := retryOnce(func() error {
			var qErr error
			fetched, qErr = s.tier2.QueryRows(ctx, misses)
			return qErr
		})
		if err != nil {
			return nil, err
		}
		for key, row := range fetched {
			if row.FetchedAt.IsZero() {
				row.FetchedAt = time.Now().UTC()
			}
			found[key] = s.populateTier1(ctx, row)
		}
	}

	out := make([]BatchEntry, len(keys))
	for i, key := range keys {
		entry := BatchEntry{Key: key}
		if row, ok := found[key]; ok {
			r := row
			entry.Row = &r
		}
		out[i] = entry
	}
	return out, nil
}

// Put writes values through Tier 2 and, on success, populates Tier 1 with
// the observed version. Tier 1 is untouched when the durable write fails.
func (s *Store) Put(ctx context.Context, key Key, values map[string]any) error {
	var version uint64
	err := retryOnce(func() error {
		var vErr error
		version, vErr = s.tier2.NextVersion(ctx, key)
		return vErr
	})
	if err != nil {
		return err
	}
	err = retryOnce(func() error {
		return s.tier2.UpsertRow(ctx, key, values, version)
	})
	if err != nil {
		return err
	}
	s.populateTier1(ctx, Row{Key: key, Values: values, Version: version, FetchedAt: time.Now().UTC()})
	return nil
}

// populateTier1 installs row unless Tier 1 already holds a higher version,
// in which case the higher version wins and is returned.
func (s *Store) populateTier1(ctx context.Context, row Row) Row {
	existing, ok, err := s.tier1.Get(ctx, row.Key)
	if err == nil && ok && existing.Version > row.Version {
		return existing
	}
	if err := s.tier1.Set(ctx, row); err != nil {
		s.log.Warn().Err(err).
			Str("entity_id", row.Key.EntityID).
			Str("group", row.Key.Group).
			Msg("tier-1 populate failed")
	}
	return row
}
