package cache

import (
	"time"

	"inferd/internal/telemetry"
	"inferd/pkg/types"
)

// PredictionCache stores recent prediction responses keyed by request
// fingerprint. Stored responses are the uncached pipeline result verbatim;
// the pipeline stamps cache_hit and latency on the copy it returns.
type PredictionCache struct {
	inner *TTLCache[Key, types.PredictionResponse]
}

// NewPredictionCache returns a prediction cache bounded to capacity entries
// with the given TTL.
func NewPredictionCache(capacity int, ttl time.Duration) *PredictionCache {
	return &PredictionCache{inner: NewTTLCache[Key, types.PredictionResponse](capacity, ttl)}
}

// Get looks up key, counting the hit or miss.
func (p *PredictionCache) Get(key Key) (types.PredictionResponse, bool) {
	resp, ok := p.inner.Get(key)
	if ok {
		telemetry.PredictionCacheHits.Inc()
	} else {
		telemetry.PredictionCacheMisses.Inc()
	}
	return resp, ok
}

// Put stores resp under key.
func (p *PredictionCache) Put(key Key, resp types.PredictionResponse) {
	p.inner.Put(key, resp)
}

// InvalidateModel removes every entry whose fingerprint references name and
// reports how many were dropped. Called as part of a model swap.
func (p *PredictionCache) InvalidateModel(name string) int {
	return p.inner.DeleteFunc(func(k Key, _ types.PredictionResponse) bool {
		return k.Model == name
	})
}

// Len reports the number of stored entries.
func (p *PredictionCache) Len() int { return p.inner.Len() }

// SetClock overrides the time source. Intended for tests.
func (p *PredictionCache) SetClock(now func() time.Time) { p.inner.SetClock(now) }
