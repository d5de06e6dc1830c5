package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/artifact"
	"inferd/internal/cache"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

func cachedResponse(model, version string) types.PredictionResponse {
	return types.PredictionResponse{Prediction: 1, ModelName: model, ModelVersion: version}
}

// testArtifact builds a linear classification artifact with n weights and a
// matching schema of required f64 fields f0..f(n-1).
func testArtifact(t *testing.T, n int) registry.Artifact {
	t.Helper()
	weights := make([]float64, n)
	fields := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		weights[i] = 1
		fields[i] = map[string]any{"name": fmt.Sprintf("f%d", i), "dtype": "f64", "required": true}
	}
	model, err := json.Marshal(map[string]any{
		"type": "linear", "weights": weights, "bias": 0.0, "classification": true,
	})
	if err != nil {
		t.Fatalf("marshal model: %v", err)
	}
	schema, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	return registry.Artifact{Model: model, Schema: schema}
}

func newTestManager(t *testing.T, fake *registry.Fake, opts ...func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		Registry:    fake,
		Cache:       cache.NewPredictionCache(100, time.Minute),
		DrainWindow: time.Second,
		Logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m := New(cfg)
	t.Cleanup(m.Close)
	return m
}

func waitLoaded(t *testing.T, m *Manager, name string, version int) *Handle {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h := m.Current(name); h != nil && h.Version == version {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("model %s version %d never became current", name, version)
	return nil
}

func TestSubmitLoadPublishesHandle(t *testing.T) {
	fake := registry.NewFake()
	fake.AddVersion("fraud", registry.Version{ID: 1, Stage: registry.StageProduction}, testArtifact(t, 3))
	m := newTestManager(t, fake)

	<-m.SubmitLoad("fraud", registry.Version{ID: 1, Stage: registry.StageProduction})
	h := m.Current("fraud")
	if h == nil || h.Version != 1 {
		t.Fatalf("expected version 1 current, got %+v", h)
	}
	if h.Schema().InputArity() != 3 {
		t.Fatalf("handle schema arity: %d", h.Schema().InputArity())
	}
	if h.Stage != registry.StageProduction {
		t.Fatalf("handle stage: %s", h.Stage)
	}

	list := m.List()
	if len(list) != 1 || list[0].Name != "fraud" || list[0].Version != "1" {
		t.Fatalf("list mismatch: %+v", list)
	}
}

func TestSubmitLoadIsIdempotent(t *testing.T) {
	fake := registry.NewFake()
	fake.AddVersion("m", registry.Version{ID: 1, Stage: registry.StageProduction}, testArtifact(t, 1))

	var loads int32
	release := make(chan struct{})
	m := newTestManager(t, fake)
	// Slow loader that counts invocations.
	m.loader = func(modelDoc, schemaDoc []byte) (*artifact.Model, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return artifact.Load(modelDoc, schemaDoc)
	}

	ver := registry.Version{ID: 1, Stage: registry.StageProduction}
	done1 := m.SubmitLoad("m", ver)
	done2 := m.SubmitLoad("m", ver)
	if done1 != done2 {
		t.Fatalf("duplicate submits must join the in-flight load")
	}
	close(release)
	<-done1
	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}

	// Re-submitting a current version is a no-op that completes immediately.
	done3 := m.SubmitLoad("m", ver)
	select {
	case <-done3:
	case <-time.After(time.Second):
		t.Fatalf("submit of current version should complete immediately")
	}
	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("no new load expected, got %d", got)
	}
}

func TestConcurrentSubmitsSingleLoad(t *testing.T) {
	fake := registry.NewFake()
	fake.AddVersion("m", registry.Version{ID: 1, Stage: registry.StageProduction}, testArtifact(t, 1))
	var loads int32
	m := newTestManager(t, fake)
	m.loader = func(modelDoc, schemaDoc []byte) (*artifact.Model, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(20 * time.Millisecond)
		return artifact.Load(modelDoc, schemaDoc)
	}

	ver := registry.Version{ID: 1, Stage: registry.StageProduction}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-m.SubmitLoad("m", ver)
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("expected a single load for concurrent submits, got %d", got)
	}
}

func TestSwapInvalidatesCacheAndDrainsPredecessor(t *testing.T) {
	fake := registry.NewFake()
	fake.AddVersion("m", registry.Version{ID: 1, Stage: registry.StageProduction}, testArtifact(t, 1))
	fake.AddVersion("m", registry.Version{ID: 2, Stage: registry.StageProduction}, testArtifact(t, 1))
	m := newTestManager(t, fake)

	<-m.SubmitLoad("m", registry.Version{ID: 1, Stage: registry.StageProduction})
	old := m.Current("m")

	// Seed cache entries for both this model and an unrelated one.
	m.cache.Put(cache.Fingerprint("m", "1", map[string]any{"f0": 1.0}), cachedResponse("m", "1"))
	m.cache.Put(cache.Fingerprint("other", "1", map[string]any{"f0": 1.0}), cachedResponse("other", "1"))

	<-m.SubmitLoad("m", registry.Version{ID: 2, Stage: registry.StageProduction})
	cur := m.Current("m")
	if cur == nil || cur.Version != 2 {
		t.Fatalf("expected version 2 current, got %+v", cur)
	}

	// The swap dropped only this model's cache entries.
	if _, ok := m.cache.Get(cache.Fingerprint("m", "1", map[string]any{"f0": 1.0})); ok {
		t.Fatalf("swap must invalidate the model's cache entries")
	}
	if _, ok := m.cache.Get(cache.Fingerprint("other", "1", map[string]any{"f0": 1.0})); !ok {
		t.Fatalf("unrelated cache entries must survive")
	}

	// The retired handle stays reachable for pinned-version requests.
	if got := m.Lookup("m", 1); got != old {
		t.Fatalf("retired handle should be reachable during the drain window")
	}
	if m.DrainingCount() != 1 {
		t.Fatalf("expected one draining handle, got %d", m.DrainingCount())
	}
	// The old handle itself remains fully usable by an in-flight reader.
	if _, err := old.Predictor().Predict([]float64{1}); err != nil {
		t.Fatalf("retired handle must stay valid: %v", err)
	}
}

func TestDrainWindowExpiry(t *testing.T) {
	fake := registry.NewFake()
	fake.AddVersion("m", registry.Version{ID: 1, Stage: registry.StageProduction}, testArtifact(t, 1))
	fake.AddVersion("m", registry.Version{ID: 2, Stage: registry.StageProduction}, testArtifact(t, 1))
	m := newTestManager(t, fake, func(c *Config) { c.DrainWindow = 50 * time.Millisecond })

	<-m.SubmitLoad("m", registry.Version{ID: 1, Stage: registry.StageProduction})
	<-m.SubmitLoad("m", registry.Version{ID: 2, Stage: registry.StageProduction})
	if m.Lookup("m", 1) == nil {
		t.Fatalf("retired handle should exist right after the swap")
	}

	deadline := time.Now().Add(3 * time.Second)
	for m.Lookup("m", 1) != nil {
		if time.Now().After(deadline) {
			t.Fatalf("retired handle never left the draining set")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestLoadFailureKeepsExistingHandle(t *testing.T) {
	fake := registry.NewFake()
	fake.AddVersion("m", registry.Version{ID: 1, Stage: registry.StageProduction}, testArtifact(t, 1))
	m := newTestManager(t, fake)

	<-m.SubmitLoad("m", registry.Version{ID: 1, Stage: registry.StageProduction})
	// Version 2 has no artifact registered; the fetch fails terminally.
	<-m.SubmitLoad("m", registry.Version{ID: 2, Stage: registry.StageProduction})

	h := m.Current("m")
	if h == nil || h.Version != 1 {
		t.Fatalf("failed load must keep the existing handle, got %+v", h)
	}
}

func TestCorruptArtifactAbortsLoad(t *testing.T) {
	fake := registry.NewFake()
	fake.AddVersion("m", registry.Version{ID: 1, Stage: registry.StageProduction},
		registry.Artifact{Model: []byte(`{"type":"linear","weights":[1]}`), Schema: []byte(`{"fields":[]}`)})
	m := newTestManager(t, fake)
	<-m.SubmitLoad("m", registry.Version{ID: 1, Stage: registry.StageProduction})
	if m.Current("m") != nil {
		t.Fatalf("invalid schema must abort the load")
	}
}

func TestPublishNilPanics(t *testing.T) {
	m := newTestManager(t, registry.NewFake())
	defer func() {
		if recover() == nil {
			t.Fatalf("publishing a nil handle must panic")
		}
	}()
	m.publish(nil)
}

func TestPreloadProductionAlias(t *testing.T) {
	fake := registry.NewFake()
	fake.AddVersion("fraud", registry.Version{ID: 1, Stage: registry.StageProduction}, testArtifact(t, 2))
	fake.AddVersion("fraud", registry.Version{ID: 2, Stage: registry.StageNone}, testArtifact(t, 2))
	fake.SetAlias("fraud", registry.AliasProduction, 1)
	m := newTestManager(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Preload(ctx, []string{"fraud:production"}); err != nil {
		t.Fatalf("preload: %v", err)
	}
	h := m.Current("fraud")
	if h == nil || h.Version != 1 {
		t.Fatalf("expected aliased version 1, got %+v", h)
	}
}

func TestResolveAndLoadLatest(t *testing.T) {
	fake := registry.NewFake()
	fake.AddVersion("m", registry.Version{ID: 1, Stage: registry.StageArchived}, testArtifact(t, 1))
	fake.AddVersion("m", registry.Version{ID: 4, Stage: registry.StageNone}, testArtifact(t, 1))
	m := newTestManager(t, fake)

	if err := m.ResolveAndLoad(context.Background(), "m", "latest"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	waitLoaded(t, m, "m", 4)
}

func TestReadyGating(t *testing.T) {
	m := newTestManager(t, registry.NewFake())
	if m.Ready() {
		t.Fatalf("no models and no empty-preload flag: not ready")
	}
	m.SetReadyWhenEmpty(true)
	if !m.Ready() {
		t.Fatalf("empty preload configured: ready")
	}
}
