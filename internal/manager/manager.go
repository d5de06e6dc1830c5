// Package manager owns the live set of model handles: it serializes loads
// per model name, performs atomic zero-downtime swaps, and keeps retired
// handles valid through a drain window for in-flight readers.
package manager

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/artifact"
	"inferd/internal/cache"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

// LoaderFunc materializes artifact bytes into a model. Defaults to
// artifact.Load; injectable for tests.
type LoaderFunc func(modelDoc, schemaDoc []byte) (*artifact.Model, error)

// Config carries the manager's collaborators and tuning.
type Config struct {
	Registry    registry.Client
	Cache       *cache.PredictionCache
	Loader      LoaderFunc
	DrainWindow time.Duration
	LoadTimeout time.Duration
	Logger      zerolog.Logger
}

const (
	defaultDrainWindow = 30 * time.Second
	defaultLoadTimeout = 2 * time.Minute
	reaperInterval     = time.Second
)

type loadKey struct {
	name    string
	version int
}

// Manager maintains the name -> current handle mapping. The read path is
// wait-free: Current loads an atomic pointer to a copy-on-write snapshot map.
type Manager struct {
	registry    registry.Client
	cache       *cache.PredictionCache
	loader      LoaderFunc
	drainWindow time.Duration
	loadTimeout time.Duration
	log         zerolog.Logger

	current atomic.Pointer[map[string]*Handle]

	mu         sync.Mutex
	inflight   map[loadKey]chan struct{}
	nameTokens map[string]chan struct{}
	draining   []retiredHandle

	stopOnce sync.Once
	stopCh   chan struct{}

	// readyWhenEmpty makes Ready report true with no models loaded, for
	// deployments configured with an empty preload list.
	readyWhenEmpty atomic.Bool
}

// New constructs a Manager and starts its drain reaper.
func New(cfg Config) *Manager {
	if cfg.Loader == nil {
		cfg.Loader = artifact.Load
	}
	if cfg.DrainWindow <= 0 {
		cfg.DrainWindow = defaultDrainWindow
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	m := &Manager{
		registry:    cfg.Registry,
		cache:       cfg.Cache,
		loader:      cfg.Loader,
		drainWindow: cfg.DrainWindow,
		loadTimeout: cfg.LoadTimeout,
		log:         cfg.Logger.With().Str("component", "model_manager").Logger(),
		inflight:    make(map[loadKey]chan struct{}),
		nameTokens:  make(map[string]chan struct{}),
		stopCh:      make(chan struct{}),
	}
	empty := make(map[string]*Handle)
	m.current.Store(&empty)
	go m.reapDraining()
	return m
}

// Close stops the drain reaper and releases all retired handles.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	m.draining = nil
	m.mu.Unlock()
}

// SetReadyWhenEmpty controls readiness with zero loaded models.
func (m *Manager) SetReadyWhenEmpty(v bool) { m.readyWhenEmpty.Store(v) }

// Ready reports whether at least one model is published (or an empty preload
// was configured).
func (m *Manager) Ready() bool {
	if len(*m.current.Load()) > 0 {
		return true
	}
	return m.readyWhenEmpty.Load()
}

// Current returns the published handle for name, or nil. The returned handle
// is a stable snapshot: it remains valid for the caller even if a swap
// publishes a successor while the caller is still using it.
func (m *Manager) Current(name string) *Handle {
	return (*m.current.Load())[name]
}

// Lookup finds a specific loaded version: the current handle, or one still
// in the draining set for graceful handoff.
func (m *Manager) Lookup(name string, version int) *Handle {
	if h := m.Current(name); h != nil && h.Version == version {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.draining {
		if r.handle.Name == name && r.handle.Version == version {
			return r.handle
		}
	}
	return nil
}

// List summarizes all published handles, sorted by name.
func (m *Manager) List() []types.ModelSummary {
	snap := *m.current.Load()
	out := make([]types.ModelSummary, 0, len(snap))
	for _, h := range snap {
		out = append(out, types.ModelSummary{
			Name:     h.Name,
			Version:  h.VersionString(),
			Stage:    string(h.Stage),
			LoadedAt: h.LoadedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// publish atomically swaps the current handle for h.Name. The predecessor
// enters the draining set; prediction-cache entries for the name are dropped
// before readers can observe the new handle.
func (m *Manager) publish(h *Handle) {
	if h == nil || h.Model == nil {
		panic("manager: publish of nil handle")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil {
		dropped := m.cache.InvalidateModel(h.Name)
		if dropped > 0 {
			m.log.Debug().Str("model", h.Name).Int("dropped", dropped).Msg("prediction cache invalidated")
		}
	}

	old := *m.current.Load()
	next := make(map[string]*Handle, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	prev := next[h.Name]
	next[h.Name] = h
	m.current.Store(&next)

	if prev != nil {
		m.draining = append(m.draining, retiredHandle{
			handle:   prev,
			deadline: time.Now().Add(m.drainWindow),
		})
	}
}

// reapDraining drops retired handles whose drain window has elapsed. The
// last in-flight request still holding one keeps it alive until it returns.
func (m *Manager) reapDraining() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			kept := m.draining[:0]
			for _, r := range m.draining {
				if r.deadline.After(now) {
					kept = append(kept, r)
				}
			}
			m.draining = kept
			m.mu.Unlock()
		}
	}
}

// DrainingCount reports the number of retired handles still inside their
// drain window.
func (m *Manager) DrainingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.draining)
}
