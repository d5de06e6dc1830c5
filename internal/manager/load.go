package manager

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"inferd/internal/config"
	"inferd/internal/registry"
	"inferd/internal/telemetry"
)

// SubmitLoad requests that (name, version) be materialized and published. It
// is idempotent: if the version is already current or a load is in flight,
// no new work starts. The returned channel closes when the load settles,
// successfully or not. Loads are never cancelled by request deadlines; they
// run to completion under the manager's own load timeout.
func (m *Manager) SubmitLoad(name string, ver registry.Version) <-chan struct{} {
	key := loadKey{name: name, version: ver.ID}

	if h := m.Current(name); h != nil && h.Version == ver.ID {
		done := make(chan struct{})
		close(done)
		return done
	}

	m.mu.Lock()
	if done, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		return done
	}
	done := make(chan struct{})
	m.inflight[key] = done
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.inflight, key)
			m.mu.Unlock()
			close(done)
		}()
		m.runLoad(name, ver)
	}()
	return done
}

// runLoad executes one load under the per-name token. Loads for different
// names proceed in parallel; loads for the same name are serialized.
func (m *Manager) runLoad(name string, ver registry.Version) {
	token := m.nameToken(name)
	token <- struct{}{}
	defer func() { <-token }()

	// The token may have been held by a load that already published this
	// version.
	if h := m.Current(name); h != nil && h.Version == ver.ID {
		return
	}

	versionLabel := strconv.Itoa(ver.ID)
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.loadTimeout)
	defer cancel()

	h, err := m.loadHandle(ctx, name, ver)
	if err != nil {
		telemetry.ModelLoadsTotal.WithLabelValues(name, versionLabel, "error").Inc()
		m.log.Error().Err(err).
			Str("model", name).
			Int("version", ver.ID).
			Msg("model load failed")
		return
	}

	m.publish(h)

	elapsed := time.Since(start)
	telemetry.ModelLoadsTotal.WithLabelValues(name, versionLabel, "success").Inc()
	telemetry.ModelLoadDuration.WithLabelValues(name, versionLabel).Observe(elapsed.Seconds())
	telemetry.CurrentModelVersion.WithLabelValues(name).Set(float64(ver.ID))
	m.log.Info().
		Str("model", name).
		Int("version", ver.ID).
		Dur("load_time", elapsed).
		Msg("model published")
}

// loadHandle fetches and validates the artifact. Any failure keeps the
// existing handle; nothing is partially published.
func (m *Manager) loadHandle(ctx context.Context, name string, ver registry.Version) (*Handle, error) {
	art, err := m.registry.FetchArtifact(ctx, name, ver.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	model, err := m.loader(art.Model, art.Schema)
	if err != nil {
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	return &Handle{
		Name:     name,
		Version:  ver.ID,
		Stage:    ver.Stage,
		LoadedAt: time.Now().UTC(),
		Model:    model,
	}, nil
}

func (m *Manager) nameToken(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.nameTokens[name]
	if !ok {
		token = make(chan struct{}, 1)
		m.nameTokens[name] = token
	}
	return token
}

// Preload resolves and loads the configured startup models, waiting at most
// until ctx's deadline. Individual failures are logged; the first resolution
// error is returned so callers can decide whether to keep serving.
func (m *Manager) Preload(ctx context.Context, specs []string) error {
	var pending []<-chan struct{}
	var firstErr error
	for _, spec := range specs {
		name, ref, err := config.SplitPreloadSpec(spec)
		if err != nil {
			return err
		}
		ver, err := m.resolveRef(ctx, name, ref)
		if err != nil {
			m.log.Warn().Err(err).Str("model", name).Str("ref", ref).Msg("preload resolution failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		pending = append(pending, m.SubmitLoad(name, ver))
	}
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return firstErr
}

// resolveRef maps a request or preload version reference to a concrete
// registry version: "latest" picks the numerically greatest version,
// "production" applies the desired-version policy, an integer is exact, and
// anything else resolves as an alias.
func (m *Manager) resolveRef(ctx context.Context, name, ref string) (registry.Version, error) {
	switch ref {
	case "", "latest":
		versions, err := m.registry.ListVersions(ctx, name)
		if err != nil {
			return registry.Version{}, err
		}
		best := registry.Version{ID: -1}
		for _, v := range versions {
			if v.ID > best.ID {
				best = v
			}
		}
		if best.ID < 0 {
			return registry.Version{}, fmt.Errorf("no versions for %s: %w", name, registry.ErrNotFound)
		}
		return best, nil
	case registry.AliasProduction:
		return registry.DesiredVersion(ctx, m.registry, name)
	default:
		return registry.ResolveRef(ctx, m.registry, name, ref)
	}
}

// ResolveAndLoad resolves ref for name and submits the load intent. Used by
// the admin reload endpoint; returns without waiting for completion.
func (m *Manager) ResolveAndLoad(ctx context.Context, name, ref string) error {
	ver, err := m.resolveRef(ctx, name, ref)
	if err != nil {
		return err
	}
	m.SubmitLoad(name, ver)
	return nil
}
