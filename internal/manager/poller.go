package manager

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/registry"
	"inferd/pkg/types"
)

// Poller periodically reconciles desired registry versions against the
// published handles. It is the only steady-state initiator of loads; the
// admin reload endpoint funnels through the same load-intent mechanism.
// A single logical poller runs per server; ticks are non-reentrant.
type Poller struct {
	mgr      *Manager
	registry registry.Client
	interval time.Duration
	jitter   float64
	log      zerolog.Logger
	rng      *rand.Rand

	mu        sync.Mutex
	tracked   map[string]bool
	lastCheck time.Time
	lastErr   string
}

// NewPoller builds a poller over mgr. jitter is the fraction of interval by
// which each tick is randomized (±).
func NewPoller(mgr *Manager, reg registry.Client, interval time.Duration, jitter float64, log zerolog.Logger) *Poller {
	return &Poller{
		mgr:      mgr,
		registry: reg,
		interval: interval,
		jitter:   jitter,
		log:      log.With().Str("component", "registry_poller").Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		tracked:  make(map[string]bool),
	}
}

// Track adds name to the reconciled set.
func (p *Poller) Track(name string) {
	p.mu.Lock()
	p.tracked[name] = true
	p.mu.Unlock()
}

// Tracked returns the tracked model names, sorted.
func (p *Poller) Tracked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.tracked))
	for name := range p.tracked {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Status reports the poller state for the admin endpoint.
func (p *Poller) Status() types.PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.tracked))
	for name := range p.tracked {
		names = append(names, name)
	}
	sort.Strings(names)
	return types.PollerStatus{
		Enabled:              true,
		CheckIntervalSeconds: int(p.interval / time.Second),
		TrackedModels:        names,
		LastCheck:            p.lastCheck,
		LastError:            p.lastErr,
	}
}

// Run drives the poll loop until ctx is cancelled. Each tick waits for the
// previous one; a slow registry stretches the period rather than stacking
// ticks.
func (p *Poller) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(p.nextInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.tick(ctx)
		}
	}
}

// nextInterval jitters the base interval by ±jitter to avoid thundering-herd
// against the registry.
func (p *Poller) nextInterval() time.Duration {
	if p.jitter <= 0 {
		return p.interval
	}
	p.mu.Lock()
	f := 1 + p.jitter*(2*p.rng.Float64()-1)
	p.mu.Unlock()
	return time.Duration(float64(p.interval) * f)
}

// tick reconciles every tracked name once. Failures are terminal for the
// cycle only; existing handles are kept and the next tick retries.
func (p *Poller) tick(ctx context.Context) {
	names := p.Tracked()
	var lastErr string
	for _, name := range names {
		if err := p.reconcile(ctx, name); err != nil {
			lastErr = err.Error()
			p.log.Warn().Err(err).Str("model", name).Msg("poll reconcile failed")
		}
	}
	p.mu.Lock()
	p.lastCheck = time.Now().UTC()
	p.lastErr = lastErr
	p.mu.Unlock()
}

// reconcile submits a load intent when the desired version differs from the
// published one. It never waits for the load; a still-unconverged model is
// simply re-submitted on the next tick.
func (p *Poller) reconcile(ctx context.Context, name string) error {
	desired, err := registry.DesiredVersion(ctx, p.registry, name)
	if err != nil {
		return err
	}
	if cur := p.mgr.Current(name); cur != nil && cur.Version == desired.ID {
		return nil
	}
	p.mgr.SubmitLoad(name, desired)
	return nil
}
