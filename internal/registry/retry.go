package registry

import (
	"context"
	"time"
)

// Retry policy for transient registry failures: exponential backoff starting
// at 0.5s, at most maxAttempts calls per operation, so the waits between the
// five calls are 0.5s 1s 2s 4s.
const maxAttempts = 5

var baseBackoff = 500 * time.Millisecond

type retryingClient struct {
	inner Client
	sleep func(context.Context, time.Duration) error
}

// WithRetry wraps c so transient failures are retried with capped exponential
// backoff. NotFound and other terminal errors pass through immediately.
func WithRetry(c Client) Client {
	return &retryingClient{inner: c, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *retryingClient) do(ctx context.Context, op func() error) error {
	backoff := baseBackoff
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if serr := r.sleep(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
		}
		if err = op(); err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}

func (r *retryingClient) ListVersions(ctx context.Context, name string) ([]Version, error) {
	var out []Version
	err := r.do(ctx, func() error {
		var opErr error
		out, opErr = r.inner.ListVersions(ctx, name)
		return opErr
	})
	return out, err
}

func (r *retryingClient) ResolveAlias(ctx context.Context, name, alias string) (Version, error) {
	var out Version
	err := r.do(ctx, func() error {
		var opErr error
		out, opErr = r.inner.ResolveAlias(ctx, name, alias)
		return opErr
	})
	return out, err
}

func (r *retryingClient) FetchArtifact(ctx context.Context, name string, version int) (Artifact, error) {
	var out Artifact
	err := r.do(ctx, func() error {
		var opErr error
		out, opErr = r.inner.FetchArtifact(ctx, name, version)
		return opErr
	})
	return out, err
}
