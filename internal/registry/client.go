// Package registry defines the read-only surface of the external model
// registry and the retry policy applied to it. The core never hard-codes a
// specific registry implementation; everything downstream depends on Client.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage is the registry-assigned lifecycle label of a model version.
type Stage string

const (
	StageStaging    Stage = "staging"
	StageProduction Stage = "production"
	StageArchived   Stage = "archived"
	StageNone       Stage = "none"
)

// AliasProduction is the alias consulted first when resolving the desired
// version of a tracked model.
const AliasProduction = "production"

// Version describes one registered model version.
type Version struct {
	ID        int       `json:"id"`
	Stage     Stage     `json:"stage"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Artifact carries the raw model payload and its schema descriptor. Both are
// opaque here; the artifact loader parses them.
type Artifact struct {
	Model  []byte
	Schema []byte
}

// Client is the read-only registry surface the core depends on.
type Client interface {
	// ListVersions returns all known versions of name.
	ListVersions(ctx context.Context, name string) ([]Version, error)
	// ResolveAlias resolves a named alias to a version. Returns ErrNotFound
	// if the model or alias does not exist.
	ResolveAlias(ctx context.Context, name, alias string) (Version, error)
	// FetchArtifact downloads the artifact bytes and schema descriptor for an
	// exact version. The loader requires both.
	FetchArtifact(ctx context.Context, name string, version int) (Artifact, error)
}

// ErrNotFound indicates a missing model, version or alias. Terminal for the
// current poll cycle; never retried.
var ErrNotFound = errors.New("registry: not found")

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so IsTransient reports true. Implementations mark
// timeouts and 5xx responses; everything else is terminal for the cycle.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is retryable with backoff.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// DesiredVersion resolves the version the server should be running for name:
// the production alias when present, otherwise the numerically greatest
// version with stage=production. Returns ErrNotFound when neither exists.
func DesiredVersion(ctx context.Context, c Client, name string) (Version, error) {
	v, err := c.ResolveAlias(ctx, name, AliasProduction)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Version{}, err
	}
	versions, err := c.ListVersions(ctx, name)
	if err != nil {
		return Version{}, err
	}
	best := Version{ID: -1}
	for _, cand := range versions {
		if cand.Stage != StageProduction {
			continue
		}
		if cand.ID > best.ID {
			best = cand
		}
	}
	if best.ID < 0 {
		return Version{}, fmt.Errorf("no production version for %s: %w", name, ErrNotFound)
	}
	return best, nil
}

// ResolveRef resolves a request-supplied version reference: an exact numeric
// version is looked up directly, anything else is treated as an alias.
func ResolveRef(ctx context.Context, c Client, name, ref string) (Version, error) {
	if id, ok := parseVersionID(ref); ok {
		versions, err := c.ListVersions(ctx, name)
		if err != nil {
			return Version{}, err
		}
		for _, v := range versions {
			if v.ID == id {
				return v, nil
			}
		}
		return Version{}, fmt.Errorf("version %d of %s: %w", id, name, ErrNotFound)
	}
	return c.ResolveAlias(ctx, name, ref)
}

func parseVersionID(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	id := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		id = id*10 + int(r-'0')
	}
	return id, true
}
