package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient talks to a registry over a minimal JSON protocol:
//
//	GET {base}/api/models/{name}/versions            -> [Version]
//	GET {base}/api/models/{name}/aliases/{alias}     -> Version
//	GET {base}/api/models/{name}/artifacts/{version} -> {"model": ..., "schema": ...}
//
// 404 maps to ErrNotFound; 5xx and transport errors are transient.
type HTTPClient struct {
	base *url.URL
	hc   *http.Client
}

// NewHTTPClient builds a registry client for baseURL. The returned client is
// not retried; wrap with WithRetry.
func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("registry url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("registry url %q must be absolute", baseURL)
	}
	return &HTTPClient{
		base: u,
		hc:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return MarkTransient(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("GET %s: %w", path, ErrNotFound)
	case resp.StatusCode >= 500:
		return MarkTransient(fmt.Errorf("GET %s: registry returned %d", path, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("GET %s: registry returned %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return MarkTransient(fmt.Errorf("GET %s: read body: %w", path, err))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) ListVersions(ctx context.Context, name string) ([]Version, error) {
	var out []Version
	path := fmt.Sprintf("/api/models/%s/versions", url.PathEscape(name))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ResolveAlias(ctx context.Context, name, alias string) (Version, error) {
	var out Version
	path := fmt.Sprintf("/api/models/%s/aliases/%s", url.PathEscape(name), url.PathEscape(alias))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return Version{}, err
	}
	return out, nil
}

type artifactPayload struct {
	Model  json.RawMessage `json:"model"`
	Schema json.RawMessage `json:"schema"`
}

func (c *HTTPClient) FetchArtifact(ctx context.Context, name string, version int) (Artifact, error) {
	var out artifactPayload
	path := fmt.Sprintf("/api/models/%s/artifacts/%d", url.PathEscape(name), version)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return Artifact{}, err
	}
	if len(out.Model) == 0 || len(out.Schema) == 0 {
		return Artifact{}, fmt.Errorf("artifact %s/%d missing model or schema", name, version)
	}
	return Artifact{Model: out.Model, Schema: out.Schema}, nil
}
