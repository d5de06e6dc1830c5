package config

import (
	"fmt"
	"strings"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr string `json:"listen_addr" yaml:"listen_addr" toml:"listen_addr"`

	// Registry
	RegistryURL string `json:"registry_url" yaml:"registry_url" toml:"registry_url"`

	// Poller
	PollerIntervalSeconds int     `json:"poller_interval_seconds" yaml:"poller_interval_seconds" toml:"poller_interval_seconds"`
	PollerJitterFraction  float64 `json:"poller_jitter_fraction" yaml:"poller_jitter_fraction" toml:"poller_jitter_fraction"`

	// Caches
	PredictionCacheCapacity   int `json:"prediction_cache_capacity" yaml:"prediction_cache_capacity" toml:"prediction_cache_capacity"`
	PredictionCacheTTLSeconds int `json:"prediction_cache_ttl_seconds" yaml:"prediction_cache_ttl_seconds" toml:"prediction_cache_ttl_seconds"`
	FeatureCacheCapacity      int `json:"feature_cache_capacity" yaml:"feature_cache_capacity" toml:"feature_cache_capacity"`
	FeatureCacheTTLSeconds    int `json:"feature_cache_ttl_seconds" yaml:"feature_cache_ttl_seconds" toml:"feature_cache_ttl_seconds"`

	// Model lifecycle
	ModelDrainWindowSeconds int      `json:"model_drain_window_seconds" yaml:"model_drain_window_seconds" toml:"model_drain_window_seconds"`
	PreloadModels           []string `json:"preload_models" yaml:"preload_models" toml:"preload_models"`
	WarmupDeadlineSeconds   int      `json:"warmup_deadline_seconds" yaml:"warmup_deadline_seconds" toml:"warmup_deadline_seconds"`

	// Request handling
	RequestTimeoutMillis    int   `json:"request_timeout_ms" yaml:"request_timeout_ms" toml:"request_timeout_ms"`
	RequestQueueCapacity    int   `json:"request_queue_capacity" yaml:"request_queue_capacity" toml:"request_queue_capacity"`
	BatchWorkers            int   `json:"batch_workers" yaml:"batch_workers" toml:"batch_workers"`
	MaxBodyBytes            int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	ShutdownDeadlineSeconds int   `json:"shutdown_deadline_seconds" yaml:"shutdown_deadline_seconds" toml:"shutdown_deadline_seconds"`

	// Feature store backends
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	FeatureDBPath string `json:"feature_db_path" yaml:"feature_db_path" toml:"feature_db_path"`

	// CORS (opt-in)
	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
}

// Defaults mirrored in docs; keep in sync with Validate bounds.
const (
	DefaultAddr                      = ":8080"
	DefaultPollerIntervalSeconds     = 60
	MinPollerIntervalSeconds         = 5
	DefaultPollerJitterFraction      = 0.1
	DefaultPredictionCacheCapacity   = 10000
	DefaultPredictionCacheTTLSeconds = 300
	DefaultFeatureCacheCapacity      = 100000
	DefaultFeatureCacheTTLSeconds    = 3600
	DefaultModelDrainWindowSeconds   = 30
	DefaultWarmupDeadlineSeconds     = 60
	DefaultRequestTimeoutMillis      = 2000
	DefaultRequestQueueCapacity      = 1024
	DefaultBatchWorkers              = 8
	DefaultMaxBodyBytes              = 1 << 20
	DefaultShutdownDeadlineSeconds   = 30
)

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.PollerIntervalSeconds == 0 {
		c.PollerIntervalSeconds = DefaultPollerIntervalSeconds
	}
	if c.PollerJitterFraction == 0 {
		c.PollerJitterFraction = DefaultPollerJitterFraction
	}
	if c.PredictionCacheCapacity == 0 {
		c.PredictionCacheCapacity = DefaultPredictionCacheCapacity
	}
	if c.PredictionCacheTTLSeconds == 0 {
		c.PredictionCacheTTLSeconds = DefaultPredictionCacheTTLSeconds
	}
	if c.FeatureCacheCapacity == 0 {
		c.FeatureCacheCapacity = DefaultFeatureCacheCapacity
	}
	if c.FeatureCacheTTLSeconds == 0 {
		c.FeatureCacheTTLSeconds = DefaultFeatureCacheTTLSeconds
	}
	if c.ModelDrainWindowSeconds == 0 {
		c.ModelDrainWindowSeconds = DefaultModelDrainWindowSeconds
	}
	if c.WarmupDeadlineSeconds == 0 {
		c.WarmupDeadlineSeconds = DefaultWarmupDeadlineSeconds
	}
	if c.RequestTimeoutMillis == 0 {
		c.RequestTimeoutMillis = DefaultRequestTimeoutMillis
	}
	if c.RequestQueueCapacity == 0 {
		c.RequestQueueCapacity = DefaultRequestQueueCapacity
	}
	if c.BatchWorkers == 0 {
		c.BatchWorkers = DefaultBatchWorkers
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.ShutdownDeadlineSeconds == 0 {
		c.ShutdownDeadlineSeconds = DefaultShutdownDeadlineSeconds
	}
}

// Validate reports the first configuration error found. Errors here are fatal
// at startup only.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.PollerIntervalSeconds < MinPollerIntervalSeconds {
		return fmt.Errorf("poller_interval_seconds must be >= %d, got %d", MinPollerIntervalSeconds, c.PollerIntervalSeconds)
	}
	if c.PollerJitterFraction < 0 || c.PollerJitterFraction >= 1 {
		return fmt.Errorf("poller_jitter_fraction must be in [0, 1), got %g", c.PollerJitterFraction)
	}
	if c.PredictionCacheCapacity < 0 || c.FeatureCacheCapacity < 0 {
		return fmt.Errorf("cache capacities must be non-negative")
	}
	if c.RequestQueueCapacity <= 0 {
		return fmt.Errorf("request_queue_capacity must be positive, got %d", c.RequestQueueCapacity)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("batch_workers must be positive, got %d", c.BatchWorkers)
	}
	for _, spec := range c.PreloadModels {
		if _, _, err := SplitPreloadSpec(spec); err != nil {
			return err
		}
	}
	return nil
}

// SplitPreloadSpec parses "name:version-or-alias" entries from preload_models.
// A bare "name" defaults to the production alias.
func SplitPreloadSpec(spec string) (name, version string, err error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return "", "", fmt.Errorf("empty preload model spec")
	}
	name, version, found := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("preload model spec %q has empty name", spec)
	}
	if !found || strings.TrimSpace(version) == "" {
		return name, "production", nil
	}
	return name, strings.TrimSpace(version), nil
}
