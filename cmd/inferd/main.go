package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/cache"
	"inferd/internal/config"
	"inferd/internal/feature"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/pipeline"
	"inferd/internal/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		addr        string
		registryURL string
		redisAddr   string
		featureDB   string
		preload     []string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:           "inferd",
		Short:         "Real-time ML inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{}
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			// Flags and environment override file values.
			if addr != "" {
				cfg.Addr = addr
			}
			if registryURL != "" {
				cfg.RegistryURL = registryURL
			}
			if redisAddr != "" {
				cfg.RedisAddr = redisAddr
			}
			if featureDB != "" {
				cfg.FeatureDBPath = featureDB
			}
			if len(preload) > 0 {
				cfg.PreloadModels = preload
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return run(cfg, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("INFERD_CONFIG"), "Path to config file (.yaml/.json/.toml)")
	cmd.Flags().StringVar(&addr, "addr", envDefault("INFERD_ADDR", ""), "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&registryURL, "registry-url", envDefault("INFERD_REGISTRY_URL", ""), "Model registry base URL")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", envDefault("INFERD_REDIS_ADDR", ""), "Redis address for the remote feature cache (optional)")
	cmd.Flags().StringVar(&featureDB, "feature-db", envDefault("INFERD_FEATURE_DB", ""), "Path to the durable feature store (optional)")
	cmd.Flags().StringSliceVar(&preload, "preload", splitPreloadEnv(), "Models to preload, name:version|alias")
	cmd.Flags().StringVar(&logLevel, "log-level", envDefault("INFERD_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	return cmd
}

func splitPreloadEnv() []string {
	v := os.Getenv("INFERD_PRELOAD_MODELS")
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func run(cfg config.Config, logLevel string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	if cfg.RegistryURL == "" {
		return fmt.Errorf("config: registry_url is required")
	}
	httpReg, err := registry.NewHTTPClient(cfg.RegistryURL)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	reg := registry.WithRetry(httpReg)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
	}

	featureTTL := time.Duration(cfg.FeatureCacheTTLSeconds) * time.Second
	var (
		store   *feature.Store
		sqlite  *feature.SQLiteTable
		predLog *feature.PredictionLog
	)
	if cfg.FeatureDBPath != "" {
		sqlite, err = feature.OpenSQLiteTable(cfg.FeatureDBPath)
		if err != nil {
			return fmt.Errorf("feature store: %w", err)
		}
		defer sqlite.Close()
		var tier1 feature.KV
		if redisClient != nil {
			tier1 = feature.NewRedisKV(redisClient, featureTTL)
		} else {
			tier1 = feature.NewMemoryKV(cfg.FeatureCacheCapacity, featureTTL)
		}
		store = feature.NewStore(tier1, sqlite, log)
	}
	if redisClient != nil {
		predLog = feature.NewPredictionLog(redisClient)
	}

	predCache := cache.NewPredictionCache(
		cfg.PredictionCacheCapacity,
		time.Duration(cfg.PredictionCacheTTLSeconds)*time.Second,
	)

	mgr := manager.New(manager.Config{
		Registry:    reg,
		Cache:       predCache,
		DrainWindow: time.Duration(cfg.ModelDrainWindowSeconds) * time.Second,
		Logger:      log,
	})
	defer mgr.Close()
	mgr.SetReadyWhenEmpty(len(cfg.PreloadModels) == 0)

	pipe := pipeline.New(pipeline.Config{
		Manager:       mgr,
		Cache:         predCache,
		Features:      store,
		PredictionLog: predLog,
		BatchWorkers:  cfg.BatchWorkers,
		Logger:        log,
	})

	poller := manager.NewPoller(
		mgr, reg,
		time.Duration(cfg.PollerIntervalSeconds)*time.Second,
		cfg.PollerJitterFraction,
		log,
	)
	for _, spec := range cfg.PreloadModels {
		name, _, err := config.SplitPreloadSpec(spec)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		poller.Track(name)
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	// Warm up before serving traffic; readiness gates on the result.
	if len(cfg.PreloadModels) > 0 {
		warmupCtx, cancel := context.WithTimeout(baseCtx, time.Duration(cfg.WarmupDeadlineSeconds)*time.Second)
		if err := mgr.Preload(warmupCtx, cfg.PreloadModels); err != nil {
			log.Warn().Err(err).Msg("preload incomplete; poller will retry")
		}
		cancel()
	}

	pollerCtx, cancelPoller := context.WithCancel(baseCtx)
	defer cancelPoller()
	go poller.Run(pollerCtx)

	mux := httpapi.NewMux(httpapi.Options{
		Pipeline:           pipe,
		Manager:            mgr,
		Poller:             poller,
		BaseContext:        baseCtx,
		HealthChecks:       healthChecks(reg, redisClient, sqlite),
		QueueCapacity:      cfg.RequestQueueCapacity,
		RequestTimeout:     time.Duration(cfg.RequestTimeoutMillis) * time.Millisecond,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		CORSEnabled:        cfg.CORSEnabled,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             log,
	})

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("inferd listening")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-stop:
	}

	// Stop accepting, then wait for in-flight requests up to the deadline.
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownDeadlineSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	cancelPoller()
	cancelBase()
	return nil
}

// healthChecks probes each configured dependency with a light operation.
func healthChecks(reg registry.Client, redisClient *redis.Client, sqlite *feature.SQLiteTable) func(ctx context.Context) map[string]string {
	return func(ctx context.Context) map[string]string {
		checks := map[string]string{"api": "healthy"}
		if _, err := reg.ListVersions(ctx, "__health__"); err != nil && registry.IsTransient(err) {
			checks["registry"] = "unhealthy"
		} else {
			checks["registry"] = "healthy"
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
			} else {
				checks["redis"] = "healthy"
			}
		} else {
			checks["redis"] = "unavailable"
		}
		if sqlite == nil {
			checks["feature_db"] = "unavailable"
		} else {
			checks["feature_db"] = "healthy"
		}
		return checks
	}
}
