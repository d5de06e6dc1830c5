package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inferd/internal/manager"
	"inferd/internal/pipeline"
	"inferd/pkg/types"
)

// Options wires the HTTP front end to the rest of the server.
type Options struct {
	Pipeline *pipeline.Pipeline
	Manager  *manager.Manager
	Poller   *manager.Poller

	// BaseContext is cancelled on shutdown so in-flight handlers stop.
	BaseContext context.Context

	// HealthChecks reports per-dependency status strings for GET /health.
	HealthChecks func(ctx context.Context) map[string]string

	QueueCapacity  int
	RequestTimeout time.Duration
	MaxBodyBytes   int64

	CORSEnabled        bool
	CORSAllowedOrigins []string

	Logger zerolog.Logger
}

type server struct {
	opts      Options
	admission *admission
	log       zerolog.Logger
}

// NewMux builds the router: prediction endpoints, model administration,
// health/readiness and the metrics scrape endpoint.
func NewMux(opts Options) http.Handler {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	s := &server{
		opts:      opts,
		admission: newAdmission(opts.QueueCapacity),
		log:       opts.Logger.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if opts.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/predict", s.handlePredict)
	r.Post("/predict/batch", s.handlePredictBatch)
	r.Get("/models", s.handleListModels)
	r.Post("/models/reload", s.handleReload)
	r.Get("/models/updates/status", s.handlePollerStatus)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJSONBody enforces content type and body size before decoding into v.
func (s *server) decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := decodeStrict(r.Body, v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req types.PredictionRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if !s.admission.tryAcquire() {
		incrementBackpressure("queue_full")
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusTooManyRequests, "request queue full")
		return
	}
	defer s.admission.release()

	joined, cancel := joinContexts(s.opts.BaseContext, r.Context())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(joined, s.opts.RequestTimeout)
	defer cancelTimeout()

	start := time.Now()
	resp, err := s.opts.Pipeline.Predict(ctx, req)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	s.logRequest(r, http.StatusOK, req.ModelName, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var req types.BatchPredictionRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if !s.admission.tryAcquire() {
		incrementBackpressure("queue_full")
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusTooManyRequests, "request queue full")
		return
	}
	defer s.admission.release()

	joined, cancel := joinContexts(s.opts.BaseContext, r.Context())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(joined, s.opts.RequestTimeout)
	defer cancelTimeout()

	start := time.Now()
	resp, err := s.opts.Pipeline.PredictBatch(ctx, req)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	s.logRequest(r, http.StatusOK, req.ModelName, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Manager.List())
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	var req types.ReloadRequest
	if r.ContentLength != 0 {
		if !s.decodeJSONBody(w, r, &req) {
			return
		}
	}
	names := []string{req.Name}
	if req.Name == "" {
		if s.opts.Poller == nil {
			writeJSONError(w, http.StatusBadRequest, "name is required")
			return
		}
		names = s.opts.Poller.Tracked()
	} else if s.opts.Poller != nil {
		s.opts.Poller.Track(req.Name)
	}
	ref := req.Version
	if ref == "" {
		ref = "production"
	}
	// Load intents settle in the background; the response only acknowledges
	// the submission.
	for _, name := range names {
		go func(name string) {
			ctx, cancel := context.WithTimeout(s.opts.BaseContext, time.Minute)
			defer cancel()
			if err := s.opts.Manager.ResolveAndLoad(ctx, name, ref); err != nil {
				s.log.Warn().Err(err).Str("model", name).Msg("reload intent failed")
			}
		}(name)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (s *server) handlePollerStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Poller == nil {
		writeJSON(w, http.StatusOK, types.PollerStatus{Enabled: false})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Poller.Status())
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{Status: "healthy"}
	if s.opts.HealthChecks != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Checks = s.opts.HealthChecks(ctx)
		for _, v := range resp.Checks {
			if v != "healthy" && v != "unavailable" {
				resp.Status = "degraded"
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Manager.Ready() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("loading"))
}

// writePipelineError maps typed pipeline errors to status codes.
func (s *server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	// Client disconnect or shutdown: nothing useful to write.
	if r.Context().Err() != nil || s.opts.BaseContext.Err() != nil {
		return
	}
	var status int
	switch {
	case pipeline.IsTimeout(err):
		status = http.StatusGatewayTimeout
	case pipeline.IsValidation(err):
		status = http.StatusBadRequest
	case manager.IsModelNotReady(err):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	case pipeline.IsFeatureStore(err):
		status = http.StatusBadGateway
	default:
		if he, ok := err.(HTTPError); ok {
			status = he.StatusCode()
		} else {
			status = http.StatusInternalServerError
		}
	}
	s.logRequest(r, status, "", 0)
	writeJSONError(w, status, err.Error())
}

// retryAfterSeconds hints clients when a not-ready model is worth retrying;
// roughly one poll cycle in the common case is too long, so advertise a
// short interval and let back-pressure do the rest.
const retryAfterSeconds = 5

func (s *server) logRequest(r *http.Request, status int, model string, dur time.Duration) {
	z := s.log.Info().Str("path", r.URL.Path).Int("status", status)
	if model != "" {
		z = z.Str("model", model)
	}
	if dur > 0 {
		z = z.Dur("dur", dur)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	z.Msg("request")
}
