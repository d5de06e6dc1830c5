// Package pipeline implements the end-to-end prediction path: request
// validation, feature retrieval and transformation, cache lookup, model
// invocation and telemetry. Requests run concurrently; the only shared
// mutable state touched is the prediction cache.
package pipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/artifact"
	"inferd/internal/cache"
	"inferd/internal/feature"
	"inferd/internal/manager"
	"inferd/internal/telemetry"
	"inferd/pkg/types"
)

// Config carries the pipeline's collaborators. Features and PredictionLog
// are optional.
type Config struct {
	Manager       *manager.Manager
	Cache         *cache.PredictionCache
	Features      *feature.Store
	PredictionLog *feature.PredictionLog
	BatchWorkers  int
	Logger        zerolog.Logger
}

// Pipeline executes prediction requests against published model handles.
type Pipeline struct {
	mgr          *manager.Manager
	cache        *cache.PredictionCache
	features     *feature.Store
	predLog      *feature.PredictionLog
	batchWorkers int
	log          zerolog.Logger
}

const defaultFeatureGroup = "default"

// New builds a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 8
	}
	return &Pipeline{
		mgr:          cfg.Manager,
		cache:        cfg.Cache,
		features:     cfg.Features,
		predLog:      cfg.PredictionLog,
		batchWorkers: cfg.BatchWorkers,
		log:          cfg.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Predict runs one request through the full path. The returned error is one
// of the typed pipeline errors (or a manager not-ready error); telemetry is
// recorded exactly once per completed request.
func (p *Pipeline) Predict(ctx context.Context, req types.PredictionRequest) (types.PredictionResponse, error) {
	start := time.Now()
	resp, err := p.predict(ctx, start, req)
	p.record(req, resp, err, time.Since(start))
	return resp, err
}

// record increments ml_predictions_total exactly once and observes latency
// for completed predictions.
func (p *Pipeline) record(req types.PredictionRequest, resp types.PredictionResponse, err error, elapsed time.Duration) {
	version := resp.ModelVersion
	if version == "" {
		version = req.ModelVersion
		if version == "" {
			version = "latest"
		}
	}
	status := telemetry.StatusSuccess
	switch {
	case err == nil && resp.CacheHit:
		status = telemetry.StatusCacheHit
	case err == nil:
	case IsTimeout(err):
		status = telemetry.StatusTimeout
	case IsValidation(err):
		status = telemetry.StatusValidationError
	case manager.IsModelNotReady(err):
		status = telemetry.StatusModelNotReady
	case IsFeatureStore(err):
		status = telemetry.StatusFeatureStoreError
	default:
		status = telemetry.StatusPredictorError
	}
	telemetry.PredictionsTotal.WithLabelValues(req.ModelName, version, status).Inc()
	if err == nil {
		telemetry.PredictionDuration.WithLabelValues(req.ModelName, version).Observe(elapsed.Seconds())
	}
}

func (p *Pipeline) predict(ctx context.Context, start time.Time, req types.PredictionRequest) (types.PredictionResponse, error) {
	if req.ModelName == "" {
		return types.PredictionResponse{}, NewValidationError("model_name is required")
	}
	if req.Features == nil {
		return types.PredictionResponse{}, NewValidationError("features object is required")
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	handle, err := p.resolveHandle(req.ModelName, req.ModelVersion)
	if err != nil {
		return types.PredictionResponse{}, err
	}
	schema := handle.Schema()

	coerced, err := schema.CoerceKnown(req.Features)
	if err != nil {
		return types.PredictionResponse{}, err
	}

	key := cache.Fingerprint(handle.Name, handle.VersionString(), coerced)
	if cached, ok := p.cache.Get(key); ok {
		cached.CacheHit = true
		cached.LatencyMillis = float64(time.Since(start)) / float64(time.Millisecond)
		cached.RequestID = requestID
		return cached, nil
	}

	merged, err := p.mergeStoreFeatures(ctx, req, schema, coerced)
	if err != nil {
		return types.PredictionResponse{}, err
	}

	filled, err := schema.FillAndCheck(merged)
	if err != nil {
		return types.PredictionResponse{}, err
	}

	if err := ctx.Err(); err != nil {
		return types.PredictionResponse{}, err
	}

	vector, err := feature.BuildVector(schema, filled)
	if err != nil {
		return types.PredictionResponse{}, &predictorError{err: err}
	}

	predictor := handle.Predictor()
	prediction, err := predictor.Predict(vector)
	if err != nil {
		return types.PredictionResponse{}, &predictorError{err: err}
	}
	var probabilities []float64
	if req.ReturnProbabilities && predictor.HasProba() {
		probabilities, err = predictor.PredictProba(vector)
		if err != nil {
			return types.PredictionResponse{}, &predictorError{err: err}
		}
	}

	resp := types.PredictionResponse{
		Prediction:    prediction,
		Probabilities: probabilities,
		ModelName:     handle.Name,
		ModelVersion:  handle.VersionString(),
		LatencyMillis: float64(time.Since(start)) / float64(time.Millisecond),
		CacheHit:      false,
	}
	// Cached copy carries no request id; each hit stamps its own.
	p.cache.Put(key, resp)
	resp.RequestID = requestID

	if p.predLog != nil {
		go p.appendPredictionLog(handle.Name, filled, prediction)
	}
	return resp, nil
}

// resolveHandle picks the handle a request runs against. "latest" (or
// absent) takes the current handle; an exact numeric version may still be
// served from the draining set during a swap.
func (p *Pipeline) resolveHandle(name, ref string) (*manager.Handle, error) {
	switch ref {
	case "", "latest":
		if h := p.mgr.Current(name); h != nil {
			return h, nil
		}
		return nil, manager.ErrModelNotReady(name, "")
	default:
		id, err := strconv.Atoi(ref)
		if err != nil || id < 0 {
			return nil, NewValidationError("model_version must be \"latest\" or a numeric version")
		}
		if h := p.mgr.Lookup(name, id); h != nil {
			return h, nil
		}
		return nil, manager.ErrModelNotReady(name, ref)
	}
}

// mergeStoreFeatures fetches supplementary features for the request's entity
// and merges them under the request's own values (request wins). A store
// failure is ignored when the request alone already satisfies the schema,
// surfaced otherwise.
func (p *Pipeline) mergeStoreFeatures(ctx context.Context, req types.PredictionRequest, schema artifact.Schema, coerced map[string]any) (map[string]any, error) {
	if p.features == nil || req.EntityID == "" {
		return coerced, nil
	}
	group := req.FeatureGroup
	if group == "" {
		group = defaultFeatureGroup
	}
	row, err := p.features.Get(ctx, feature.Key{EntityID: req.EntityID, Group: group})
	if err != nil {
		if errors.Is(err, feature.ErrRowNotFound) {
			return coerced, nil
		}
		if _, checkErr := schema.FillAndCheck(coerced); checkErr == nil {
			// Supplementary only; the request already has everything.
			p.log.Warn().Err(err).Str("entity_id", req.EntityID).Msg("supplementary feature fetch failed")
			return coerced, nil
		}
		return nil, &featureStoreError{err: err}
	}
	known := make(map[string]bool, len(schema.Fields))
	for _, f := range schema.Fields {
		known[f.Name] = true
	}
	merged := make(map[string]any, len(coerced)+len(row.Values))
	for name, v := range row.Values {
		if known[name] {
			merged[name] = v
		}
	}
	for name, v := range coerced {
		merged[name] = v
	}
	return merged, nil
}

func (p *Pipeline) appendPredictionLog(model string, features map[string]any, prediction float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.predLog.Append(ctx, model, features, prediction); err != nil {
		p.log.Warn().Err(err).Str("model", model).Msg("prediction log append failed")
	}
}
