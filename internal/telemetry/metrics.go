// Package telemetry defines the Prometheus instruments exported by the
// service. Instrument names are contracts with dashboards and alerts; do not
// rename them.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prediction status labels. The set is closed to bound label cardinality.
const (
	StatusSuccess           = "success"
	StatusCacheHit          = "cache_hit"
	StatusValidationError   = "validation_error"
	StatusModelNotReady     = "model_not_ready"
	StatusFeatureStoreError = "feature_store_error"
	StatusPredictorError    = "predictor_error"
	StatusTimeout           = "timeout"
)

var predictionBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
}

var (
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total predictions made",
		},
		[]string{"model_name", "model_version", "status"},
	)

	PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ml_prediction_duration_seconds",
			Help:    "Prediction latency in seconds",
			Buckets: predictionBuckets,
		},
		[]string{"model_name", "model_version"},
	)

	ModelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_model_loads_total",
			Help: "Total model loads",
		},
		[]string{"model_name", "model_version", "status"},
	)

	ModelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ml_model_load_duration_seconds",
			Help: "Model load duration in seconds",
		},
		[]string{"model_name", "model_version"},
	)

	CurrentModelVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ml_current_model_version",
			Help: "Currently published model version",
		},
		[]string{"model_name"},
	)

	FeatureCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ml_feature_cache_hits_total",
		Help: "Feature store tier-1 cache hits",
	})
	FeatureCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ml_feature_cache_misses_total",
		Help: "Feature store tier-1 cache misses",
	})

	PredictionCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ml_prediction_cache_hits_total",
		Help: "Prediction cache hits",
	})
	PredictionCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ml_prediction_cache_misses_total",
		Help: "Prediction cache misses",
	})
)

func init() {
	prometheus.MustRegister(
		PredictionsTotal,
		PredictionDuration,
		ModelLoadsTotal,
		ModelLoadDuration,
		CurrentModelVersion,
		FeatureCacheHits,
		FeatureCacheMisses,
		PredictionCacheHits,
		PredictionCacheMisses,
	)
}
