package types

// PredictionRequest is the payload for POST /predict.
type PredictionRequest struct {
	// Required model name.
	// example: fraud_detector
	ModelName string `json:"model_name" example:"fraud_detector"`
	// Optional version: "latest" (default) or an exact numeric version.
	// example: latest
	ModelVersion string `json:"model_version,omitempty" example:"latest"`
	// Feature name -> value map. Values are numbers, booleans or strings.
	Features map[string]any `json:"features"`
	// Optional entity id for supplementary feature-store lookup.
	// example: user_12345
	EntityID string `json:"entity_id,omitempty" example:"user_12345"`
	// Feature group queried when entity_id is set.
	// example: user_profile
	FeatureGroup string `json:"feature_group,omitempty" example:"user_profile"`
	// If true and the model supports it, class probabilities are returned.
	ReturnProbabilities bool `json:"return_probabilities,omitempty"`
	// Optional caller-supplied request id; generated when absent.
	RequestID string `json:"request_id,omitempty"`
}

// PredictionResponse is the payload returned by POST /predict.
type PredictionResponse struct {
	Prediction float64 `json:"prediction"`
	// Present only when requested and supported by the model.
	Probabilities []float64 `json:"probabilities,omitempty"`
	ModelName     string    `json:"model_name"`
	ModelVersion  string    `json:"model_version"`
	LatencyMillis float64   `json:"latency_ms"`
	CacheHit      bool      `json:"cache_hit"`
	RequestID     string    `json:"request_id,omitempty"`
}

// BatchPredictionRequest is the payload for POST /predict/batch.
type BatchPredictionRequest struct {
	ModelName           string           `json:"model_name"`
	ModelVersion        string           `json:"model_version,omitempty"`
	Instances           []map[string]any `json:"instances"`
	ReturnProbabilities bool             `json:"return_probabilities,omitempty"`
}

// BatchResult is one entry of a batch response. Exactly one of the embedded
// response or Error is populated; a failed instance never aborts the batch.
type BatchResult struct {
	PredictionResponse
	Error string `json:"error,omitempty"`
}

// BatchPredictionResponse preserves request order: Results[i] corresponds to
// Instances[i].
type BatchPredictionResponse struct {
	Results []BatchResult `json:"results"`
}

// ReloadRequest is the payload for POST /models/reload. An empty name reloads
// every tracked model; an empty version re-resolves the production alias.
type ReloadRequest struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
