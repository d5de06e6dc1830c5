package pipeline

import (
	"context"
	"sync"

	"inferd/pkg/types"
)

// PredictBatch runs every instance through the single-prediction path on a
// bounded worker pool. Results preserve request order; a failed instance
// reports its error in place and never aborts the batch.
func (p *Pipeline) PredictBatch(ctx context.Context, req types.BatchPredictionRequest) (types.BatchPredictionResponse, error) {
	if req.ModelName == "" {
		return types.BatchPredictionResponse{}, NewValidationError("model_name is required")
	}
	if len(req.Instances) == 0 {
		return types.BatchPredictionResponse{}, NewValidationError("instances must be a non-empty array")
	}

	results := make([]types.BatchResult, len(req.Instances))
	sem := make(chan struct{}, p.batchWorkers)
	var wg sync.WaitGroup

	for i, instance := range req.Instances {
		wg.Add(1)
		go func(i int, features map[string]any) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resp, err := p.Predict(ctx, types.PredictionRequest{
				ModelName:           req.ModelName,
				ModelVersion:        req.ModelVersion,
				Features:            features,
				ReturnProbabilities: req.ReturnProbabilities,
			})
			if err != nil {
				results[i] = types.BatchResult{Error: err.Error()}
				return
			}
			results[i] = types.BatchResult{PredictionResponse: resp}
		}(i, instance)
	}
	wg.Wait()

	return types.BatchPredictionResponse{Results: results}, nil
}
