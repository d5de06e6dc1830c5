package pipeline

import (
	"context"
	"testing"

	"inferd/pkg/types"
)

func TestBatchPreservesOrderAndIsolatesErrors(t *testing.T) {
	f := newFixture(t)
	f.load(t, 1)

	okA := validRequest().Features
	okC := map[string]any{
		"amount":      10.0,
		"hour_of_day": 2.0,
		"is_weekend":  false,
	}
	malformed := map[string]any{"hour_of_day": 1.0} // missing amount

	resp, err := f.pipe.PredictBatch(context.Background(), types.BatchPredictionRequest{
		ModelName: "fraud_detector",
		Instances: []map[string]any{okA, malformed, okC},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Error != "" || resp.Results[2].Error != "" {
		t.Fatalf("valid instances must succeed: %+v", resp.Results)
	}
	if resp.Results[1].Error == "" {
		t.Fatalf("malformed instance must carry its error in place")
	}
	if resp.Results[0].ModelVersion != "1" || resp.Results[2].ModelVersion != "1" {
		t.Fatalf("results out of order: %+v", resp.Results)
	}
	// okA scores positive, okC scores negative.
	if resp.Results[0].Prediction != 1 || resp.Results[2].Prediction != 0 {
		t.Fatalf("predictions mapped to wrong instances: %+v", resp.Results)
	}
}

func TestBatchRejectsEmptyInstances(t *testing.T) {
	f := newFixture(t)
	f.load(t, 1)

	_, err := f.pipe.PredictBatch(context.Background(), types.BatchPredictionRequest{
		ModelName: "fraud_detector",
	})
	if err == nil || !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = f.pipe.PredictBatch(context.Background(), types.BatchPredictionRequest{
		Instances: []map[string]any{{"amount": 1.0}},
	})
	if err == nil || !IsValidation(err) {
		t.Fatalf("expected validation error for missing model name, got %v", err)
	}
}
