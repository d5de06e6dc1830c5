package artifact

import (
	"encoding/json"
	"fmt"
)

// Model binds a parsed predictor to its input schema. Published handles wrap
// exactly one Model; it is immutable after Load returns.
type Model struct {
	Predictor Predictor
	Schema    Schema
}

type predictorDoc struct {
	Type           string    `json:"type"`
	Classification bool      `json:"classification"`
	Weights        []float64 `json:"weights"`
	Bias           float64   `json:"bias"`
	Trees          []tree    `json:"trees"`
	Arity          int       `json:"arity"`
	LearningRate   float64   `json:"learning_rate"`
	BaseScore      float64   `json:"base_score"`
}

// Load parses artifact bytes plus schema descriptor and constructs a
// validated predictor. Any failure aborts the whole load; a Model is never
// partially constructed.
func Load(modelDoc, schemaDoc []byte) (*Model, error) {
	schema, err := ParseSchema(schemaDoc)
	if err != nil {
		return nil, err
	}
	var doc predictorDoc
	if err := json.Unmarshal(modelDoc, &doc); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	pred, err := build(&doc)
	if err != nil {
		return nil, err
	}
	if got, want := pred.InputArity(), schema.InputArity(); got != want {
		return nil, fmt.Errorf("schema declares %d input features but model expects %d", want, got)
	}
	// Probe with the canonical all-zeros vector; a predictor that cannot
	// survive it is refused.
	probe := make([]float64, pred.InputArity())
	if _, err := pred.Predict(probe); err != nil {
		return nil, fmt.Errorf("zero-vector probe failed: %w", err)
	}
	if pred.HasProba() {
		if _, err := pred.PredictProba(probe); err != nil {
			return nil, fmt.Errorf("zero-vector probability probe failed: %w", err)
		}
	}
	return &Model{Predictor: pred, Schema: schema}, nil
}

func build(doc *predictorDoc) (Predictor, error) {
	switch doc.Type {
	case "linear":
		if len(doc.Weights) == 0 {
			return nil, fmt.Errorf("linear artifact has no weights")
		}
		return &linearModel{
			weights:        doc.Weights,
			bias:           doc.Bias,
			classification: doc.Classification,
		}, nil
	case "tree_ensemble":
		if err := checkTrees(doc); err != nil {
			return nil, err
		}
		return &treeEnsemble{
			trees:          doc.Trees,
			arity:          doc.Arity,
			classification: doc.Classification,
		}, nil
	case "boosted_ensemble":
		if err := checkTrees(doc); err != nil {
			return nil, err
		}
		lr := doc.LearningRate
		if lr == 0 {
			lr = 1
		}
		return &boostedEnsemble{
			trees:          doc.Trees,
			arity:          doc.Arity,
			learningRate:   lr,
			baseScore:      doc.BaseScore,
			classification: doc.Classification,
		}, nil
	default:
		return nil, fmt.Errorf("unknown artifact type %q", doc.Type)
	}
}

func checkTrees(doc *predictorDoc) error {
	if len(doc.Trees) == 0 {
		return fmt.Errorf("%s artifact has no trees", doc.Type)
	}
	if doc.Arity <= 0 {
		return fmt.Errorf("%s artifact declares non-positive arity %d", doc.Type, doc.Arity)
	}
	for i, t := range doc.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("%s artifact tree %d is empty", doc.Type, i)
		}
	}
	return nil
}
