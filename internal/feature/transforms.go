package feature

import (
	"fmt"

	"inferd/internal/artifact"
)

// Transform maps one raw feature value to its slots in the model input
// vector. Transforms are pure; compiling one never mutates the schema.
type Transform interface {
	Apply(value any) ([]float64, error)
}

// Compile resolves a schema transform reference against the registry. A nil
// ref yields the identity numeric transform.
func Compile(ref *artifact.TransformRef) (Transform, error) {
	if ref == nil {
		return identity{}, nil
	}
	factory, ok := transformRegistry[ref.Name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", ref.Name)
	}
	return factory(ref.Params)
}

var transformRegistry = map[string]func(params map[string]any) (Transform, error){
	"standardize":    newStandardize,
	"min_max_clip":   newMinMaxClip,
	"impute_default": newImputeDefault,
	"one_hot":        newOneHot,
}

func floatParam(params map[string]any, name string) (float64, error) {
	v, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", name)
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("parameter %q must be numeric, got %T", name, v)
}

func asNumber(value any) (float64, error) {
	switch x := value.(type) {
	case nil:
		return 0, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("value %v (%T) is not numeric", value, value)
}

type identity struct{}

func (identity) Apply(value any) ([]float64, error) {
	v, err := asNumber(value)
	if err != nil {
		return nil, err
	}
	return []float64{v}, nil
}

// standardize(mu, sigma): (v - mu) / sigma.
type standardize struct{ mu, sigma float64 }

func newStandardize(params map[string]any) (Transform, error) {
	mu, err := floatParam(params, "mu")
	if err != nil {
		return nil, fmt.Errorf("standardize: %w", err)
	}
	sigma, err := floatParam(params, "sigma")
	if err != nil {
		return nil, fmt.Errorf("standardize: %w", err)
	}
	if sigma == 0 {
		return nil, fmt.Errorf("standardize: sigma must be nonzero")
	}
	return &standardize{mu: mu, sigma: sigma}, nil
}

func (t *standardize) Apply(value any) ([]float64, error) {
	v, err := asNumber(value)
	if err != nil {
		return nil, err
	}
	return []float64{(v - t.mu) / t.sigma}, nil
}

// min_max_clip(lo, hi): clamp v into [lo, hi].
type minMaxClip struct{ lo, hi float64 }

func newMinMaxClip(params map[string]any) (Transform, error) {
	lo, err := floatParam(params, "lo")
	if err != nil {
		return nil, fmt.Errorf("min_max_clip: %w", err)
	}
	hi, err := floatParam(params, "hi")
	if err != nil {
		return nil, fmt.Errorf("min_max_clip: %w", err)
	}
	if hi < lo {
		return nil, fmt.Errorf("min_max_clip: hi %g < lo %g", hi, lo)
	}
	return &minMaxClip{lo: lo, hi: hi}, nil
}

func (t *minMaxClip) Apply(value any) ([]float64, error) {
	v, err := asNumber(value)
	if err != nil {
		return nil, err
	}
	if v < t.lo {
		v = t.lo
	}
	if v > t.hi {
		v = t.hi
	}
	return []float64{v}, nil
}

// impute_default(v): replace a missing value before numeric conversion.
type imputeDefault struct{ v float64 }

func newImputeDefault(params map[string]any) (Transform, error) {
	v, err := floatParam(params, "v")
	if err != nil {
		return nil, fmt.Errorf("impute_default: %w", err)
	}
	return &imputeDefault{v: v}, nil
}

func (t *imputeDefault) Apply(value any) ([]float64, error) {
	if value == nil {
		return []float64{t.v}, nil
	}
	v, err := asNumber(value)
	if err != nil {
		return nil, err
	}
	return []float64{v}, nil
}

// one_hot(classes): indicator vector over the declared classes. Unknown
// categories encode as all zeros.
type oneHot struct{ classes []string }

func newOneHot(params map[string]any) (Transform, error) {
	raw, ok := params["classes"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("one_hot: missing classes")
	}
	classes := make([]string, len(raw))
	for i, c := range raw {
		s, ok := c.(string)
		if !ok {
			return nil, fmt.Errorf("one_hot: class %v is not a string", c)
		}
		classes[i] = s
	}
	return &oneHot{classes: classes}, nil
}

func (t *oneHot) Apply(value any) ([]float64, error) {
	out := make([]float64, len(t.classes))
	s, ok := value.(string)
	if !ok {
		if value == nil {
			return out, nil
		}
		return nil, fmt.Errorf("one_hot expects a categorical string, got %T", value)
	}
	for i, c := range t.classes {
		if c == s {
			out[i] = 1
			break
		}
	}
	return out, nil
}

// BuildVector assembles the model input vector in schema order, applying
// each field's declared transform. Values should already be validated and
// default-filled; fields still absent contribute their transform of nil.
func BuildVector(schema artifact.Schema, values map[string]any) ([]float64, error) {
	out := make([]float64, 0, schema.InputArity())
	for _, field := range schema.Fields {
		tr, err := Compile(field.Transform)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Name, err)
		}
		slots, err := tr.Apply(values[field.Name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Name, err)
		}
		out = append(out, slots...)
	}
	return out, nil
}
