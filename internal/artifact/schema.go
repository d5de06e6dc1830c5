// Package artifact materializes downloaded model artifacts into in-process
// predictors with typed input schemas. The set of predictor variants is
// closed; unknown artifact types fail the load.
package artifact

import (
	"encoding/json"
	"fmt"
	"math"
)

// DType enumerates the value types a schema field accepts.
type DType string

const (
	DTypeF64         DType = "f64"
	DTypeI64         DType = "i64"
	DTypeBool        DType = "bool"
	DTypeCategorical DType = "categorical"
)

// TransformRef names a registered transform plus its parameters. Transforms
// are applied when the feature vector is assembled, not at validation time.
type TransformRef struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Field is one entry of the ordered input schema.
type Field struct {
	Name      string        `json:"name"`
	DType     DType         `json:"dtype"`
	Required  bool          `json:"required"`
	Default   any           `json:"default,omitempty"`
	Transform *TransformRef `json:"transform,omitempty"`
}

// Width reports how many vector slots the field occupies after transforms.
// one_hot expands to one slot per class; everything else is scalar.
func (f Field) Width() int {
	if f.Transform != nil && f.Transform.Name == "one_hot" {
		if classes, ok := f.Transform.Params["classes"].([]any); ok {
			return len(classes)
		}
	}
	return 1
}

// Schema is the ordered input schema of a model. It drives request validation
// and feature-vector assembly.
type Schema struct {
	Fields []Field `json:"fields"`
}

// ParseSchema decodes and sanity-checks a schema descriptor.
func ParseSchema(raw []byte) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return Schema{}, fmt.Errorf("parse schema: %w", err)
	}
	if len(s.Fields) == 0 {
		return Schema{}, fmt.Errorf("schema declares no fields")
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return Schema{}, fmt.Errorf("schema field with empty name")
		}
		if seen[f.Name] {
			return Schema{}, fmt.Errorf("schema field %q declared twice", f.Name)
		}
		seen[f.Name] = true
		switch f.DType {
		case DTypeF64, DTypeI64, DTypeBool, DTypeCategorical:
		default:
			return Schema{}, fmt.Errorf("schema field %q has unknown dtype %q", f.Name, f.DType)
		}
	}
	return s, nil
}

// InputArity is the total vector width after transform expansion.
func (s Schema) InputArity() int {
	n := 0
	for _, f := range s.Fields {
		n += f.Width()
	}
	return n
}

// FieldError reports a schema violation for a named field.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string { return fmt.Sprintf("field %q: %s", e.Field, e.Msg) }

// CoerceKnown rejects unknown fields and type mismatches and returns a copy
// of values with every present field coerced to its declared dtype. Required
// fields are not checked here; that happens in FillAndCheck after any
// feature-store merge.
func (s Schema) CoerceKnown(values map[string]any) (map[string]any, error) {
	byName := make(map[string]Field, len(s.Fields))
	for _, f := range s.Fields {
		byName[f.Name] = f
	}
	out := make(map[string]any, len(values))
	for name, v := range values {
		f, ok := byName[name]
		if !ok {
			return nil, &FieldError{Field: name, Msg: "not declared in model schema"}
		}
		if v == nil {
			continue
		}
		coerced, err := coerce(f, v)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

// FillAndCheck applies the default-value map for missing optional fields and
// rejects with an error naming the field when a required field is still
// absent. Input values are assumed coerced.
func (s Schema) FillAndCheck(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		v, present := values[f.Name]
		if !present || v == nil {
			if f.Default != nil {
				out[f.Name] = f.Default
				continue
			}
			if f.Required {
				return nil, &FieldError{Field: f.Name, Msg: "required feature missing"}
			}
			continue
		}
		out[f.Name] = v
	}
	return out, nil
}

// ValidateAndFill is CoerceKnown followed by FillAndCheck.
func (s Schema) ValidateAndFill(values map[string]any) (map[string]any, error) {
	coerced, err := s.CoerceKnown(values)
	if err != nil {
		return nil, err
	}
	return s.FillAndCheck(coerced)
}

func coerce(f Field, v any) (any, error) {
	switch f.DType {
	case DTypeF64:
		x, ok := asFloat(v)
		if !ok {
			return nil, &FieldError{Field: f.Name, Msg: fmt.Sprintf("expected f64, got %T", v)}
		}
		return x, nil
	case DTypeI64:
		x, ok := asFloat(v)
		if !ok || x != math.Trunc(x) {
			return nil, &FieldError{Field: f.Name, Msg: fmt.Sprintf("expected i64, got %v", v)}
		}
		return x, nil
	case DTypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case float64:
			// JSON numbers 0/1 are accepted for booleans.
			if b == 0 || b == 1 {
				return b == 1, nil
			}
		}
		return nil, &FieldError{Field: f.Name, Msg: fmt.Sprintf("expected bool, got %v", v)}
	case DTypeCategorical:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, &FieldError{Field: f.Name, Msg: fmt.Sprintf("expected categorical string, got %T", v)}
	}
	return nil, &FieldError{Field: f.Name, Msg: "unknown dtype"}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
