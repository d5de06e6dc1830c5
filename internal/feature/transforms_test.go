package feature

import (
	"math"
	"testing"

	"inferd/internal/artifact"
)

func apply(t *testing.T, name string, params map[string]any, value any) []float64 {
	t.Helper()
	tr, err := Compile(&artifact.TransformRef{Name: name, Params: params})
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	out, err := tr.Apply(value)
	if err != nil {
		t.Fatalf("apply %s: %v", name, err)
	}
	return out
}

func TestStandardize(t *testing.T) {
	out := apply(t, "standardize", map[string]any{"mu": 100.0, "sigma": 50.0}, 150.0)
	if len(out) != 1 || out[0] != 1 {
		t.Fatalf("got %v", out)
	}
	if _, err := Compile(&artifact.TransformRef{Name: "standardize", Params: map[string]any{"mu": 0.0, "sigma": 0.0}}); err == nil {
		t.Fatalf("zero sigma must be rejected")
	}
}

func TestMinMaxClip(t *testing.T) {
	params := map[string]any{"lo": 0.0, "hi": 10.0}
	if out := apply(t, "min_max_clip", params, -5.0); out[0] != 0 {
		t.Fatalf("below range should clamp to lo, got %v", out)
	}
	if out := apply(t, "min_max_clip", params, 25.0); out[0] != 10 {
		t.Fatalf("above range should clamp to hi, got %v", out)
	}
	if out := apply(t, "min_max_clip", params, 7.0); out[0] != 7 {
		t.Fatalf("in-range value should pass through, got %v", out)
	}
}

func TestImputeDefault(t *testing.T) {
	params := map[string]any{"v": 3.5}
	if out := apply(t, "impute_default", params, nil); out[0] != 3.5 {
		t.Fatalf("nil should impute, got %v", out)
	}
	if out := apply(t, "impute_default", params, 2.0); out[0] != 2 {
		t.Fatalf("present value should pass through, got %v", out)
	}
}

func TestOneHot(t *testing.T) {
	params := map[string]any{"classes": []any{"card", "cash", "wire"}}
	out := apply(t, "one_hot", params, "cash")
	want := []float64{0, 1, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("got %v want %v", out, want)
		}
	}
	out = apply(t, "one_hot", params, "cheque")
	for _, v := range out {
		if v != 0 {
			t.Fatalf("unknown class should encode all zeros, got %v", out)
		}
	}
}

func TestCompileUnknownTransform(t *testing.T) {
	if _, err := Compile(&artifact.TransformRef{Name: "log_scale"}); err == nil {
		t.Fatalf("unknown transform must be rejected")
	}
}

func TestBuildVectorOrderAndExpansion(t *testing.T) {
	schema := artifact.Schema{Fields: []artifact.Field{
		{Name: "amount", DType: artifact.DTypeF64, Required: true,
			Transform: &artifact.TransformRef{Name: "standardize", Params: map[string]any{"mu": 100.0, "sigma": 50.0}}},
		{Name: "is_weekend", DType: artifact.DTypeBool, Required: true},
		{Name: "method", DType: artifact.DTypeCategorical, Required: true,
			Transform: &artifact.TransformRef{Name: "one_hot", Params: map[string]any{"classes": []any{"card", "cash"}}}},
	}}
	vec, err := BuildVector(schema, map[string]any{
		"amount":     150.0,
		"is_weekend": true,
		"method":     "cash",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []float64{1, 1, 0, 1}
	if len(vec) != len(want) {
		t.Fatalf("arity mismatch: got %v", vec)
	}
	for i := range want {
		if math.Abs(vec[i]-want[i]) > 1e-12 {
			t.Fatalf("slot %d: got %v want %v", i, vec, want)
		}
	}
}
