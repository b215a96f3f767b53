package vecmath

import (
	"errors"
	"math"
	"testing"
)

func TestCheckDim(t *testing.T) {
	if err := CheckDim(3, 3); err != nil {
		t.Fatalf("CheckDim(3, 3): %v", err)
	}
	err := CheckDim(2, 3)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("CheckDim(2, 3) = %v, want ErrDimensionMismatch", err)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(Norm(v))-1) > 1e-6 {
		t.Errorf("norm = %f, want 1", Norm(v))
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("v = %v, want [0.6 0.8]", v)
	}

	// Zero vector stays zero.
	z := Normalize([]float32{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("zero vector changed: %v", z)
	}
}

func TestNormalizedLeavesInputUntouched(t *testing.T) {
	v := []float32{3, 4}
	_ = Normalized(v)
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("input mutated: %v", v)
	}
}

func TestDotAndCosine(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if got := Dot(a, b); got != 0 {
		t.Errorf("Dot = %f, want 0", got)
	}
	if got := Cosine(a, a); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("Cosine(a, a) = %f, want 1", got)
	}
	if got := Cosine(a, []float32{0, 0}); got != 0 {
		t.Errorf("Cosine against zero vector = %f, want 0", got)
	}
}

func TestMean(t *testing.T) {
	m := Mean([][]float32{{1, 0}, {0, 1}})
	if m[0] != 0.5 || m[1] != 0.5 {
		t.Errorf("Mean = %v, want [0.5 0.5]", m)
	}
	if Mean(nil) != nil {
		t.Error("Mean(nil) should be nil")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := []float32{0.1, -2.5, 3.25, 0}
	got, err := Decode(Encode(v))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(v) {
		t.Fatalf("got %d values, want %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("index %d: got %f, want %f", i, got[i], v[i])
		}
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("Decode accepted a 3-byte slice")
	}
}
