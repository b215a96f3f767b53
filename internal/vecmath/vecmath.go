// Package vecmath provides float32 vector operations shared by the index,
// cluster, and strategy packages, plus the little-endian wire codec used
// for persisted embeddings.
package vecmath

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// dimensionality expected by the component it is handed to.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CheckDim returns ErrDimensionMismatch (with both sizes) when got != want.
func CheckDim(got, want int) error {
	if got != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, got, want)
	}
	return nil
}

// Dot returns the dot product of a and b. Callers must have validated that
// the lengths match.
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// Normalize scales v in place to unit L2 norm and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 {
		return v
	}
	inv := 1 / float64(n)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Normalized returns a unit-norm copy of v, leaving v untouched.
func Normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return Normalize(out)
}

// Sub returns a-b as a new slice. Callers must have validated lengths.
func Sub(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// Mean returns the element-wise mean of the given vectors.
// Returns nil for empty input.
func Mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	acc := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, f := range v {
			acc[i] += float64(f)
		}
	}
	out := make([]float32, len(acc))
	inv := 1 / float64(len(vecs))
	for i, f := range acc {
		out[i] = float32(f * inv)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either has
// zero norm.
func Cosine(a, b []float32) float32 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(float64(Dot(a, b)) / (float64(na) * float64(nb)))
}

// Encode serializes a float32 slice to little-endian bytes.
func Encode(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
