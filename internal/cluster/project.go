package cluster

import (
	"math"
	"math/rand"
)

// Project reduces the given vectors to 2-D with PCA: center, then extract
// the top two principal components by power iteration with deflation. Used
// to fill Point coordinates for the scatter view. Deterministic for a fixed
// seed. Returns nil for empty input.
func Project(vectors [][]float32, seed int64) [][2]float32 {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	dim := len(vectors[0])

	// Center the data in float64.
	mean := make([]float64, dim)
	for _, v := range vectors {
		for j, f := range v {
			mean[j] += float64(f)
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	centered := make([][]float64, n)
	for i, v := range vectors {
		row := make([]float64, dim)
		for j, f := range v {
			row[j] = float64(f) - mean[j]
		}
		centered[i] = row
	}

	rng := rand.New(rand.NewSource(seed))
	pc1 := principalComponent(centered, rng)
	deflate(centered, pc1)
	pc2 := principalComponent(centered, rng)

	out := make([][2]float32, n)
	for i, row := range centered {
		// centered was deflated in place; recompute the pc1 coordinate
		// from the original point instead.
		var x, y float64
		for j, f := range vectors[i] {
			x += (float64(f) - mean[j]) * pc1[j]
		}
		for j, f := range row {
			y += f * pc2[j]
		}
		out[i] = [2]float32{float32(x), float32(y)}
	}
	return out
}

const (
	powerIters = 100
	powerTol   = 1e-7
)

// principalComponent finds the dominant eigenvector of rows' covariance by
// power iteration, without materializing the covariance matrix: each step
// computes rows^T * (rows * u).
func principalComponent(rows [][]float64, rng *rand.Rand) []float64 {
	dim := len(rows[0])
	u := make([]float64, dim)
	for j := range u {
		u[j] = rng.NormFloat64()
	}
	normalize64(u)

	next := make([]float64, dim)
	for iter := 0; iter < powerIters; iter++ {
		for j := range next {
			next[j] = 0
		}
		for _, row := range rows {
			var dot float64
			for j, f := range row {
				dot += f * u[j]
			}
			for j, f := range row {
				next[j] += dot * f
			}
		}
		if normalize64(next) == 0 {
			// Degenerate data, no variance left.
			return u
		}
		var diff float64
		for j := range u {
			d := next[j] - u[j]
			diff += d * d
		}
		copy(u, next)
		if diff < powerTol {
			break
		}
	}
	return u
}

// deflate removes the component along u from every row in place.
func deflate(rows [][]float64, u []float64) {
	for _, row := range rows {
		var dot float64
		for j, f := range row {
			dot += f * u[j]
		}
		for j := range row {
			row[j] -= dot * u[j]
		}
	}
}

func normalize64(v []float64) float64 {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return 0
	}
	for i := range v {
		v[i] /= n
	}
	return n
}
