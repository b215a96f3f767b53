package cluster

import (
	"fmt"
	"math/rand"

	"github.com/kalambet/tasklens/internal/vecmath"
)

// FitConfig controls the offline clustering run.
type FitConfig struct {
	K       int
	MaxIter int
	Seed    int64
}

// Fit clusters the given unit vectors with Lloyd's algorithm and returns a
// model with labels "cluster-0".."cluster-(k-1)". The run is deterministic
// for a fixed seed: centers are seeded k-means++ style from a seeded PRNG
// and points are scanned in input order. Projection coordinates are left
// zero; the caller fills them in separately.
func Fit(vectors [][]float32, cfg FitConfig) (*Model, error) {
	n := len(vectors)
	if n == 0 {
		return nil, fmt.Errorf("no vectors to cluster")
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if err := vecmath.CheckDim(len(v), dim); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}

	k := cfg.K
	if k <= 0 {
		k = defaultK(n)
	}
	if k > n {
		k = n
	}
	maxIter := cfg.MaxIter
	if maxIter <= 0 {
		maxIter = 50
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	centers := seedCenters(vectors, k, rng)
	assign := make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestDist := 0, vecmath.Distance(v, centers[0])
			for c := 1; c < k; c++ {
				if d := vecmath.Distance(v, centers[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centers; reseed any that lost all members.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assign[i]
			counts[c]++
			for j, f := range v {
				sums[c][j] += float64(f)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				centers[c] = append([]float32(nil), vectors[rng.Intn(n)]...)
				continue
			}
			inv := 1 / float64(counts[c])
			for j := range centers[c] {
				centers[c][j] = float32(sums[c][j] * inv)
			}
		}
	}

	model := &Model{
		Clusters: make([]Cluster, k),
		Points:   make([]Point, n),
	}
	members := make([][]int, k)
	for i, c := range assign {
		members[c] = append(members[c], i)
	}
	for c := 0; c < k; c++ {
		label := fmt.Sprintf("cluster-%d", c)
		var spread float64
		for _, i := range members[c] {
			spread += float64(vecmath.Distance(vectors[i], centers[c]))
			model.Points[i].Label = label
		}
		if len(members[c]) > 0 {
			spread /= float64(len(members[c]))
		}
		model.Clusters[c] = Cluster{
			Label:    label,
			Centroid: centers[c],
			Spread:   float32(spread),
			Size:     len(members[c]),
		}
	}
	return model, nil
}

// defaultK picks a cluster count for n points when the caller does not: one
// cluster per ~15 points, clamped to [2, 12].
func defaultK(n int) int {
	k := n / 15
	if k < 2 {
		k = 2
	}
	if k > 12 {
		k = 12
	}
	return k
}

// seedCenters picks k initial centers k-means++ style: the first uniformly,
// each subsequent one with probability proportional to squared distance from
// the nearest already-chosen center.
func seedCenters(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	n := len(vectors)
	centers := make([][]float32, 0, k)
	centers = append(centers, append([]float32(nil), vectors[rng.Intn(n)]...))

	dist2 := make([]float64, n)
	for len(centers) < k {
		var total float64
		for i, v := range vectors {
			best := float64(vecmath.Distance(v, centers[0]))
			for _, c := range centers[1:] {
				if d := float64(vecmath.Distance(v, c)); d < best {
					best = d
				}
			}
			dist2[i] = best * best
			total += dist2[i]
		}
		if total == 0 {
			// All remaining points coincide with a center.
			centers = append(centers, append([]float32(nil), vectors[rng.Intn(n)]...))
			continue
		}
		target := rng.Float64() * total
		chosen := n - 1
		var acc float64
		for i, d := range dist2 {
			acc += d
			if acc >= target {
				chosen = i
				break
			}
		}
		centers = append(centers, append([]float32(nil), vectors[chosen]...))
	}
	return centers
}
