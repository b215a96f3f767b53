// Package index holds the in-memory vector index: the full ordered set of
// ticket keys and their L2-normalized embeddings, with brute-force
// nearest-neighbor search. An index is immutable once built; a rebuild
// produces a whole new value that callers swap in atomically.
package index

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/kalambet/tasklens/internal/vecmath"
)

// ErrEmptyIndex is returned by Search when the index holds no vectors.
var ErrEmptyIndex = errors.New("vector index is empty")

// Result is a single nearest-neighbor hit: the stored row, its key, and the
// cosine similarity to the query (dot product of unit vectors).
type Result struct {
	Row   int
	Key   string
	Score float32
}

// Index is the immutable (key, embedding) collection. Vectors are stored
// flat, row-major, and are unit-norm: normalization happens on ingest, so
// search scores are plain dot products.
type Index struct {
	keys     []string
	vecs     []float32 // len(keys) * dim, row-major
	dim      int
	centroid []float32 // unnormalized mean of all rows
}

// New builds an index from parallel key/vector slices. Every vector must
// have the same length; vectors are normalized in place on ingest.
func New(keys []string, vectors [][]float32) (*Index, error) {
	if len(keys) != len(vectors) {
		return nil, fmt.Errorf("got %d keys for %d vectors", len(keys), len(vectors))
	}
	if len(keys) == 0 {
		return &Index{}, nil
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, errors.New("zero-dimensional vectors")
	}

	flat := make([]float32, 0, len(keys)*dim)
	for i, v := range vectors {
		if err := vecmath.CheckDim(len(v), dim); err != nil {
			return nil, fmt.Errorf("vector for %q: %w", keys[i], err)
		}
		flat = append(flat, vecmath.Normalized(v)...)
	}

	ix := &Index{
		keys: append([]string(nil), keys...),
		vecs: flat,
		dim:  dim,
	}
	ix.centroid = vecmath.Mean(ix.rows())
	return ix, nil
}

// Len returns the number of stored vectors.
func (ix *Index) Len() int { return len(ix.keys) }

// Dim returns the fixed dimensionality, or 0 for an empty index.
func (ix *Index) Dim() int { return ix.dim }

// Key returns the key of row i.
func (ix *Index) Key(i int) string { return ix.keys[i] }

// Vector returns the stored unit vector of row i. The returned slice
// aliases the index and must not be modified.
func (ix *Index) Vector(i int) []float32 {
	return ix.vecs[i*ix.dim : (i+1)*ix.dim]
}

// Centroid returns the unnormalized mean of all stored vectors, used as the
// global reference point for drift checks. Nil for an empty index.
func (ix *Index) Centroid() []float32 { return ix.centroid }

func (ix *Index) rows() [][]float32 {
	out := make([][]float32, ix.Len())
	for i := range out {
		out[i] = ix.Vector(i)
	}
	return out
}

// Search returns the k most similar rows to query, sorted by descending
// score with ties broken by ascending key. The query is normalized before
// scoring, so callers may pass raw embedding output.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	if ix.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	if err := vecmath.CheckDim(len(query), ix.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	if k > ix.Len() {
		k = ix.Len()
	}

	q := vecmath.Normalized(query)

	h := &resultHeap{}
	heap.Init(h)
	for i := 0; i < ix.Len(); i++ {
		r := Result{Row: i, Key: ix.keys[i], Score: vecmath.Dot(q, ix.Vector(i))}
		if h.Len() < k {
			heap.Push(h, r)
		} else if worse((*h)[0], r) {
			(*h)[0] = r
			heap.Fix(h, 0)
		}
	}

	results := make([]Result, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(Result)
	}
	// Heap pop order is by "worseness"; make the tie order explicit.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Key < results[j].Key
	})
	return results, nil
}

// worse reports whether a ranks below b: lower score, or equal score with a
// key that sorts later. Keeping the ordering strict makes results
// independent of insertion order.
func worse(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Key > b.Key
}

// resultHeap is a min-heap ordered so the worst retained result is on top.
type resultHeap []Result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
