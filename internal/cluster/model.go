// Package cluster holds the fitted cluster model: per-cluster centroids,
// spreads, and theme names, plus a 2-D projection coordinate per indexed
// point. The model is fitted offline by the rebuild; at serving time it only
// answers nearest-centroid assignment for unseen vectors.
package cluster

import (
	"fmt"

	"github.com/kalambet/tasklens/internal/vecmath"
)

// NoiseLabel marks points that no cluster plausibly explains.
const NoiseLabel = "noise"

// Cluster is one fitted cluster. Spread is the mean Euclidean distance of
// the cluster's members to its centroid. Theme is an external, opaque
// annotation (human- or LLM-assigned); it defaults to the label.
type Cluster struct {
	Label    string    `json:"label"`
	Theme    string    `json:"theme,omitempty"`
	Centroid []float32 `json:"centroid"`
	Spread   float32   `json:"spread"`
	Size     int       `json:"size"`
}

// Point is the cluster label and 2-D projection of one indexed row.
type Point struct {
	Label string  `json:"label"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
}

// Assignment is the result of placing an unseen vector into the model.
type Assignment struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Model is the fitted clustering of the index. Points is parallel to the
// index rows; Clusters holds the per-label statistics.
type Model struct {
	Clusters []Cluster `json:"clusters"`
	Points   []Point   `json:"points"`
}

// minSpread guards singleton or degenerate clusters whose measured spread
// is zero, which would otherwise reject everything but exact matches.
const minSpread = 1e-4

// Assign places an unseen vector by nearest centroid. Confidence falls off
// with distance relative to the winning cluster's spread; beyond
// spreadMultiple spreads the point is labeled noise with confidence 0.
// Assignment is deterministic: clusters are scanned in stored order and
// only a strictly smaller distance replaces the current winner.
func (m *Model) Assign(vec []float32, spreadMultiple float64) (Assignment, error) {
	if len(m.Clusters) == 0 {
		return Assignment{Label: NoiseLabel}, nil
	}
	if err := vecmath.CheckDim(len(vec), len(m.Clusters[0].Centroid)); err != nil {
		return Assignment{}, err
	}

	v := vecmath.Normalized(vec)
	best := -1
	var bestDist float32
	for i, c := range m.Clusters {
		d := vecmath.Distance(v, c.Centroid)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}

	spread := m.Clusters[best].Spread
	if spread < minSpread {
		spread = minSpread
	}
	if float64(bestDist) > spreadMultiple*float64(spread) {
		return Assignment{Label: NoiseLabel, Confidence: 0}, nil
	}

	conf := float32(1 / (1 + float64(bestDist)/float64(spread)))
	return Assignment{Label: m.Clusters[best].Label, Confidence: conf}, nil
}

// ThemeFor returns the theme name for a cluster label, falling back to the
// label itself when no theme annotation exists.
func (m *Model) ThemeFor(label string) string {
	for _, c := range m.Clusters {
		if c.Label == label {
			if c.Theme != "" {
				return c.Theme
			}
			return c.Label
		}
	}
	return label
}

// CentroidFor returns the centroid for a cluster label. The second return
// is false for unknown labels and for NoiseLabel.
func (m *Model) CentroidFor(label string) ([]float32, bool) {
	for _, c := range m.Clusters {
		if c.Label == label {
			return c.Centroid, true
		}
	}
	return nil, false
}

// Validate checks internal consistency against an index of n rows with the
// given dimensionality.
func (m *Model) Validate(n, dim int) error {
	if len(m.Points) != n {
		return fmt.Errorf("got %d cluster points for %d index rows", len(m.Points), n)
	}
	known := make(map[string]bool, len(m.Clusters))
	for _, c := range m.Clusters {
		if len(c.Centroid) != dim {
			return fmt.Errorf("cluster %s centroid has dim %d, want %d", c.Label, len(c.Centroid), dim)
		}
		known[c.Label] = true
	}
	for i, p := range m.Points {
		if p.Label != NoiseLabel && !known[p.Label] {
			return fmt.Errorf("point %d references unknown cluster %q", i, p.Label)
		}
	}
	return nil
}
