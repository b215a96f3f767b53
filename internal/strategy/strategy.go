// Package strategy derives the organization's direction-of-work vector from
// the resolved ticket history. Tickets are split chronologically into
// windows; the strategy vector is the normalized sum of the centroid deltas
// between consecutive windows, i.e. where the work has been moving in
// embedding space.
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kalambet/tasklens/internal/vecmath"
)

// ErrInsufficientHistory is returned by Compute when too few windows
// survive the minimum-size filter to form a direction.
var ErrInsufficientHistory = errors.New("not enough ticket history to derive a strategy")

// Sample is one resolved ticket's contribution: when it was resolved, the
// theme of its cluster, and its embedding.
type Sample struct {
	When  time.Time
	Theme string
	Vec   []float32
}

// Theme is a theme name with its occurrence count within a period.
type Theme struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Strategy is the derived direction of work. Vector is unit-norm.
// EarlyPeriod and RecentPeriod describe the first and last windows;
// EarlyTop and RecentTop rank their dominant themes.
type Strategy struct {
	Vector       []float32 `json:"vector"`
	EarlyPeriod  string    `json:"early_period"`
	RecentPeriod string    `json:"recent_period"`
	EarlyTop     []Theme   `json:"early_top"`
	RecentTop    []Theme   `json:"recent_top"`
}

// Config controls the windowing. Zero values take the defaults.
type Config struct {
	Windows       int // chronological windows to split history into
	MinWindowSize int // windows with fewer samples are dropped
	TopThemes     int // themes reported per period
}

func (c Config) withDefaults() Config {
	if c.Windows <= 0 {
		c.Windows = 4
	}
	if c.MinWindowSize <= 0 {
		c.MinWindowSize = 3
	}
	if c.TopThemes <= 0 {
		c.TopThemes = 3
	}
	return c
}

// Compute derives the strategy from the given samples. Samples are sorted
// by time, split into cfg.Windows equal-count windows, and windows smaller
// than cfg.MinWindowSize are dropped; at least two must survive.
func Compute(samples []Sample, cfg Config) (*Strategy, error) {
	cfg = cfg.withDefaults()
	if len(samples) == 0 {
		return nil, ErrInsufficientHistory
	}

	sorted := append([]Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].When.Before(sorted[j].When) })

	windows := split(sorted, cfg.Windows)
	kept := windows[:0]
	for _, w := range windows {
		if len(w) >= cfg.MinWindowSize {
			kept = append(kept, w)
		}
	}
	if len(kept) < 2 {
		return nil, fmt.Errorf("%w: %d usable windows", ErrInsufficientHistory, len(kept))
	}

	dim := len(kept[0][0].Vec)
	direction := make([]float32, dim)
	prev := centroid(kept[0])
	for _, w := range kept[1:] {
		cur := centroid(w)
		if err := vecmath.CheckDim(len(cur), dim); err != nil {
			return nil, err
		}
		for i := range direction {
			direction[i] += cur[i] - prev[i]
		}
		prev = cur
	}
	vecmath.Normalize(direction)

	early, recent := kept[0], kept[len(kept)-1]
	return &Strategy{
		Vector:       direction,
		EarlyPeriod:  period(early),
		RecentPeriod: period(recent),
		EarlyTop:     topThemes(early, cfg.TopThemes),
		RecentTop:    topThemes(recent, cfg.TopThemes),
	}, nil
}

// Alignment scores a transition from one point to another against the
// strategy vector: the cosine of the movement delta with the strategy. The
// second return is false when the delta is zero (no movement to score).
func Alignment(from, to, strategyVec []float32) (float32, bool) {
	delta := vecmath.Sub(to, from)
	if vecmath.Norm(delta) == 0 {
		return 0, false
	}
	return vecmath.Cosine(delta, strategyVec), true
}

// split partitions sorted samples into n contiguous windows of equal count,
// with the remainder spread over the last windows.
func split(sorted []Sample, n int) [][]Sample {
	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([][]Sample, 0, n)
	base := len(sorted) / n
	rem := len(sorted) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i >= n-rem {
			size++
		}
		out = append(out, sorted[start:start+size])
		start += size
	}
	return out
}

func centroid(w []Sample) []float32 {
	vecs := make([][]float32, len(w))
	for i, s := range w {
		vecs[i] = s.Vec
	}
	return vecmath.Mean(vecs)
}

// period renders a window's time span as "2024-01..2024-06".
func period(w []Sample) string {
	const layout = "2006-01"
	return w[0].When.Format(layout) + ".." + w[len(w)-1].When.Format(layout)
}

func topThemes(w []Sample, n int) []Theme {
	counts := make(map[string]int)
	for _, s := range w {
		if s.Theme != "" {
			counts[s.Theme]++
		}
	}
	themes := make([]Theme, 0, len(counts))
	for name, c := range counts {
		themes = append(themes, Theme{Name: name, Count: c})
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].Count != themes[j].Count {
			return themes[i].Count > themes[j].Count
		}
		return themes[i].Name < themes[j].Name
	})
	if len(themes) > n {
		themes = themes[:n]
	}
	return themes
}
