package strategy

import (
	"errors"
	"math"
	"testing"
	"time"
)

func sampleAt(day int, theme string, vec []float32) Sample {
	return Sample{
		When:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Theme: theme,
		Vec:   vec,
	}
}

// driftHistory builds 12 samples whose centroids drift from [1,0] toward
// [0,1] over four windows.
func driftHistory() []Sample {
	var out []Sample
	for i := 0; i < 12; i++ {
		frac := float32(i) / 11
		theme := "search"
		if i >= 6 {
			theme = "billing"
		}
		out = append(out, sampleAt(i*30, theme, []float32{1 - frac, frac}))
	}
	return out
}

func TestComputeDirection(t *testing.T) {
	s, err := Compute(driftHistory(), Config{Windows: 4, MinWindowSize: 2})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// Drift is from [1,0] toward [0,1]: negative x, positive y, unit norm.
	if s.Vector[0] >= 0 || s.Vector[1] <= 0 {
		t.Errorf("vector = %v, want negative x and positive y", s.Vector)
	}
	norm := math.Sqrt(float64(s.Vector[0]*s.Vector[0] + s.Vector[1]*s.Vector[1]))
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm = %f, want 1", norm)
	}
}

func TestComputePeriodsAndThemes(t *testing.T) {
	s, err := Compute(driftHistory(), Config{Windows: 4, MinWindowSize: 2})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if s.EarlyPeriod != "2024-01..2024-03" {
		t.Errorf("early period = %q, want 2024-01..2024-03", s.EarlyPeriod)
	}
	if len(s.EarlyTop) == 0 || s.EarlyTop[0].Name != "search" {
		t.Errorf("early top = %v, want search first", s.EarlyTop)
	}
	if len(s.RecentTop) == 0 || s.RecentTop[0].Name != "billing" {
		t.Errorf("recent top = %v, want billing first", s.RecentTop)
	}
}

func TestComputeUnsortedInput(t *testing.T) {
	history := driftHistory()
	history[0], history[11] = history[11], history[0]
	s, err := Compute(history, Config{Windows: 4, MinWindowSize: 2})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if s.Vector[0] >= 0 || s.Vector[1] <= 0 {
		t.Errorf("vector = %v, want same direction as sorted input", s.Vector)
	}
}

func TestComputeInsufficientHistory(t *testing.T) {
	_, err := Compute(nil, Config{})
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("err = %v, want ErrInsufficientHistory", err)
	}

	// Four samples over four windows of minimum size three: every window
	// is dropped.
	few := []Sample{
		sampleAt(0, "a", []float32{1, 0}),
		sampleAt(1, "a", []float32{1, 0}),
		sampleAt(2, "a", []float32{0, 1}),
		sampleAt(3, "a", []float32{0, 1}),
	}
	_, err = Compute(few, Config{Windows: 4, MinWindowSize: 3})
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("err = %v, want ErrInsufficientHistory", err)
	}
}

func TestSplitRemainderGoesToRecentWindows(t *testing.T) {
	samples := make([]Sample, 10)
	for i := range samples {
		samples[i] = sampleAt(i, "t", []float32{1, 0})
	}
	windows := split(samples, 3)
	sizes := []int{len(windows[0]), len(windows[1]), len(windows[2])}
	if sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 4 {
		t.Errorf("window sizes = %v, want [3 3 4]", sizes)
	}
}

func TestAlignment(t *testing.T) {
	strat := []float32{0, 1}

	aligned, ok := Alignment([]float32{0, 0}, []float32{0, 1}, strat)
	if !ok || math.Abs(float64(aligned)-1) > 1e-6 {
		t.Errorf("aligned move = (%f, %v), want (1, true)", aligned, ok)
	}

	opposed, ok := Alignment([]float32{0, 1}, []float32{0, 0}, strat)
	if !ok || math.Abs(float64(opposed)+1) > 1e-6 {
		t.Errorf("opposed move = (%f, %v), want (-1, true)", opposed, ok)
	}

	if _, ok := Alignment([]float32{1, 1}, []float32{1, 1}, strat); ok {
		t.Error("zero-delta move should report ok=false")
	}
}
