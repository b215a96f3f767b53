package risk

import (
	"testing"
	"time"

	"github.com/kalambet/tasklens/internal/cluster"
	"github.com/kalambet/tasklens/internal/strategy"
	"github.com/kalambet/tasklens/internal/trajectory"
)

func testAssessor(tickets []trajectory.Ticket) *Assessor {
	return &Assessor{
		Model: &cluster.Model{
			Clusters: []cluster.Cluster{
				{Label: "cluster-0", Theme: "search", Centroid: []float32{1, 0}, Spread: 0.3, Size: 3},
				{Label: "cluster-1", Theme: "billing", Centroid: []float32{0, 1}, Spread: 0.3, Size: 3},
			},
		},
		Strategy:       &strategy.Strategy{Vector: []float32{0, 1}},
		Tracker:        trajectory.New(tickets),
		GlobalCentroid: []float32{0.5, 0.5},
		Config: Config{
			DriftThreshold:      0,
			ScopeDriftThreshold: 0.6,
			ReviewFlagCount:     2,
		},
	}
}

func when(d int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func hasKind(flags []Flag, kind string) bool {
	for _, f := range flags {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

func TestEvaluateKnowledgeIsland(t *testing.T) {
	soleOwner := testAssessor([]trajectory.Ticket{
		{Key: "T-1", Assignee: "alex", Cluster: "cluster-1", Resolved: true, When: when(0)},
		{Key: "T-2", Assignee: "alex", Cluster: "cluster-1", Resolved: true, When: when(1)},
	})
	// Candidate sits past the centroid along the strategy, no drift.
	flags := soleOwner.Evaluate([]float32{0, 1}, cluster.Assignment{Label: "cluster-1", Confidence: 0.9})
	if !hasKind(flags, KindKnowledgeIsland) {
		t.Errorf("flags = %+v, want knowledge_island", flags)
	}

	shared := testAssessor([]trajectory.Ticket{
		{Key: "T-1", Assignee: "alex", Cluster: "cluster-1", Resolved: true, When: when(0)},
		{Key: "T-2", Assignee: "bo", Cluster: "cluster-1", Resolved: true, When: when(1)},
	})
	flags = shared.Evaluate([]float32{0, 1}, cluster.Assignment{Label: "cluster-1", Confidence: 0.9})
	if hasKind(flags, KindKnowledgeIsland) {
		t.Errorf("flags = %+v, want no knowledge_island with two owners", flags)
	}
}

func TestEvaluateCapabilityGap(t *testing.T) {
	a := testAssessor([]trajectory.Ticket{
		{Key: "T-1", Assignee: "alex", Cluster: "cluster-1", Resolved: true, When: when(0)},
	})
	flags := a.Evaluate([]float32{1, 0.8}, cluster.Assignment{Label: "cluster-0", Confidence: 0.8})
	if !hasKind(flags, KindCapabilityGap) {
		t.Errorf("flags = %+v, want capability_gap for unworked cluster", flags)
	}
}

func TestEvaluateOwnershipIgnoresUnresolved(t *testing.T) {
	// cluster-1's only ticket is still in flight: nobody has delivered
	// there yet, so it is a capability gap, not a knowledge island.
	a := testAssessor([]trajectory.Ticket{
		{Key: "T-1", Assignee: "alex", Cluster: "cluster-1", When: when(0)},
	})
	flags := a.Evaluate([]float32{0, 1}, cluster.Assignment{Label: "cluster-1", Confidence: 0.9})
	if hasKind(flags, KindKnowledgeIsland) {
		t.Errorf("flags = %+v, want no knowledge_island from an unresolved ticket", flags)
	}
	if !hasKind(flags, KindCapabilityGap) {
		t.Errorf("flags = %+v, want capability_gap", flags)
	}
}

func TestEvaluateSkipsOwnershipForNoise(t *testing.T) {
	a := testAssessor(nil)
	flags := a.Evaluate([]float32{0, 1}, cluster.Assignment{Label: cluster.NoiseLabel})
	if hasKind(flags, KindCapabilityGap) || hasKind(flags, KindKnowledgeIsland) {
		t.Errorf("flags = %+v, want no ownership flags for noise", flags)
	}
}

func TestEvaluateStrategicDrift(t *testing.T) {
	a := testAssessor([]trajectory.Ticket{
		{Key: "T-1", Assignee: "alex", Cluster: "cluster-0", Resolved: true, When: when(0)},
		{Key: "T-2", Assignee: "bo", Cluster: "cluster-0", Resolved: true, When: when(1)},
	})

	// [1, 0] sits below the global centroid along the strategy axis.
	flags := a.Evaluate([]float32{1, 0}, cluster.Assignment{Label: "cluster-0", Confidence: 0.9})
	if !hasKind(flags, KindStrategicDrift) {
		t.Errorf("flags = %+v, want strategic_drift", flags)
	}

	// [0, 1] moves with the strategy.
	flags = a.Evaluate([]float32{0, 1}, cluster.Assignment{Label: "cluster-0", Confidence: 0.9})
	if hasKind(flags, KindStrategicDrift) {
		t.Errorf("flags = %+v, want no strategic_drift", flags)
	}
}

func TestScopeDrift(t *testing.T) {
	a := testAssessor(nil)

	// cos([1,0], [0.4, 0.9165]) ~= 0.40: below the 0.60 threshold, and the
	// nearest centroid flips from cluster-0 to cluster-1.
	report, flag, err := a.ScopeDrift([]float32{1, 0}, []float32{0.4, 0.9165}, 10)
	if err != nil {
		t.Fatalf("ScopeDrift: %v", err)
	}
	if !report.Expanded || flag == nil || flag.Kind != KindScopeDrift {
		t.Fatalf("report = %+v flag = %+v, want expanded scope_drift", report, flag)
	}
	if report.Similarity < 0.38 || report.Similarity > 0.42 {
		t.Errorf("similarity = %f, want ~0.40", report.Similarity)
	}
	if !report.ClusterChanged || report.TitleCluster.Label != "cluster-0" || report.FullCluster.Label != "cluster-1" {
		t.Errorf("report = %+v, want cluster-0 -> cluster-1", report)
	}
}

func TestScopeDriftWithinThreshold(t *testing.T) {
	a := testAssessor(nil)
	report, flag, err := a.ScopeDrift([]float32{1, 0}, []float32{0.95, 0.05}, 10)
	if err != nil {
		t.Fatalf("ScopeDrift: %v", err)
	}
	if report.Expanded || flag != nil {
		t.Errorf("report = %+v flag = %+v, want no scope drift", report, flag)
	}
}

func TestReviewRecommended(t *testing.T) {
	a := testAssessor(nil)
	one := []Flag{{Kind: KindStrategicDrift}}
	two := append(one, Flag{Kind: KindKnowledgeIsland})
	if a.ReviewRecommended(one) {
		t.Error("one flag should not trigger review")
	}
	if !a.ReviewRecommended(two) {
		t.Error("two flags should trigger review")
	}
}
