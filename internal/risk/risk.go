// Package risk flags incoming tickets against the fitted snapshot: movement
// against the strategy direction, clusters the team has never delivered in,
// clusters owned by a single person, and scope drift between a ticket's
// title and its full text.
package risk

import (
	"fmt"

	"github.com/kalambet/tasklens/internal/cluster"
	"github.com/kalambet/tasklens/internal/strategy"
	"github.com/kalambet/tasklens/internal/trajectory"
	"github.com/kalambet/tasklens/internal/vecmath"
)

// Flag kinds.
const (
	KindStrategicDrift  = "strategic_drift"
	KindCapabilityGap   = "capability_gap"
	KindKnowledgeIsland = "knowledge_island"
	KindScopeDrift      = "scope_drift"
)

// Flag is one raised risk with a human-readable detail line.
type Flag struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Config holds the assessment thresholds.
type Config struct {
	// DriftThreshold is the minimum strategy alignment of the candidate's
	// position relative to the global centroid; below it the ticket is
	// flagged as strategic drift.
	DriftThreshold float64
	// ScopeDriftThreshold is the minimum title-vs-full-text cosine
	// similarity; below it the ticket's scope expanded beyond its title.
	ScopeDriftThreshold float64
	// ReviewFlagCount is how many flags make a ticket a human-review
	// candidate.
	ReviewFlagCount int
}

// Assessor evaluates candidate tickets against an immutable snapshot of the
// cluster model, strategy, and trajectory state.
type Assessor struct {
	Model          *cluster.Model
	Strategy       *strategy.Strategy
	Tracker        *trajectory.Tracker
	GlobalCentroid []float32
	Config         Config
}

// Evaluate flags a candidate embedding given its cluster assignment. Noise
// assignments skip the ownership checks: there is no cluster to own.
func (a *Assessor) Evaluate(vec []float32, assignment cluster.Assignment) []Flag {
	var flags []Flag

	if f, ok := a.strategicDrift(vec); ok {
		flags = append(flags, f)
	}
	if assignment.Label != cluster.NoiseLabel {
		owners := a.Tracker.ClusterOwners(assignment.Label)
		switch len(owners) {
		case 0:
			flags = append(flags, Flag{
				Kind:   KindCapabilityGap,
				Detail: fmt.Sprintf("nobody has delivered in %s", a.Model.ThemeFor(assignment.Label)),
			})
		case 1:
			flags = append(flags, Flag{
				Kind:   KindKnowledgeIsland,
				Detail: fmt.Sprintf("%s is the sole owner of %s", owners[0].Assignee, a.Model.ThemeFor(assignment.Label)),
			})
		}
	}
	return flags
}

func (a *Assessor) strategicDrift(vec []float32) (Flag, bool) {
	if a.Strategy == nil || len(a.Strategy.Vector) == 0 || len(a.GlobalCentroid) == 0 {
		return Flag{}, false
	}
	v := vecmath.Normalized(vec)
	score, ok := strategy.Alignment(a.GlobalCentroid, v, a.Strategy.Vector)
	if !ok {
		return Flag{}, false
	}
	if float64(score) >= a.Config.DriftThreshold {
		return Flag{}, false
	}
	return Flag{
		Kind:   KindStrategicDrift,
		Detail: fmt.Sprintf("strategy alignment %.2f is below %.2f", score, a.Config.DriftThreshold),
	}, true
}

// ScopeReport is the result of comparing a ticket's title-only embedding
// with its full-text embedding.
type ScopeReport struct {
	Similarity     float32            `json:"similarity"`
	Expanded       bool               `json:"expanded"`
	TitleCluster   cluster.Assignment `json:"title_cluster"`
	FullCluster    cluster.Assignment `json:"full_cluster"`
	ClusterChanged bool               `json:"cluster_changed"`
}

// ScopeDrift compares the two embeddings of one ticket and, when they have
// drifted apart, reports how the cluster assignment moves between them.
// spreadMultiple is the noise cutoff passed through to cluster assignment.
func (a *Assessor) ScopeDrift(titleVec, fullVec []float32, spreadMultiple float64) (ScopeReport, *Flag, error) {
	if err := vecmath.CheckDim(len(titleVec), len(fullVec)); err != nil {
		return ScopeReport{}, nil, err
	}
	titleAssign, err := a.Model.Assign(titleVec, spreadMultiple)
	if err != nil {
		return ScopeReport{}, nil, err
	}
	fullAssign, err := a.Model.Assign(fullVec, spreadMultiple)
	if err != nil {
		return ScopeReport{}, nil, err
	}

	report := ScopeReport{
		Similarity:     vecmath.Cosine(titleVec, fullVec),
		TitleCluster:   titleAssign,
		FullCluster:    fullAssign,
		ClusterChanged: titleAssign.Label != fullAssign.Label,
	}
	if float64(report.Similarity) >= a.Config.ScopeDriftThreshold {
		return report, nil, nil
	}

	report.Expanded = true
	detail := fmt.Sprintf("scope expanded beyond title: similarity %.2f below %.2f", report.Similarity, a.Config.ScopeDriftThreshold)
	if report.ClusterChanged {
		detail += fmt.Sprintf(" (%s -> %s)", a.Model.ThemeFor(titleAssign.Label), a.Model.ThemeFor(fullAssign.Label))
	}
	return report, &Flag{Kind: KindScopeDrift, Detail: detail}, nil
}

// ReviewRecommended reports whether the flag count reaches the configured
// human-review policy.
func (a *Assessor) ReviewRecommended(flags []Flag) bool {
	n := a.Config.ReviewFlagCount
	if n <= 0 {
		n = 2
	}
	return len(flags) >= n
}
