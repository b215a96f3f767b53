// Package advisor orchestrates a ticket analysis: embed the text, query
// the vector index, place the vector in the cluster model, rank experts,
// assess risks, and assemble the advisory result. It is the only package
// that calls the external embedding capability; everything else operates on
// vectors already in memory.
package advisor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kalambet/tasklens/internal/cluster"
	"github.com/kalambet/tasklens/internal/index"
	"github.com/kalambet/tasklens/internal/risk"
	"github.com/kalambet/tasklens/internal/snapshot"
	"github.com/kalambet/tasklens/internal/trajectory"
)

// Embedder turns ticket text into a fixed-length vector. Implementations
// wrap the external provider with its timeout policy.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Narrator turns the structured analysis into an advice line. A failing or
// absent narrator degrades to a deterministic fact-based summary, never to
// an analysis failure.
type Narrator interface {
	Narrate(ctx context.Context, res *Result) (string, error)
}

// Config holds the per-query knobs.
type Config struct {
	TopSimilar     int // neighbors fetched for expert ranking
	TopDisplay     int // neighbors shown in the result
	TopExperts     int // experts shown in the result
	SpreadMultiple float64
	AlignThreshold float64
	Risk           risk.Config
}

func (c Config) withDefaults() Config {
	if c.TopSimilar <= 0 {
		c.TopSimilar = 20
	}
	if c.TopDisplay <= 0 {
		c.TopDisplay = 5
	}
	if c.TopExperts <= 0 {
		c.TopExperts = 3
	}
	if c.SpreadMultiple <= 0 {
		c.SpreadMultiple = 3
	}
	return c
}

// Similar is one neighbor shown in the result.
type Similar struct {
	Key        string  `json:"key"`
	Summary    string  `json:"summary"`
	Assignee   string  `json:"assignee"`
	Year       int     `json:"year"`
	Cluster    string  `json:"cluster"`
	Similarity float32 `json:"similarity"`
}

// Expert is an assignee ranked by footprint among the nearest neighbors.
type Expert struct {
	Name  string    `json:"name"`
	Count int       `json:"count"`
	Last  time.Time `json:"last"`
}

// Position is a 2-D map coordinate.
type Position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Result is the assembled advisory for one ticket text.
type Result struct {
	UMAPPos           Position    `json:"umap_pos"`
	Cluster           string      `json:"cluster"`
	Confidence        float32     `json:"confidence"`
	TopSimilarity     float32     `json:"top_similarity"`
	Similar           []Similar   `json:"similar"`
	Experts           []Expert    `json:"experts"`
	Risks             []risk.Flag `json:"risks"`
	ReviewRecommended bool        `json:"review_recommended"`
	Advice            string      `json:"advice"`
}

// Advisor analyzes ticket text against an immutable snapshot.
type Advisor struct {
	embedder Embedder
	narrator Narrator
	cfg      Config
}

// New creates an Advisor. narrator may be nil.
func New(embedder Embedder, narrator Narrator, cfg Config) *Advisor {
	return &Advisor{embedder: embedder, narrator: narrator, cfg: cfg.withDefaults()}
}

// Analyze runs the full pipeline for one ticket text against the snapshot.
func (a *Advisor) Analyze(ctx context.Context, snap *snapshot.Snapshot, text string) (*Result, error) {
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	hits, err := snap.Index.Search(vec, a.cfg.TopSimilar)
	if err != nil {
		return nil, err
	}

	assignment, err := snap.Clusters.Assign(vec, a.cfg.SpreadMultiple)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Cluster:       snap.Clusters.ThemeFor(assignment.Label),
		Confidence:    assignment.Confidence,
		TopSimilarity: hits[0].Score,
	}

	display := a.cfg.TopDisplay
	if display > len(hits) {
		display = len(hits)
	}
	for _, h := range hits[:display] {
		m := snap.Meta[h.Row]
		res.Similar = append(res.Similar, Similar{
			Key:        h.Key,
			Summary:    m.Summary,
			Assignee:   m.Assignee,
			Year:       m.Year,
			Cluster:    snap.Clusters.ThemeFor(snap.Clusters.Points[h.Row].Label),
			Similarity: h.Score,
		})
	}

	// The map position of an unseen ticket is estimated as the mean of its
	// displayed neighbors' projected coordinates.
	for _, h := range hits[:display] {
		p := snap.Clusters.Points[h.Row]
		res.UMAPPos.X += p.X / float32(display)
		res.UMAPPos.Y += p.Y / float32(display)
	}

	res.Experts = rankExperts(snap, hits, a.cfg.TopExperts)

	assessor := assessorFor(snap, a.cfg.Risk)
	res.Risks = assessor.Evaluate(vec, assignment)
	res.ReviewRecommended = assessor.ReviewRecommended(res.Risks)

	res.Advice = a.advice(ctx, res)
	return res, nil
}

// ScopeCheck embeds a ticket's title and full text separately and reports
// whether the scope drifted between them.
func (a *Advisor) ScopeCheck(ctx context.Context, snap *snapshot.Snapshot, title, fullText string) (risk.ScopeReport, []risk.Flag, error) {
	titleVec, err := a.embedder.Embed(ctx, title)
	if err != nil {
		return risk.ScopeReport{}, nil, err
	}
	fullVec, err := a.embedder.Embed(ctx, fullText)
	if err != nil {
		return risk.ScopeReport{}, nil, err
	}

	assessor := assessorFor(snap, a.cfg.Risk)
	report, flag, err := assessor.ScopeDrift(titleVec, fullVec, a.cfg.SpreadMultiple)
	if err != nil {
		return risk.ScopeReport{}, nil, err
	}
	var flags []risk.Flag
	if flag != nil {
		flags = append(flags, *flag)
	}
	return report, flags, nil
}

// Story builds the work story for an assignee from the snapshot state.
func (a *Advisor) Story(snap *snapshot.Snapshot, assignee string) (*trajectory.Story, error) {
	cfg := trajectory.StoryConfig{
		CentroidFor:    snap.Clusters.CentroidFor,
		AlignThreshold: a.cfg.AlignThreshold,
		NoiseLabel:     cluster.NoiseLabel,
	}
	if snap.Strategy != nil {
		cfg.StrategyVector = snap.Strategy.Vector
	}
	return snap.Tracker.Story(assignee, cfg)
}

func assessorFor(snap *snapshot.Snapshot, cfg risk.Config) *risk.Assessor {
	return &risk.Assessor{
		Model:          snap.Clusters,
		Strategy:       snap.Strategy,
		Tracker:        snap.Tracker,
		GlobalCentroid: snap.Index.Centroid(),
		Config:         cfg,
	}
}

// rankExperts groups the neighbors' assignees, counts occurrences, and
// sorts by count, then most recent ticket, then name.
func rankExperts(snap *snapshot.Snapshot, hits []index.Result, limit int) []Expert {
	type stat struct {
		count int
		last  time.Time
	}
	stats := make(map[string]*stat)
	for _, h := range hits {
		m := snap.Meta[h.Row]
		if m.Assignee == "" {
			continue
		}
		s := stats[m.Assignee]
		if s == nil {
			s = &stat{}
			stats[m.Assignee] = s
		}
		s.count++
		when := m.Created
		if m.Resolved != nil {
			when = *m.Resolved
		}
		if when.After(s.last) {
			s.last = when
		}
	}

	experts := make([]Expert, 0, len(stats))
	for name, s := range stats {
		experts = append(experts, Expert{Name: name, Count: s.count, Last: s.last})
	}
	sort.Slice(experts, func(i, j int) bool {
		if experts[i].Count != experts[j].Count {
			return experts[i].Count > experts[j].Count
		}
		if !experts[i].Last.Equal(experts[j].Last) {
			return experts[i].Last.After(experts[j].Last)
		}
		return experts[i].Name < experts[j].Name
	})
	if len(experts) > limit {
		experts = experts[:limit]
	}
	return experts
}

func (a *Advisor) advice(ctx context.Context, res *Result) string {
	if a.narrator != nil {
		if text, err := a.narrator.Narrate(ctx, res); err == nil && text != "" {
			return text
		}
	}
	return fallbackAdvice(res)
}

func fallbackAdvice(res *Result) string {
	advice := fmt.Sprintf("Closest match is %s theme", res.Cluster)
	if len(res.Experts) > 0 {
		advice += fmt.Sprintf("; %s has handled %d similar tickets", res.Experts[0].Name, res.Experts[0].Count)
	}
	if len(res.Risks) > 0 {
		advice += fmt.Sprintf("; %d risk flag(s) raised", len(res.Risks))
	}
	if res.ReviewRecommended {
		advice += "; human review recommended"
	}
	return advice + "."
}
