// Package rebuild produces a new serving snapshot from the stored tickets:
// embed (with a cache), fit the cluster model, project to 2-D, derive the
// strategy, and write the snapshot directory.
package rebuild

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tasklens/internal/cluster"
	"github.com/kalambet/tasklens/internal/index"
	"github.com/kalambet/tasklens/internal/snapshot"
	"github.com/kalambet/tasklens/internal/storage"
	"github.com/kalambet/tasklens/internal/strategy"
)

// Embedder turns ticket text into a vector; implementations wrap the
// external provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ThemeNamer names a cluster from its most central member summaries. A nil
// or failing namer leaves the cluster label as the theme.
type ThemeNamer interface {
	NameTheme(ctx context.Context, summaries []string) (string, error)
}

// Config controls a rebuild run.
type Config struct {
	EmbedModel  string
	Concurrency int // parallel embedding calls, default 4
	KMeansK     int // 0 picks a size-based default
	Seed        int64
	Strategy    strategy.Config
	ThemeSample int // summaries per cluster handed to the namer, default 5
	// ThemeOverrides maps cluster labels to curated theme names; they win
	// over whatever the namer produced.
	ThemeOverrides map[string]string
}

// Builder runs rebuilds against a ticket store.
type Builder struct {
	store    *storage.Store
	embedder Embedder
	namer    ThemeNamer
	cfg      Config
	logger   *slog.Logger
}

// New creates a Builder. namer may be nil.
func New(store *storage.Store, embedder Embedder, namer ThemeNamer, cfg Config, logger *slog.Logger) *Builder {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ThemeSample <= 0 {
		cfg.ThemeSample = 5
	}
	return &Builder{store: store, embedder: embedder, namer: namer, cfg: cfg, logger: logger}
}

// Run builds a snapshot from all stored tickets and writes it to outDir.
func (b *Builder) Run(ctx context.Context, outDir string) (*snapshot.Snapshot, error) {
	tickets, err := b.store.ListTickets()
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	if len(tickets) == 0 {
		return nil, errors.New("no tickets ingested, nothing to build")
	}
	b.logger.Info("rebuild started", "tickets", len(tickets))

	vectors, err := b.embedAll(ctx, tickets)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(tickets))
	for i, t := range tickets {
		keys[i] = t.Key
	}
	ix, err := index.New(keys, vectors)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}

	rows := make([][]float32, ix.Len())
	for i := range rows {
		rows[i] = ix.Vector(i)
	}
	model, err := cluster.Fit(rows, cluster.FitConfig{K: b.cfg.KMeansK, Seed: b.cfg.Seed})
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	coords := cluster.Project(rows, b.cfg.Seed)
	for i := range model.Points {
		model.Points[i].X = coords[i][0]
		model.Points[i].Y = coords[i][1]
	}
	b.nameThemes(ctx, model, tickets, rows)
	for ci, c := range model.Clusters {
		if theme, ok := b.cfg.ThemeOverrides[c.Label]; ok && theme != "" {
			model.Clusters[ci].Theme = theme
		}
	}
	b.logger.Info("cluster model fitted", "clusters", len(model.Clusters))

	strat := b.deriveStrategy(tickets, model, rows)

	meta := make([]snapshot.TicketMeta, len(tickets))
	for i, t := range tickets {
		meta[i] = snapshot.TicketMeta{
			Key:      t.Key,
			Summary:  t.Summary,
			Assignee: t.Assignee,
			Year:     t.Created.Year(),
			Created:  t.Created,
			Resolved: t.Resolved,
		}
	}

	snap, err := snapshot.New(ix, meta, model, strat)
	if err != nil {
		return nil, err
	}
	if err := snapshot.Write(outDir, snap); err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	b.logger.Info("snapshot written", "id", snap.Manifest.ID, "dir", outDir, "count", snap.Manifest.Count)
	return snap, nil
}

// embedAll returns one vector per ticket, reusing cached embeddings whose
// content hash still matches and fetching the rest concurrently.
func (b *Builder) embedAll(ctx context.Context, tickets []storage.Ticket) ([][]float32, error) {
	vectors := make([][]float32, len(tickets))
	hashes := make([]string, len(tickets))

	var missing []int
	for i, t := range tickets {
		hashes[i] = contentHash(t.FullText())
		cached, err := b.store.GetVector(t.Key, b.cfg.EmbedModel)
		if err == nil && cached.ContentHash == hashes[i] {
			vectors[i] = cached.Embedding
			continue
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("reading embedding cache for %s: %w", t.Key, err)
		}
		missing = append(missing, i)
	}
	b.logger.Info("embedding tickets", "cached", len(tickets)-len(missing), "to_embed", len(missing))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for _, i := range missing {
		g.Go(func() error {
			vec, err := b.embedder.Embed(gctx, tickets[i].FullText())
			if err != nil {
				return fmt.Errorf("embedding %s: %w", tickets[i].Key, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Cache writes stay on the single storage connection.
	for _, i := range missing {
		if err := b.store.PutVector(tickets[i].Key, b.cfg.EmbedModel, hashes[i], vectors[i]); err != nil {
			return nil, fmt.Errorf("caching embedding for %s: %w", tickets[i].Key, err)
		}
	}
	return vectors, nil
}

// nameThemes annotates each cluster with a short name derived from the
// summaries of its most central members.
func (b *Builder) nameThemes(ctx context.Context, model *cluster.Model, tickets []storage.Ticket, rows [][]float32) {
	if b.namer == nil {
		return
	}
	for ci, c := range model.Clusters {
		summaries := centralSummaries(c, model, tickets, rows, b.cfg.ThemeSample)
		if len(summaries) == 0 {
			continue
		}
		theme, err := b.namer.NameTheme(ctx, summaries)
		if err != nil {
			b.logger.Warn("theme naming failed, keeping label", "cluster", c.Label, "error", err)
			continue
		}
		if theme != "" {
			model.Clusters[ci].Theme = theme
		}
	}
}

// centralSummaries picks up to n member summaries nearest the centroid.
func centralSummaries(c cluster.Cluster, model *cluster.Model, tickets []storage.Ticket, rows [][]float32, n int) []string {
	type member struct {
		row  int
		dist float32
	}
	var members []member
	for i, p := range model.Points {
		if p.Label == c.Label {
			members = append(members, member{row: i, dist: sqDist(rows[i], c.Centroid)})
		}
	}
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && members[j].dist < members[j-1].dist; j-- {
			members[j], members[j-1] = members[j-1], members[j]
		}
	}
	if len(members) > n {
		members = members[:n]
	}
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = tickets[m.row].Summary
	}
	return out
}

func sqDist(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// deriveStrategy computes the strategy from resolved tickets, falling back
// to all tickets (by creation time) when too few are resolved.
func (b *Builder) deriveStrategy(tickets []storage.Ticket, model *cluster.Model, rows [][]float32) *strategy.Strategy {
	samples := make([]strategy.Sample, 0, len(tickets))
	for i, t := range tickets {
		if t.Resolved == nil {
			continue
		}
		samples = append(samples, strategy.Sample{
			When:  *t.Resolved,
			Theme: model.ThemeFor(model.Points[i].Label),
			Vec:   rows[i],
		})
	}
	strat, err := strategy.Compute(samples, b.cfg.Strategy)
	if err == nil {
		return strat
	}

	samples = samples[:0]
	for i, t := range tickets {
		samples = append(samples, strategy.Sample{
			When:  t.Created,
			Theme: model.ThemeFor(model.Points[i].Label),
			Vec:   rows[i],
		})
	}
	strat, err = strategy.Compute(samples, b.cfg.Strategy)
	if err != nil {
		b.logger.Warn("strategy unavailable", "error", err)
		return nil
	}
	return strat
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
