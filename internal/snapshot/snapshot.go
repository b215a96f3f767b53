// Package snapshot persists and loads the immutable serving state: the
// vector index, ticket metadata, cluster model, and strategy, written by
// the rebuild and read at startup or on an explicit reload. All arrays are
// parallel over the same row order; any inconsistency fails the load.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tasklens/internal/cluster"
	"github.com/kalambet/tasklens/internal/index"
	"github.com/kalambet/tasklens/internal/strategy"
	"github.com/kalambet/tasklens/internal/trajectory"
	"github.com/kalambet/tasklens/internal/vecmath"
)

// ErrCorrupt marks a snapshot whose persisted arrays are inconsistent.
// Loading fails fast instead of serving misaligned results.
var ErrCorrupt = errors.New("snapshot corrupt")

const (
	manifestFile = "manifest.json"
	vectorsFile  = "vectors.f32"
	keysFile     = "keys.json"
	metaFile     = "meta.json"
	clustersFile = "clusters.json"
)

// Manifest identifies a snapshot and pins the array shape the other files
// must agree on.
type Manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Count     int       `json:"count"`
	Dim       int       `json:"dim"`
}

// TicketMeta is the per-row ticket metadata, parallel to the index rows.
type TicketMeta struct {
	Key      string     `json:"key"`
	Summary  string     `json:"summary"`
	Assignee string     `json:"assignee"`
	Year     int        `json:"year"`
	Created  time.Time  `json:"created"`
	Resolved *time.Time `json:"resolved,omitempty"`
}

// clustersDoc is the on-disk shape of clusters.json.
type clustersDoc struct {
	Clusters *cluster.Model     `json:"model"`
	Strategy *strategy.Strategy `json:"strategy,omitempty"`
}

// Snapshot is the loaded, immutable serving state. Tracker is derived from
// Meta and the cluster points at load time, not persisted.
type Snapshot struct {
	Manifest Manifest
	Index    *index.Index
	Meta     []TicketMeta
	Clusters *cluster.Model
	Strategy *strategy.Strategy
	Tracker  *trajectory.Tracker
}

// New assembles a snapshot from in-memory parts, deriving the manifest and
// tracker. Used by the rebuild before writing.
func New(ix *index.Index, meta []TicketMeta, model *cluster.Model, strat *strategy.Strategy) (*Snapshot, error) {
	s := &Snapshot{
		Manifest: Manifest{
			ID:        uuid.NewString(),
			CreatedAt: time.Now().UTC(),
			Count:     ix.Len(),
			Dim:       ix.Dim(),
		},
		Index:    ix,
		Meta:     meta,
		Clusters: model,
		Strategy: strat,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.Tracker = buildTracker(s)
	return s, nil
}

// Load reads a snapshot directory, validates cross-file consistency, and
// derives the trajectory tracker. Any mismatch returns ErrCorrupt.
func Load(dir string) (*Snapshot, error) {
	var m Manifest
	if err := readJSON(filepath.Join(dir, manifestFile), &m); err != nil {
		return nil, err
	}

	var keys []string
	if err := readJSON(filepath.Join(dir, keysFile), &keys); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(dir, vectorsFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", vectorsFile, err)
	}
	flat, err := vecmath.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, vectorsFile, err)
	}
	if len(flat) != m.Count*m.Dim {
		return nil, fmt.Errorf("%w: %s holds %d floats, manifest says %dx%d", ErrCorrupt, vectorsFile, len(flat), m.Count, m.Dim)
	}
	vectors := make([][]float32, m.Count)
	for i := range vectors {
		vectors[i] = flat[i*m.Dim : (i+1)*m.Dim]
	}

	var meta []TicketMeta
	if err := readJSON(filepath.Join(dir, metaFile), &meta); err != nil {
		return nil, err
	}

	var cd clustersDoc
	if err := readJSON(filepath.Join(dir, clustersFile), &cd); err != nil {
		return nil, err
	}
	if cd.Clusters == nil {
		return nil, fmt.Errorf("%w: %s has no cluster model", ErrCorrupt, clustersFile)
	}

	if len(keys) != m.Count {
		return nil, fmt.Errorf("%w: %d keys for %d rows", ErrCorrupt, len(keys), m.Count)
	}

	ix, err := index.New(keys, vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	s := &Snapshot{
		Manifest: m,
		Index:    ix,
		Meta:     meta,
		Clusters: cd.Clusters,
		Strategy: cd.Strategy,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.Tracker = buildTracker(s)
	return s, nil
}

// Write persists the snapshot into dir, staging into a temp directory and
// renaming so readers never observe a partial snapshot.
func Write(dir string, s *Snapshot) error {
	if err := s.validate(); err != nil {
		return err
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating snapshot parent: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	flat := make([]float32, 0, s.Index.Len()*s.Index.Dim())
	keys := make([]string, s.Index.Len())
	for i := 0; i < s.Index.Len(); i++ {
		keys[i] = s.Index.Key(i)
		flat = append(flat, s.Index.Vector(i)...)
	}

	if err := os.WriteFile(filepath.Join(tmp, vectorsFile), vecmath.Encode(flat), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", vectorsFile, err)
	}
	if err := writeJSON(filepath.Join(tmp, keysFile), keys); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tmp, metaFile), s.Meta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tmp, clustersFile), clustersDoc{Clusters: s.Clusters, Strategy: s.Strategy}); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tmp, manifestFile), s.Manifest); err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing previous snapshot: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	return nil
}

// validate enforces the cross-array invariants: consistent counts, matching
// key order between index and metadata, and a cluster model sized to the
// index.
func (s *Snapshot) validate() error {
	n := s.Index.Len()
	if s.Manifest.Count != n {
		return fmt.Errorf("%w: manifest count %d, index holds %d", ErrCorrupt, s.Manifest.Count, n)
	}
	if n > 0 && s.Manifest.Dim != s.Index.Dim() {
		return fmt.Errorf("%w: manifest dim %d, index dim %d", ErrCorrupt, s.Manifest.Dim, s.Index.Dim())
	}
	if len(s.Meta) != n {
		return fmt.Errorf("%w: %d meta rows for %d index rows", ErrCorrupt, len(s.Meta), n)
	}
	for i, m := range s.Meta {
		if m.Key != s.Index.Key(i) {
			return fmt.Errorf("%w: meta row %d has key %q, index has %q", ErrCorrupt, i, m.Key, s.Index.Key(i))
		}
	}
	if s.Clusters == nil {
		return fmt.Errorf("%w: missing cluster model", ErrCorrupt)
	}
	if err := s.Clusters.Validate(n, s.Index.Dim()); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.Strategy != nil && len(s.Strategy.Vector) != s.Index.Dim() {
		return fmt.Errorf("%w: strategy vector dim %d, index dim %d", ErrCorrupt, len(s.Strategy.Vector), s.Index.Dim())
	}
	return nil
}

// buildTracker derives per-assignee trajectories from the metadata and
// per-row cluster labels. Unresolved tickets are ordered by creation time.
func buildTracker(s *Snapshot) *trajectory.Tracker {
	tickets := make([]trajectory.Ticket, 0, len(s.Meta))
	for i, m := range s.Meta {
		label := s.Clusters.Points[i].Label
		when := m.Created
		if m.Resolved != nil {
			when = *m.Resolved
		}
		tickets = append(tickets, trajectory.Ticket{
			Key:      m.Key,
			Assignee: m.Assignee,
			Cluster:  label,
			Theme:    s.Clusters.ThemeFor(label),
			When:     when,
			Resolved: m.Resolved != nil,
		})
	}
	return trajectory.New(tickets)
}

func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
