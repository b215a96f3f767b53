package rebuild

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/tasklens/internal/snapshot"
	"github.com/kalambet/tasklens/internal/storage"
	"github.com/kalambet/tasklens/internal/strategy"
)

// hashEmbedder maps text deterministically onto one of two directions so
// tickets mentioning "billing" separate from the rest.
type hashEmbedder struct {
	calls atomic.Int32
	err   error
}

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h.calls.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	var n float32
	for _, r := range text {
		n += float32(r%7) * 0.001
	}
	if containsBilling(text) {
		return []float32{0.05 + n/100, 1}, nil
	}
	return []float32{1, 0.05 + n/100}, nil
}

func containsBilling(text string) bool {
	for i := 0; i+7 <= len(text); i++ {
		if text[i:i+7] == "billing" {
			return true
		}
	}
	return false
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedTickets(t *testing.T, s *storage.Store) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tickets []storage.Ticket
	for i := 0; i < 8; i++ {
		created := base.AddDate(0, 0, i*10)
		resolved := created.AddDate(0, 0, 5)
		topic := "search latency issue"
		assignee := "alex"
		if i >= 4 {
			topic = "billing invoice bug"
			assignee = "bo"
		}
		tickets = append(tickets, storage.Ticket{
			Key:      key(i),
			Summary:  topic,
			Assignee: assignee,
			Created:  created,
			Resolved: &resolved,
		})
	}
	if err := s.UpsertTickets(tickets); err != nil {
		t.Fatalf("UpsertTickets: %v", err)
	}
}

func key(i int) string {
	return "T-" + string(rune('1'+i))
}

func testBuilder(s *storage.Store, emb Embedder) *Builder {
	return New(s, emb, nil, Config{
		EmbedModel: "test-model",
		KMeansK:    2,
		Seed:       1,
		Strategy:   strategy.Config{Windows: 2, MinWindowSize: 2},
	}, quietLogger())
}

func TestRunProducesLoadableSnapshot(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	seedTickets(t, s)

	dir := filepath.Join(t.TempDir(), "snapshot")
	b := testBuilder(s, &hashEmbedder{})

	snap, err := b.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.Index.Len() != 8 {
		t.Errorf("index size = %d, want 8", snap.Index.Len())
	}
	if len(snap.Clusters.Clusters) != 2 {
		t.Errorf("clusters = %d, want 2", len(snap.Clusters.Clusters))
	}
	if snap.Strategy == nil {
		t.Error("strategy missing")
	}

	loaded, err := snapshot.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Index.Len() != snap.Index.Len() {
		t.Errorf("loaded %d rows, want %d", loaded.Index.Len(), snap.Index.Len())
	}
	// The two topics must not share a cluster.
	first := loaded.Clusters.Points[0].Label
	last := loaded.Clusters.Points[7].Label
	if first == last {
		t.Errorf("search and billing tickets share cluster %q", first)
	}
}

func TestRunUsesEmbeddingCache(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	seedTickets(t, s)

	emb := &hashEmbedder{}
	b := testBuilder(s, emb)

	if _, err := b.Run(context.Background(), filepath.Join(t.TempDir(), "s1")); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstCalls := emb.calls.Load()
	if firstCalls != 8 {
		t.Fatalf("first run made %d embed calls, want 8", firstCalls)
	}

	if _, err := b.Run(context.Background(), filepath.Join(t.TempDir(), "s2")); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if emb.calls.Load() != firstCalls {
		t.Errorf("second run made %d extra calls, want 0 (cache hit)", emb.calls.Load()-firstCalls)
	}

	// Changing a ticket invalidates only its cache entry.
	tk, err := s.GetTicket("T-1")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	tk.Summary = "search latency regression"
	if err := s.UpsertTickets([]storage.Ticket{tk}); err != nil {
		t.Fatalf("UpsertTickets: %v", err)
	}
	if _, err := b.Run(context.Background(), filepath.Join(t.TempDir(), "s3")); err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if got := emb.calls.Load() - firstCalls; got != 1 {
		t.Errorf("third run made %d embed calls, want 1", got)
	}
}

func TestRunEmptyStore(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	b := testBuilder(s, &hashEmbedder{})
	if _, err := b.Run(context.Background(), t.TempDir()); err == nil {
		t.Fatal("Run on empty store succeeded")
	}
}

func TestRunEmbedderFailure(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	seedTickets(t, s)

	wantErr := errors.New("provider down")
	b := testBuilder(s, &hashEmbedder{err: wantErr})
	if _, err := b.Run(context.Background(), t.TempDir()); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
}

type staticNamer struct{}

func (staticNamer) NameTheme(_ context.Context, summaries []string) (string, error) {
	if containsBilling(summaries[0]) {
		return "billing", nil
	}
	return "search", nil
}

func TestRunNamesThemes(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	seedTickets(t, s)

	b := New(s, &hashEmbedder{}, staticNamer{}, Config{
		EmbedModel: "test-model",
		KMeansK:    2,
		Seed:       1,
		Strategy:   strategy.Config{Windows: 2, MinWindowSize: 2},
	}, quietLogger())

	snap, err := b.Run(context.Background(), filepath.Join(t.TempDir(), "snapshot"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	themes := map[string]bool{}
	for _, c := range snap.Clusters.Clusters {
		themes[c.Theme] = true
	}
	if !themes["billing"] || !themes["search"] {
		t.Errorf("themes = %v, want billing and search", themes)
	}
}

func TestRunThemeOverridesWin(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	seedTickets(t, s)

	b := New(s, &hashEmbedder{}, staticNamer{}, Config{
		EmbedModel: "test-model",
		KMeansK:    2,
		Seed:       1,
		Strategy:   strategy.Config{Windows: 2, MinWindowSize: 2},
		ThemeOverrides: map[string]string{
			"cluster-0": "payments",
			"cluster-1": "payments",
		},
	}, quietLogger())

	snap, err := b.Run(context.Background(), filepath.Join(t.TempDir(), "snapshot"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range snap.Clusters.Clusters {
		if c.Theme != "payments" {
			t.Errorf("cluster %s theme = %q, want payments", c.Label, c.Theme)
		}
	}
}
