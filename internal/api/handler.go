// Package api serves the HTTP surface: ticket analysis, scope checks, work
// stories, strategy, snapshot reload, and ticket ingestion. Handlers read
// the snapshot once per request from the shared holder.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tasklens/internal/advisor"
	"github.com/kalambet/tasklens/internal/index"
	"github.com/kalambet/tasklens/internal/openai"
	"github.com/kalambet/tasklens/internal/snapshot"
	"github.com/kalambet/tasklens/internal/storage"
	"github.com/kalambet/tasklens/internal/trajectory"
	"github.com/kalambet/tasklens/internal/vecmath"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Snapshots   *snapshot.Holder
	Advisor     *advisor.Advisor
	Store       *storage.Store
	Token       string
	SnapshotDir string
	Logger      *slog.Logger
}

// NewHandler builds the router. Analysis endpoints are open; reload and
// ticket ingestion require the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/health", handleHealth(deps))
	r.Post("/api/analyze", handleAnalyze(deps))
	r.Post("/api/scope-check", handleScopeCheck(deps))
	r.Get("/api/strategy", handleStrategy(deps))
	r.Get("/api/assignees/{assignee}/story", handleStory(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/api/reload", handleReload(deps))
		r.Post("/tickets", handleTickets(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		indexed := 0
		if snap := deps.Snapshots.Current(); snap != nil {
			indexed = snap.Index.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"indexed": indexed,
		})
	}
}

type analyzeRequest struct {
	Text string `json:"text"`
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		snap := deps.Snapshots.Current()
		if snap == nil {
			httpError(w, http.StatusServiceUnavailable, "index_unavailable", "no snapshot loaded")
			return
		}

		res, err := deps.Advisor.Analyze(r.Context(), snap, req.Text)
		if err != nil {
			writeAnalysisError(w, deps, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

type scopeCheckRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func handleScopeCheck(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req scopeCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" || req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title and text are required")
			return
		}

		snap := deps.Snapshots.Current()
		if snap == nil {
			httpError(w, http.StatusServiceUnavailable, "index_unavailable", "no snapshot loaded")
			return
		}

		report, flags, err := deps.Advisor.ScopeCheck(r.Context(), snap, req.Title, req.Text)
		if err != nil {
			writeAnalysisError(w, deps, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"report": report,
			"flags":  flags,
		})
	}
}

func handleStrategy(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Snapshots.Current()
		if snap == nil {
			httpError(w, http.StatusServiceUnavailable, "index_unavailable", "no snapshot loaded")
			return
		}
		if snap.Strategy == nil {
			httpError(w, http.StatusNotFound, "not_found", "strategy not available for this snapshot")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap.Strategy)
	}
}

func handleStory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Snapshots.Current()
		if snap == nil {
			httpError(w, http.StatusServiceUnavailable, "index_unavailable", "no snapshot loaded")
			return
		}

		assignee := chi.URLParam(r, "assignee")
		story, err := deps.Advisor.Story(snap, assignee)
		if errors.Is(err, trajectory.ErrNoData) {
			httpError(w, http.StatusNotFound, "not_found", "no ticket history for %q", assignee)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "building story: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(story)
	}
}

func handleReload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := snapshot.Load(deps.SnapshotDir)
		if errors.Is(err, snapshot.ErrCorrupt) {
			httpError(w, http.StatusConflict, "snapshot_corrupt", "refusing to serve corrupt snapshot: %v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading snapshot: %v", err)
			return
		}

		deps.Snapshots.Swap(snap)
		deps.Logger.Info("snapshot reloaded", "id", snap.Manifest.ID, "indexed", snap.Manifest.Count)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap.Manifest)
	}
}

type ticketPayload struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Comments    string `json:"comments"`
	Assignee    string `json:"assignee"`
	Created     string `json:"created"`
	Resolved    string `json:"resolved"`
}

func (p ticketPayload) toTicket() (storage.Ticket, error) {
	if p.Key == "" {
		return storage.Ticket{}, errors.New("key is required")
	}
	if p.Summary == "" {
		return storage.Ticket{}, errors.New("summary is required")
	}
	created, err := time.Parse(time.RFC3339, p.Created)
	if err != nil {
		return storage.Ticket{}, fmt.Errorf("invalid created timestamp: %v", err)
	}
	t := storage.Ticket{
		Key:         p.Key,
		Summary:     p.Summary,
		Description: p.Description,
		Comments:    p.Comments,
		Assignee:    p.Assignee,
		Created:     created,
	}
	if p.Resolved != "" {
		resolved, err := time.Parse(time.RFC3339, p.Resolved)
		if err != nil {
			return storage.Ticket{}, fmt.Errorf("invalid resolved timestamp: %v", err)
		}
		t.Resolved = &resolved
	}
	return t, nil
}

func handleTickets(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
		defer r.Body.Close()

		var payload []ticketPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(payload) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no tickets in request")
			return
		}

		tickets := make([]storage.Ticket, 0, len(payload))
		for i, p := range payload {
			t, err := p.toTicket()
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "ticket %d: %v", i, err)
				return
			}
			tickets = append(tickets, t)
		}

		if err := deps.Store.UpsertTickets(tickets); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing tickets: %v", err)
			return
		}
		deps.Logger.Info("tickets ingested", "count", len(tickets))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "stored",
			"ingested": len(tickets),
		})
	}
}

// writeAnalysisError maps pipeline failures onto the wire: provider outages
// are a distinct 502, an empty index is 503, bad vectors are 400.
func writeAnalysisError(w http.ResponseWriter, deps Deps, err error) {
	switch {
	case errors.Is(err, openai.ErrUnavailable):
		deps.Logger.Warn("embedding provider unavailable", "error", err)
		httpError(w, http.StatusBadGateway, "embedding_unavailable", "embedding provider failed: %v", err)
	case errors.Is(err, index.ErrEmptyIndex):
		httpError(w, http.StatusServiceUnavailable, "index_unavailable", "vector index is empty")
	case errors.Is(err, vecmath.ErrDimensionMismatch):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "embedding dimension mismatch: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "analysis failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
