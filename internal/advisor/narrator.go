package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/tasklens/internal/openai"
)

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

const narratorSystem = "You are a terse engineering-triage assistant. " +
	"Given facts about where a new ticket lands in the team's work history, " +
	"write one or two sentences of practical advice: who to talk to, what " +
	"similar work exists, and whether anything looks risky. No preamble."

// ChatNarrator renders advice through a chat completion model. Failures are
// swallowed by the caller, which falls back to a deterministic summary.
type ChatNarrator struct {
	client *openai.Client
	model  string
}

// NewChatNarrator creates a narrator using the given chat model.
func NewChatNarrator(client *openai.Client, model string) *ChatNarrator {
	return &ChatNarrator{client: client, model: model}
}

// Narrate turns the analysis facts into an advice line.
func (n *ChatNarrator) Narrate(ctx context.Context, res *Result) (string, error) {
	return n.client.Chat(ctx, n.model, narratorSystem, factSheet(res))
}

// factSheet serializes the result into the plain-text facts the narrator
// sees. The narrator never receives the raw ticket text.
func factSheet(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cluster: %s (confidence %.2f)\n", res.Cluster, res.Confidence)
	fmt.Fprintf(&b, "Top similarity: %.2f\n", res.TopSimilarity)
	for _, s := range res.Similar {
		fmt.Fprintf(&b, "Similar: %s %q (%s, %d, %.2f)\n", s.Key, s.Summary, s.Assignee, s.Year, s.Similarity)
	}
	for _, e := range res.Experts {
		fmt.Fprintf(&b, "Expert: %s (%d tickets)\n", e.Name, e.Count)
	}
	for _, r := range res.Risks {
		fmt.Fprintf(&b, "Risk: %s: %s\n", r.Kind, r.Detail)
	}
	if res.ReviewRecommended {
		b.WriteString("Human review recommended.\n")
	}
	return b.String()
}
