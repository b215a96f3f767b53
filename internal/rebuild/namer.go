package rebuild

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/tasklens/internal/openai"
)

const namerSystem = `You label clusters of support tickets. Given a few representative ticket summaries, answer with a short lowercase theme of one to three words, like "billing" or "search relevance". Answer with the theme only, no punctuation.`

// ChatNamer names cluster themes with a chat model.
type ChatNamer struct {
	client *openai.Client
	model  string
}

func NewChatNamer(client *openai.Client, model string) *ChatNamer {
	return &ChatNamer{client: client, model: model}
}

func (n *ChatNamer) NameTheme(ctx context.Context, summaries []string) (string, error) {
	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	out, err := n.client.Chat(ctx, n.model, namerSystem, b.String())
	if err != nil {
		return "", err
	}
	theme := strings.ToLower(strings.TrimSpace(out))
	if theme == "" {
		return "", fmt.Errorf("empty theme from model")
	}
	return theme, nil
}
