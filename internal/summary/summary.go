// Package summary condenses recent conversation turns into a short
// stored synopsis. Everything here is best-effort: failures are
// returned for logging but must never block or alter the primary
// request.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chathub/internal/llm"
	"chathub/internal/store"
)

// maxTranscriptChars bounds the rendered transcript sent to the model.
const maxTranscriptChars = 4000

// recentMessages is how many turns feed one summary.
const recentMessages = 20

type MessageReader interface {
	ListRecent(ctx context.Context, conversationID uuid.UUID, n int) ([]store.Message, error)
}

type SummaryWriter interface {
	SetSummary(ctx context.Context, id uuid.UUID, summary string) error
}

type Generator struct {
	client   llm.Client
	msgs     MessageReader
	convs    SummaryWriter
	maxWords int
}

func NewGenerator(client llm.Client, msgs MessageReader, convs SummaryWriter, maxWords int) *Generator {
	if maxWords <= 0 {
		maxWords = 60
	}
	return &Generator{client: client, msgs: msgs, convs: convs, maxWords: maxWords}
}

// Regenerate overwrites the conversation's stored summary from its
// recent turns. An empty transcript or an empty model response leaves
// the existing summary untouched.
func (g *Generator) Regenerate(ctx context.Context, conversationID uuid.UUID) error {
	msgs, err := g.msgs.ListRecent(ctx, conversationID, recentMessages)
	if err != nil {
		return fmt.Errorf("load recent messages: %w", err)
	}

	text := renderTranscript(msgs)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	prompt := fmt.Sprintf(
		"Summarize this conversation in under %d words. Capture goals, decisions, and context.\n\n%s",
		g.maxWords, text)

	out, err := g.client.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}

	if err := g.convs.SetSummary(ctx, conversationID, out); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

// renderTranscript formats messages oldest-first as "role: content"
// lines and keeps only the final maxTranscriptChars characters.
func renderTranscript(msgs []store.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Role+": "+m.Content)
	}
	text := strings.Join(lines, "\n")
	r := []rune(text)
	if len(r) > maxTranscriptChars {
		return string(r[len(r)-maxTranscriptChars:])
	}
	return text
}
