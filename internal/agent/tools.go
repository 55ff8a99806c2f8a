// Package agent drives the tool-augmented model loop and defines the
// capabilities the model may invoke mid-run.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chathub/internal/llm"
	"chathub/internal/store"
)

// Tool is one callable capability. Func never returns an error: tool
// failures become human-readable output so the loop can continue or
// explain the failure to the user.
type Tool struct {
	Name        string
	Description string
	Func        func(ctx context.Context, input string) string
}

// Specs renders the registry for model-facing discovery.
func Specs(tools []Tool) []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		out = append(out, llm.ToolSpec{Name: t.Name, Description: t.Description})
	}
	return out
}

func lookup(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// ConversationReader is the slice of the conversation store the tools
// need.
type ConversationReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]store.Conversation, error)
	FindByTitle(ctx context.Context, userID uuid.UUID, q string) (*store.Conversation, error)
}

// MessageReader reads recent messages for snippets.
type MessageReader interface {
	ListRecent(ctx context.Context, conversationID uuid.UUID, n int) ([]store.Message, error)
}

// ProfileStore reads and writes the user's stored profile summary.
type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	SetProfileSummary(ctx context.Context, userID uuid.UUID, text string) error
}

// UserTools builds the registry with the calling user bound in. Every
// tool is scoped to that user's own rows; the registry is a fixed
// ordered list.
func UserTools(userID uuid.UUID, convs ConversationReader, msgs MessageReader, profiles ProfileStore) []Tool {
	return []Tool{
		{
			Name:        "get_time",
			Description: "Get the current time in ISO format.",
			Func: func(context.Context, string) string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		},
		{
			Name:        "list_conversations",
			Description: "List recent conversations for the signed-in user with ids, titles, and timestamps.",
			Func: func(ctx context.Context, _ string) string {
				list, err := convs.ListByUser(ctx, userID, 10)
				if err != nil || len(list) == 0 {
					return "No conversations found."
				}
				lines := make([]string, 0, len(list))
				for _, c := range list {
					lines = append(lines, fmt.Sprintf("%s | %s | %s",
						c.ID, titleOrUntitled(c.Title), c.UpdatedAt.UTC().Format(time.RFC3339)))
				}
				return strings.Join(lines, "\n")
			},
		},
		{
			Name:        "get_conversation_snippet",
			Description: "Given a conversation title or partial title, return a short snippet of its recent messages.",
			Func: func(ctx context.Context, input string) string {
				q := strings.TrimSpace(input)
				if q == "" {
					return "No title provided."
				}
				c, err := convs.FindByTitle(ctx, userID, q)
				if err != nil {
					return "No matching conversation found."
				}
				recent, err := msgs.ListRecent(ctx, c.ID, 6)
				if err != nil {
					return "No matching conversation found."
				}
				lines := []string{fmt.Sprintf("Conversation: %s (%s)",
					titleOrUntitled(c.Title), c.UpdatedAt.UTC().Format(time.RFC3339))}
				for _, m := range recent {
					lines = append(lines, fmt.Sprintf("%s: %s", m.Role, truncate(m.Content, 200)))
				}
				return strings.Join(lines, "\n")
			},
		},
		{
			Name:        "get_conversation_summary",
			Description: "Given a conversation title or partial title, return the stored summary if available.",
			Func: func(ctx context.Context, input string) string {
				q := strings.TrimSpace(input)
				if q == "" {
					return "No title provided."
				}
				c, err := convs.FindByTitle(ctx, userID, q)
				if err != nil {
					return "No matching conversation found."
				}
				if c.Summary == nil || *c.Summary == "" {
					return "No summary saved yet."
				}
				return *c.Summary
			},
		},
		{
			Name:        "get_user_profile",
			Description: "Fetch the stored user profile/summary for personalization.",
			Func: func(ctx context.Context, _ string) string {
				u, err := profiles.GetByID(ctx, userID)
				if err != nil || u.ProfileSummary == nil || *u.ProfileSummary == "" {
					return "No profile stored yet."
				}
				return *u.ProfileSummary
			},
		},
		{
			Name:        "set_user_profile",
			Description: "Store or update the user profile/summary for personalization. Provide a concise paragraph.",
			Func: func(ctx context.Context, input string) string {
				text := strings.TrimSpace(input)
				if text == "" {
					return "No profile content provided."
				}
				if err := profiles.SetProfileSummary(ctx, userID, text); err != nil {
					return "Failed to update profile."
				}
				return "Profile updated."
			},
		},
	}
}

func titleOrUntitled(t *string) string {
	if t == nil || *t == "" {
		return "Untitled"
	}
	return *t
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
