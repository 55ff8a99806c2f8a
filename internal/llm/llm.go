// Package llm abstracts the upstream text-generation service. The
// concrete client speaks the OpenAI-compatible chat API through
// langchaingo; everything above it depends only on Client.
package llm

import "context"

// Message is one turn of model input.
type Message struct {
	Role    string // system, user, assistant, tool
	Content string

	// ToolCalls is set on assistant turns that invoked tools.
	ToolCalls []ToolCall

	// ToolCallID and ToolName are set on tool-result turns.
	ToolCallID string
	ToolName   string
}

// ToolCall is the model's request to invoke a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON, {"input": "..."} for single-string tools
}

// ToolSpec describes a callable capability for model-facing discovery.
type ToolSpec struct {
	Name        string
	Description string
}

// Result is the final state of one generation call.
type Result struct {
	Content   string
	ToolCalls []ToolCall
}

// TokenFunc receives incremental output tokens in arrival order.
type TokenFunc func(token string)

// Client is implemented by upstream model providers.
type Client interface {
	// StreamChat sends one chat turn. Tokens are forwarded to onToken
	// as they arrive; the returned Result carries the full content and
	// any pending tool calls. May fail after partial emission.
	StreamChat(ctx context.Context, msgs []Message, tools []ToolSpec, onToken TokenFunc) (*Result, error)

	// Complete issues a single non-streaming prompt, used for
	// best-effort auxiliary calls like summarization.
	Complete(ctx context.Context, prompt string) (string, error)
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
