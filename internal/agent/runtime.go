package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chathub/internal/checkpoint"
	"chathub/internal/llm"
	"chathub/internal/store"
)

// DefaultSystemPrompt seeds every run unless overridden.
const DefaultSystemPrompt = "You are a really advanced AGI. Like IronMan's Jarvis. " +
	"You have tools for recalling the user's conversations and profile; use them when they help."

// maxSteps bounds the tool loop so a misbehaving model cannot spin
// forever.
const maxSteps = 8

// Checkpointer is the slice of the checkpoint store the runtime needs.
type Checkpointer interface {
	Append(ctx context.Context, threadID uuid.UUID, cfg, snapshot, meta json.RawMessage) (uuid.UUID, error)
	AppendPendingWrites(ctx context.Context, threadID uuid.UUID, writes []checkpoint.PendingWrite) error
}

// Runtime drives one execution of the tool-augmented model loop. It is
// stateless across runs; all step state lives in the checkpoint store
// under the thread id.
type Runtime struct {
	client llm.Client
	saver  Checkpointer
	system string
}

func NewRuntime(client llm.Client, saver Checkpointer, systemPrompt string) *Runtime {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Runtime{client: client, saver: saver, system: systemPrompt}
}

// Params configures one run.
type Params struct {
	ThreadID uuid.UUID
	Prompt   string
	History  []store.Message
	Tools    []Tool
	OnToken  llm.TokenFunc
}

// PartialError wraps a mid-stream failure that occurred after tokens
// were already emitted. The text streamed so far is preserved by the
// caller; Unwrap exposes the underlying failure.
type PartialError struct {
	Err error
}

func (e *PartialError) Error() string { return fmt.Sprintf("run failed after partial output: %v", e.Err) }
func (e *PartialError) Unwrap() error { return e.Err }

// Run executes the loop: stream text, execute requested tools, feed
// results back, until the model answers with no pending tool calls.
// Returns the full concatenated text. If the model fails after partial
// emission, the partial text is returned together with a *PartialError
// so the caller can persist what was streamed.
func (r *Runtime) Run(ctx context.Context, p Params) (string, error) {
	if p.ThreadID == uuid.Nil {
		return "", checkpoint.ErrThreadMissing
	}

	msgs := make([]llm.Message, 0, len(p.History)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: r.system})
	for _, m := range p.History {
		if m.Role != store.RoleUser && m.Role != store.RoleAssistant {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: p.Prompt})

	var emitted strings.Builder
	onToken := func(token string) {
		emitted.WriteString(token)
		if p.OnToken != nil {
			p.OnToken(token)
		}
	}

	specs := Specs(p.Tools)
	for step := 0; step < maxSteps; step++ {
		res, err := r.client.StreamChat(ctx, msgs, specs, onToken)
		if err != nil {
			if emitted.Len() > 0 {
				return emitted.String(), &PartialError{Err: err}
			}
			return "", fmt.Errorf("model call: %w", err)
		}

		if err := r.appendStep(ctx, p.ThreadID, step, msgs, res); err != nil {
			return emitted.String(), err
		}

		if len(res.ToolCalls) == 0 {
			if emitted.Len() > 0 {
				return emitted.String(), nil
			}
			return res.Content, nil
		}

		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   res.Content,
			ToolCalls: res.ToolCalls,
		})

		writes := make([]checkpoint.PendingWrite, 0, len(res.ToolCalls))
		for _, tc := range res.ToolCalls {
			output := r.invokeTool(ctx, p.Tools, tc)
			value, err := checkpoint.Marshal(map[string]any{"v": checkpoint.SchemaVersion, "output": output})
			if err != nil {
				return emitted.String(), err
			}
			writes = append(writes, checkpoint.PendingWrite{
				TaskID:  tc.ID,
				Channel: tc.Name,
				Value:   value,
			})
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Content:    output,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
		if err := r.saver.AppendPendingWrites(ctx, p.ThreadID, writes); err != nil {
			return emitted.String(), fmt.Errorf("record tool writes: %w", err)
		}
	}

	return emitted.String(), fmt.Errorf("tool loop exceeded %d steps", maxSteps)
}

// appendStep persists exactly one checkpoint per loop transition.
func (r *Runtime) appendStep(ctx context.Context, threadID uuid.UUID, step int, msgs []llm.Message, res *llm.Result) error {
	type snapshotMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	transcript := make([]snapshotMessage, 0, len(msgs))
	for _, m := range msgs {
		transcript = append(transcript, snapshotMessage{Role: m.Role, Content: m.Content})
	}

	pendingTools := make([]string, 0, len(res.ToolCalls))
	for _, tc := range res.ToolCalls {
		pendingTools = append(pendingTools, tc.Name)
	}

	cfg, err := checkpoint.Marshal(map[string]any{
		"v":         checkpoint.SchemaVersion,
		"thread_id": threadID.String(),
	})
	if err != nil {
		return err
	}
	snapshot, err := checkpoint.Marshal(map[string]any{
		"v":        checkpoint.SchemaVersion,
		"step":     step,
		"messages": transcript,
		"output":   res.Content,
	})
	if err != nil {
		return err
	}
	meta, err := checkpoint.Marshal(map[string]any{
		"v":             checkpoint.SchemaVersion,
		"step":          step,
		"pending_tools": pendingTools,
	})
	if err != nil {
		return err
	}

	if _, err := r.saver.Append(ctx, threadID, cfg, snapshot, meta); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	return nil
}

func (r *Runtime) invokeTool(ctx context.Context, tools []Tool, tc llm.ToolCall) string {
	t, ok := lookup(tools, tc.Name)
	if !ok {
		return fmt.Sprintf("Unknown tool: %s", tc.Name)
	}
	return t.Func(ctx, toolInput(tc.Arguments))
}

// toolInput extracts the single "input" string from the model's
// argument JSON, falling back to the raw text when it is not the
// expected shape.
func toolInput(arguments string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err == nil {
		if v, ok := args["input"].(string); ok {
			return v
		}
	}
	return strings.TrimSpace(arguments)
}
