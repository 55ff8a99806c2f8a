package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Config carries the model client settings. It is passed explicitly to
// constructors; there is no process-wide client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.4
	}
	return c
}

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	model llms.Model
	cfg   Config
}

var _ Client = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	cfg = cfg.withDefaults()
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init model client: %w", err)
	}
	return &OpenAIClient{model: model, cfg: cfg}, nil
}

func (c *OpenAIClient) StreamChat(ctx context.Context, msgs []Message, tools []ToolSpec, onToken TokenFunc) (*Result, error) {
	content := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		content = append(content, toMessageContent(m))
	}

	opts := []llms.CallOption{
		llms.WithMaxTokens(c.cfg.MaxTokens),
		llms.WithTemperature(c.cfg.Temperature),
	}
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(toolDefs(tools)))
	}
	if onToken != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) > 0 {
				onToken(string(chunk))
			}
			return nil
		}))
	}

	resp, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	choice := resp.Choices[0]
	out := &Result{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	return out, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithMaxTokens(c.cfg.MaxTokens),
		llms.WithTemperature(c.cfg.Temperature),
	)
}

func toMessageContent(m Message) llms.MessageContent {
	switch m.Role {
	case RoleSystem:
		return llms.TextParts(llms.ChatMessageTypeSystem, m.Content)
	case RoleAssistant:
		mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if m.Content != "" {
			mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			mc.Parts = append(mc.Parts, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return mc
	case RoleTool:
		return llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: m.ToolCallID,
				Name:       m.ToolName,
				Content:    m.Content,
			}},
		}
	default:
		return llms.TextParts(llms.ChatMessageTypeHuman, m.Content)
	}
}

func toolDefs(tools []ToolSpec) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"input": map[string]any{
							"type":        "string",
							"description": "Tool input text.",
						},
					},
					"required": []string{"input"},
				},
			},
		})
	}
	return out
}
