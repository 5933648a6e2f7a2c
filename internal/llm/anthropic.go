package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultAnthropicMaxTokens is sent when the prompt sets no limit; the
// Messages API requires one.
const defaultAnthropicMaxTokens = 4096

// AnthropicClient is a Gateway for the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient creates an Anthropic gateway. A non-empty baseURL
// overrides the default API endpoint.
func NewAnthropicClient(apiKey, baseURL string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		client: &client,
		logger: logger.With("provider", "anthropic"),
	}
}

func (c *AnthropicClient) params(prompt *Prompt) anthropic.MessageNewParams {
	maxTokens := int64(prompt.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(prompt.Options.Model),
		Messages:  toAnthropicMessages(prompt.Messages),
		MaxTokens: maxTokens,
	}
	for _, m := range prompt.Messages {
		if m.Role == RoleSystem && m.Content != "" {
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		}
	}
	if prompt.Options.Temperature != 0 {
		params.Temperature = anthropic.Float(prompt.Options.Temperature)
	}
	if prompt.Options.NativeTools && len(prompt.Options.Tools) > 0 {
		params.Tools = toAnthropicTools(prompt.Options.Tools)
	}
	return params
}

// Complete sends a Messages API request.
func (c *AnthropicClient) Complete(ctx context.Context, prompt *Prompt) (*CompletionResult, error) {
	resp, err := c.client.Messages.New(ctx, c.params(prompt))
	if err != nil {
		return nil, err
	}

	c.logger.Debug("anthropic completion",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return fromAnthropicMessage(resp), nil
}

// CompleteStream streams text deltas. Tool-use blocks are assembled by
// the SDK accumulator and emitted on a final chunk.
func (c *AnthropicClient) CompleteStream(ctx context.Context, prompt *Prompt) iter.Seq2[*CompletionResult, error] {
	return func(yield func(*CompletionResult, error) bool) {
		stream := c.client.Messages.NewStreaming(ctx, c.params(prompt))
		defer stream.Close()

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				yield(nil, fmt.Errorf("accumulate stream: %w", err))
				return
			}

			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			chunk := &CompletionResult{
				Generations: []Generation{{Message: Message{Role: RoleAssistant, Content: text.Text}}},
				Metadata:    ResultMetadata{ID: acc.ID, Model: string(acc.Model)},
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, err)
			return
		}

		final := fromAnthropicMessage(&acc)
		if !final.HasToolCalls() {
			return
		}
		gen := final.Generations[0]
		gen.Message.Content = ""
		yield(final.WithGenerations([]Generation{gen}), nil)
	}
}

// Ping lists models to verify the endpoint and key.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// toAnthropicTools converts tool definitions to SDK tool params. The
// Messages API takes properties and required separately from the rest
// of the schema.
func toAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if t.InputSchema != "" {
			_ = json.Unmarshal([]byte(t.InputSchema), &schema)
		}
		if schema.Properties == nil {
			schema.Properties = map[string]any{}
		}
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		}
	}
	return out
}

// toAnthropicMessages converts the conversation to SDK message params.
// System messages travel in a separate field and are skipped here.
// Tool results become user turns; consecutive results share one turn.
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	lastWasTool := false
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)
			if lastWasTool {
				last := &out[len(out)-1]
				last.Content = append(last.Content, block)
			} else {
				out = append(out, anthropic.NewUserMessage(block))
			}
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
		lastWasTool = m.Role == RoleTool
	}
	return out
}

// fromAnthropicMessage converts a Messages API response to a single
// generation.
func fromAnthropicMessage(resp *anthropic.Message) *CompletionResult {
	msg := Message{Role: RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if msg.Content != "" {
				msg.Content += "\n"
			}
			msg.Content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			id := tu.ID
			if id == "" {
				id = newCallID()
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        id,
				Type:      "function",
				Name:      tu.Name,
				Arguments: string(tu.Input),
			})
		}
	}

	return &CompletionResult{
		Generations: []Generation{{
			Message:  msg,
			Metadata: GenerationMetadata{FinishReason: anthropicFinishReason(resp.StopReason)},
		}},
		Metadata: ResultMetadata{
			ID:    resp.ID,
			Model: string(resp.Model),
			Usage: Usage{
				InputTokens:  int(resp.Usage.InputTokens),
				OutputTokens: int(resp.Usage.OutputTokens),
			},
		},
	}
}

func anthropicFinishReason(r anthropic.StopReason) string {
	switch r {
	case anthropic.StopReasonToolUse:
		return FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		return FinishLength
	default:
		return FinishStop
	}
}
