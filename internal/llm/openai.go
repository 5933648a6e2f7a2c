package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient is a Gateway for any OpenAI-compatible chat completions
// endpoint (OpenAI, DeepSeek, vLLM, Groq, Ollama's /v1, ...).
type OpenAIClient struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI-compatible gateway. A non-empty
// baseURL overrides the default API endpoint.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{
		client: &client,
		logger: logger.With("provider", "openai"),
	}
}

func (c *OpenAIClient) params(prompt *Prompt) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		msgs = append(msgs, toOpenAIMessage(m))
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(prompt.Options.Model),
		Messages: msgs,
	}
	if prompt.Options.Temperature != 0 {
		params.Temperature = openai.Float(prompt.Options.Temperature)
	}
	if prompt.Options.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(prompt.Options.MaxTokens))
	}
	if prompt.Options.NativeTools && len(prompt.Options.Tools) > 0 {
		params.Tools = toOpenAITools(prompt.Options.Tools)
	}
	return params
}

// Complete sends a chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, prompt *Prompt) (*CompletionResult, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(prompt))
	if err != nil {
		return nil, err
	}

	result := &CompletionResult{
		Metadata: ResultMetadata{
			ID:    resp.ID,
			Model: resp.Model,
			Usage: Usage{
				InputTokens:  int(resp.Usage.PromptTokens),
				OutputTokens: int(resp.Usage.CompletionTokens),
			},
		},
	}
	for _, choice := range resp.Choices {
		result.Generations = append(result.Generations, Generation{
			Message:  fromOpenAIMessage(choice.Message),
			Metadata: GenerationMetadata{FinishReason: choice.FinishReason},
		})
	}

	c.logger.Debug("openai completion",
		"model", resp.Model,
		"choices", len(resp.Choices),
		"input_tokens", resp.Usage.PromptTokens,
		"output_tokens", resp.Usage.CompletionTokens,
	)
	return result, nil
}

// CompleteStream streams text deltas. Native tool calls are assembled
// by the SDK accumulator and emitted on a final chunk.
func (c *OpenAIClient) CompleteStream(ctx context.Context, prompt *Prompt) iter.Seq2[*CompletionResult, error] {
	return func(yield func(*CompletionResult, error) bool) {
		stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(prompt))
		defer stream.Close()

		var acc openai.ChatCompletionAccumulator
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			out := &CompletionResult{
				Metadata: ResultMetadata{ID: chunk.ID, Model: chunk.Model},
			}
			for _, choice := range chunk.Choices {
				out.Generations = append(out.Generations, Generation{
					Message: Message{
						Role:    RoleAssistant,
						Content: choice.Delta.Content,
					},
					Metadata: GenerationMetadata{FinishReason: choice.FinishReason},
				})
			}
			if len(out.Generations) == 0 {
				continue
			}
			if !yield(out, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, err)
			return
		}

		var calls []Generation
		for _, choice := range acc.Choices {
			if len(choice.Message.ToolCalls) == 0 {
				continue
			}
			msg := fromOpenAIMessage(choice.Message)
			msg.Content = ""
			calls = append(calls, Generation{
				Message:  msg,
				Metadata: GenerationMetadata{FinishReason: FinishToolCalls},
			})
		}
		if len(calls) > 0 {
			yield(&CompletionResult{
				Generations: calls,
				Metadata:    ResultMetadata{ID: acc.ID, Model: acc.Model},
			}, nil)
		}
	}
}

// Ping lists models to verify the endpoint and key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// toOpenAITools converts tool definitions to the SDK representation.
// Schemas that fail to parse are sent as an empty object schema.
func toOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		schema := map[string]any{}
		if t.InputSchema != "" {
			if err := json.Unmarshal([]byte(t.InputSchema), &schema); err != nil {
				schema = map[string]any{"type": "object"}
			}
		}
		out[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(schema),
			},
		}
	}
	return out
}

// toOpenAIMessage converts a Message to an SDK message union.
func toOpenAIMessage(m Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case RoleSystem:
		return openai.SystemMessage(m.Content)
	case RoleTool:
		return openai.ToolMessage(m.Content, m.ToolCallID)
	case RoleUser:
		return openai.UserMessage(m.Content)
	default: // assistant
		asst := openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = openai.String(m.Content)
		}
		if len(m.ToolCalls) > 0 {
			asst.ToolCalls = make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				asst.ToolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	}
}

// fromOpenAIMessage converts an SDK response message to a Message.
func fromOpenAIMessage(m openai.ChatCompletionMessage) Message {
	msg := Message{
		Role:    RoleAssistant,
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		id := tc.ID
		if id == "" {
			id = newCallID()
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        id,
			Type:      "function",
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return msg
}
