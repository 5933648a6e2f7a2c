package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/tollgate/internal/httpkit"
)

// OllamaClient is a Gateway for the Ollama /api/chat endpoint.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama gateway.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 5 * time.Minute // Large models with tools need time

	logger = logger.With("provider", "ollama")
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		httpClient: httpkit.NewClient(
			// Streams can be long-lived; rely on ctx for cancellation.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			// Ollama restarts when it swaps models.
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

// Wire types for /api/chat.

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    [][]byte         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"` // Ollama sends an object, not a string
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

// ollamaWireResponse is one NDJSON line (or the whole body when not
// streaming).
type ollamaWireResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func (w *ollamaWireResponse) toResult() *CompletionResult {
	msg := Message{
		Role:    RoleAssistant,
		Content: w.Message.Content,
	}
	for _, tc := range w.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        newCallID(),
			Type:      "function",
			Name:      tc.Function.Name,
			Arguments: string(tc.Function.Arguments),
		})
	}

	finish := ""
	if w.Done {
		finish = w.DoneReason
		if finish == "" {
			finish = FinishStop
		}
		if len(msg.ToolCalls) > 0 {
			finish = FinishToolCalls
		}
	}

	return &CompletionResult{
		Generations: []Generation{{
			Message:  msg,
			Metadata: GenerationMetadata{FinishReason: finish},
		}},
		Metadata: ResultMetadata{
			Model: w.Model,
			Usage: Usage{
				InputTokens:  w.PromptEvalCount,
				OutputTokens: w.EvalCount,
			},
		},
	}
}

func (c *OllamaClient) buildRequest(prompt *Prompt, stream bool) ollamaRequest {
	req := ollamaRequest{
		Model:  prompt.Options.Model,
		Stream: stream,
	}
	if prompt.Options.Temperature != 0 || prompt.Options.MaxTokens != 0 {
		req.Options = &ollamaOptions{
			Temperature: prompt.Options.Temperature,
			NumPredict:  prompt.Options.MaxTokens,
		}
	}

	for _, m := range prompt.Messages {
		om := ollamaMessage{
			Role:     m.Role,
			Content:  m.Content,
			ToolName: m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			var wire ollamaToolCall
			wire.Function.Name = tc.Name
			wire.Function.Arguments = rawArguments(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, wire)
		}
		for _, media := range m.Media {
			if len(media.Data) > 0 && strings.HasPrefix(media.MimeType, "image/") {
				om.Images = append(om.Images, media.Data)
			}
		}
		req.Messages = append(req.Messages, om)
	}

	if prompt.Options.NativeTools {
		for _, def := range prompt.Options.Tools {
			var t ollamaTool
			t.Type = "function"
			t.Function.Name = def.Name
			t.Function.Description = def.Description
			t.Function.Parameters = rawArguments(def.InputSchema)
			req.Tools = append(req.Tools, t)
		}
	}
	return req
}

func (c *OllamaClient) post(ctx context.Context, prompt *Prompt, stream bool) (*http.Response, error) {
	jsonData, err := json.Marshal(c.buildRequest(prompt, stream))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "ollama request", "body", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 64*1024)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}
	return resp, nil
}

// Complete sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Complete(ctx context.Context, prompt *Prompt) (*CompletionResult, error) {
	resp, err := c.post(ctx, prompt, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire ollamaWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if wire.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", wire.Error)
	}

	c.logger.Debug("ollama completion",
		"model", wire.Model,
		"input_tokens", wire.PromptEvalCount,
		"output_tokens", wire.EvalCount,
		"tool_calls", len(wire.Message.ToolCalls),
	)
	return wire.toResult(), nil
}

// CompleteStream sends a streaming chat request and yields one chunk per
// NDJSON line.
func (c *OllamaClient) CompleteStream(ctx context.Context, prompt *Prompt) iter.Seq2[*CompletionResult, error] {
	return func(yield func(*CompletionResult, error) bool) {
		resp, err := c.post(ctx, prompt, true)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaWireResponse
			if err := decoder.Decode(&chunk); err != nil {
				if err == io.EOF {
					return
				}
				yield(nil, fmt.Errorf("decode stream chunk: %w", err))
				return
			}
			if chunk.Error != "" {
				yield(nil, fmt.Errorf("ollama error: %s", chunk.Error))
				return
			}
			if !yield(chunk.toResult(), nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
	}
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}

// ListModels returns available models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// rawArguments turns argument text into a JSON value for the wire. Text
// that is not valid JSON is sent as a JSON string.
func rawArguments(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
