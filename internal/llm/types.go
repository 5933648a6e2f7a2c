// Package llm defines the provider-neutral prompt and completion types
// exchanged with model gateways, plus the gateway implementations.
package llm

import (
	"log/slog"
	"slices"
	"strings"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single chat message. Treat it as an immutable value:
// transformations build new messages rather than editing in place.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // For tool responses
	ToolName   string         `json:"tool_name,omitempty"`    // For tool responses
	Media      []Media        `json:"media,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Media is an attachment carried alongside message text.
type Media struct {
	MimeType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// ToolCall is a structured request to run a named tool. Arguments is raw
// JSON text; it is validated lazily by the tool implementation.
type ToolCall struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Valid reports whether the call may be executed.
func (c ToolCall) Valid() bool {
	return c.Name != "" && c.Arguments != ""
}

// ToolDefinition describes a tool offered to the model. InputSchema is
// JSON Schema text and is opaque to everything except the provider.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"input_schema"`
}

// Options is the configuration bag attached to a prompt.
type Options struct {
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`

	// NativeTools forwards Tools through the provider's own tool-calling
	// channel. When false, tools are only described in prompt text.
	NativeTools bool `json:"native_tools,omitempty"`
}

// Prompt is an ordered list of messages plus options. Methods never
// modify the receiver; they return a new Prompt.
type Prompt struct {
	Messages []Message
	Options  Options
}

// NewPrompt builds a prompt from messages and options.
func NewPrompt(messages []Message, opts Options) *Prompt {
	return &Prompt{
		Messages: slices.Clone(messages),
		Options:  opts,
	}
}

// UserMessage returns the last user message, or a zero Message if the
// prompt has none.
func (p *Prompt) UserMessage() Message {
	if i := p.lastIndex(RoleUser); i >= 0 {
		return p.Messages[i]
	}
	return Message{Role: RoleUser}
}

// SystemMessage returns the first system message, or a zero Message.
func (p *Prompt) SystemMessage() Message {
	for _, m := range p.Messages {
		if m.Role == RoleSystem {
			return m
		}
	}
	return Message{Role: RoleSystem}
}

// AugmentUserMessage returns a copy of the prompt with the last user
// message's text replaced. A user message is appended when none exists.
func (p *Prompt) AugmentUserMessage(text string) *Prompt {
	out := p.clone()
	if i := out.lastIndex(RoleUser); i >= 0 {
		m := out.Messages[i]
		m.Content = text
		out.Messages[i] = m
		return out
	}
	out.Messages = append(out.Messages, Message{Role: RoleUser, Content: text})
	return out
}

// AugmentSystemMessage returns a copy of the prompt with the first system
// message's text replaced. A system message is prepended when none exists.
func (p *Prompt) AugmentSystemMessage(text string) *Prompt {
	out := p.clone()
	for i, m := range out.Messages {
		if m.Role == RoleSystem {
			m.Content = text
			out.Messages[i] = m
			return out
		}
	}
	out.Messages = append([]Message{{Role: RoleSystem, Content: text}}, out.Messages...)
	return out
}

// WithMessages returns a prompt with the same options and new messages.
func (p *Prompt) WithMessages(messages []Message) *Prompt {
	return NewPrompt(messages, p.Options)
}

// Model returns the configured model name.
func (p *Prompt) Model() string {
	return p.Options.Model
}

func (p *Prompt) clone() *Prompt {
	opts := p.Options
	opts.Tools = slices.Clone(p.Options.Tools)
	return &Prompt{
		Messages: slices.Clone(p.Messages),
		Options:  opts,
	}
}

func (p *Prompt) lastIndex(role string) int {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == role {
			return i
		}
	}
	return -1
}

// Finish reasons reported on generations.
const (
	FinishStop         = "stop"
	FinishToolCalls    = "tool_calls"
	FinishLength       = "length"
	FinishReturnDirect = "return_direct"
)

// GenerationMetadata carries per-candidate details that pass through
// advisors untouched.
type GenerationMetadata struct {
	FinishReason string `json:"finish_reason,omitempty"`
}

// Generation is one candidate completion.
type Generation struct {
	Message  Message            `json:"message"`
	Metadata GenerationMetadata `json:"metadata"`
}

// HasToolCalls reports whether the generation carries tool calls.
func (g Generation) HasToolCalls() bool {
	return len(g.Message.ToolCalls) > 0
}

// Usage is provider-neutral token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResultMetadata describes a whole completion.
type ResultMetadata struct {
	ID    string `json:"id,omitempty"`
	Model string `json:"model,omitempty"`
	Usage Usage  `json:"usage"`
}

// CompletionResult is what a gateway returns for one call, or one chunk
// of a streamed call.
type CompletionResult struct {
	Generations []Generation   `json:"generations"`
	Metadata    ResultMetadata `json:"metadata"`
}

// Result returns the first generation, or nil when there is none.
func (r *CompletionResult) Result() *Generation {
	if r == nil || len(r.Generations) == 0 {
		return nil
	}
	return &r.Generations[0]
}

// HasToolCalls reports whether any generation carries tool calls.
func (r *CompletionResult) HasToolCalls() bool {
	if r == nil {
		return false
	}
	return slices.ContainsFunc(r.Generations, Generation.HasToolCalls)
}

// WithGenerations returns a copy of the result with new generations and
// the same metadata.
func (r *CompletionResult) WithGenerations(gens []Generation) *CompletionResult {
	return &CompletionResult{
		Generations: gens,
		Metadata:    r.Metadata,
	}
}

// Text concatenates the content of every generation. Used for logging and
// for aggregating streamed chunks.
func (r *CompletionResult) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, g := range r.Generations {
		b.WriteString(g.Message.Content)
	}
	return b.String()
}
