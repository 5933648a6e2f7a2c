package advisor

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strings"

	"github.com/nugget/tollgate/internal/llm"
	"github.com/nugget/tollgate/internal/memory"
	"github.com/nugget/tollgate/internal/prompts"
)

// OrderMemory makes the memory advisor outermost, so it records the
// user's message and the final answer once per logical call.
const OrderMemory = math.MinInt

// DefaultRetrieveSize is how many remembered messages are rendered into
// the system message.
const DefaultRetrieveSize = 1000

// MemoryAdvisor gives the model the conversation so far by rendering
// remembered messages into the system message.
type MemoryAdvisor struct {
	store        memory.Store
	retrieveSize int
	template     string
	logger       *slog.Logger
}

// NewMemoryAdvisor creates a memory advisor. An empty template selects
// prompts.DefaultMemoryTemplate.
func NewMemoryAdvisor(store memory.Store, retrieveSize int, template string, logger *slog.Logger) *MemoryAdvisor {
	if retrieveSize <= 0 {
		retrieveSize = DefaultRetrieveSize
	}
	if template == "" {
		template = prompts.DefaultMemoryTemplate()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryAdvisor{
		store:        store,
		retrieveSize: retrieveSize,
		template:     template,
		logger:       logger.With("component", "memory"),
	}
}

// Name implements Advisor.
func (m *MemoryAdvisor) Name() string { return "chatMemory" }

// Order implements Advisor.
func (m *MemoryAdvisor) Order() int { return OrderMemory }

// before renders memory into the system message and records the user
// message.
func (m *MemoryAdvisor) before(ctx context.Context, req *Request) (*Request, string, error) {
	conv := ConversationID(ctx)

	history, err := m.store.Retrieve(conv, m.retrieveSize)
	if err != nil {
		return nil, conv, fmt.Errorf("retrieve memory: %w", err)
	}

	lines := make([]string, 0, len(history))
	for _, msg := range history {
		if msg.Role != llm.RoleUser && msg.Role != llm.RoleAssistant {
			continue
		}
		lines = append(lines, prompts.MemoryLine(msg.Role, msg.Content))
	}

	instructions := req.Prompt.SystemMessage().Content
	prompt := req.Prompt.AugmentSystemMessage(prompts.Memory(m.template, instructions, lines))

	user := req.Prompt.UserMessage()
	if user.Content != "" {
		if err := m.store.Append(conv, llm.Message{Role: llm.RoleUser, Content: user.Content}); err != nil {
			return nil, conv, fmt.Errorf("store user message: %w", err)
		}
	}

	m.logger.Debug("memory applied", "conversation", conv, "remembered", len(lines))
	return &Request{Prompt: prompt}, conv, nil
}

func (m *MemoryAdvisor) remember(conv, text string) error {
	if err := m.store.Append(conv, llm.Message{Role: llm.RoleAssistant, Content: text}); err != nil {
		return fmt.Errorf("store assistant message: %w", err)
	}
	return nil
}

// AdviseCall implements CallAdvisor.
func (m *MemoryAdvisor) AdviseCall(ctx context.Context, req *Request, chain *Chain) (*Response, error) {
	advised, conv, err := m.before(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := chain.NextCall(ctx, advised)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Result == nil {
		return resp, nil
	}

	// Only the first generation reaches the caller.
	if g := resp.Result.Result(); g != nil {
		if err := m.remember(conv, g.Message.Content); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// AdviseStream implements StreamAdvisor. The answer is remembered once
// the stream completes; an abandoned or failed stream is not.
func (m *MemoryAdvisor) AdviseStream(ctx context.Context, req *Request, chain *Chain) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		advised, conv, err := m.before(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}

		var answer strings.Builder
		for resp, err := range chain.NextStream(ctx, advised) {
			if err != nil {
				yield(nil, err)
				return
			}
			answer.WriteString(resp.Text())
			if !yield(resp, nil) {
				return
			}
		}

		if err := m.remember(conv, answer.String()); err != nil {
			yield(nil, err)
		}
	}
}
