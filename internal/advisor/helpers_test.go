package advisor

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/nugget/tollgate/internal/llm"
)

// mockGateway returns canned responses in order and records every
// prompt it receives.
type mockGateway struct {
	mu        sync.Mutex
	responses []*llm.CompletionResult
	chunks    []*llm.CompletionResult // for streaming
	err       error
	calls     []*llm.Prompt
}

func (m *mockGateway) Complete(_ context.Context, prompt *llm.Prompt) (*llm.CompletionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, prompt)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, errors.New("mock gateway: no more responses")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *mockGateway) CompleteStream(_ context.Context, prompt *llm.Prompt) iter.Seq2[*llm.CompletionResult, error] {
	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	chunks, err := m.chunks, m.err
	m.mu.Unlock()

	return func(yield func(*llm.CompletionResult, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

func (m *mockGateway) Ping(context.Context) error { return nil }

func (m *mockGateway) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// textResult builds a single-generation result with the given text.
func textResult(text string) *llm.CompletionResult {
	return &llm.CompletionResult{
		Generations: []llm.Generation{{
			Message:  llm.Message{Role: llm.RoleAssistant, Content: text},
			Metadata: llm.GenerationMetadata{FinishReason: llm.FinishStop},
		}},
		Metadata: llm.ResultMetadata{Model: "test-model"},
	}
}

// chunk builds a streamed delta.
func chunk(text string) *llm.CompletionResult {
	return &llm.CompletionResult{
		Generations: []llm.Generation{{
			Message: llm.Message{Role: llm.RoleAssistant, Content: text},
		}},
	}
}

// collect drains a stream into its concatenated text.
func collect(seq iter.Seq2[*Response, error]) (string, int, error) {
	var text string
	n := 0
	for resp, err := range seq {
		if err != nil {
			return text, n, err
		}
		n++
		text += resp.Text()
	}
	return text, n, nil
}

func userPrompt(model, text string) *llm.Prompt {
	return llm.NewPrompt(
		[]llm.Message{{Role: llm.RoleUser, Content: text}},
		llm.Options{Model: model},
	)
}
