package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/tollgate/internal/llm"
	"github.com/nugget/tollgate/internal/memory"
	"github.com/nugget/tollgate/internal/tools"
)

// failingStore cannot retrieve.
type failingStore struct{ memory.WindowStore }

func (*failingStore) Retrieve(string, int) ([]llm.Message, error) {
	return nil, errors.New("disk on fire")
}

func TestMemoryAdvisor_RemembersAcrossCalls(t *testing.T) {
	store := memory.NewWindowStore(100)
	gw := &mockGateway{responses: []*llm.CompletionResult{
		textResult("Nice to meet you, Sam."),
		textResult("Your name is Sam."),
	}}
	chain := NewChain(gw, NewMemoryAdvisor(store, 0, "", nil))
	ctx := WithConversationID(context.Background(), "c1")

	prompt := func(text string) *Request {
		return &Request{Prompt: llm.NewPrompt([]llm.Message{
			{Role: llm.RoleSystem, Content: "You are helpful."},
			{Role: llm.RoleUser, Content: text},
		}, llm.Options{Model: "m"})}
	}

	if _, err := chain.Call(ctx, prompt("I am Sam.")); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := chain.Call(ctx, prompt("What is my name?")); err != nil {
		t.Fatalf("second call: %v", err)
	}

	system := gw.calls[1].SystemMessage().Content
	for _, want := range []string{
		"You are helpful.",
		"USER:I am Sam.",
		"ASSISTANT:Nice to meet you, Sam.",
		"MEMORY:",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("system message missing %q:\n%s", want, system)
		}
	}
	if strings.Contains(system, "What is my name?") {
		t.Error("current question should not be rendered as memory")
	}

	msgs, _ := store.Retrieve("c1", 0)
	if len(msgs) != 4 {
		t.Fatalf("stored %d messages, want 4", len(msgs))
	}
	if msgs[3].Role != llm.RoleAssistant || msgs[3].Content != "Your name is Sam." {
		t.Errorf("last stored = %+v", msgs[3])
	}
}

func TestMemoryAdvisor_CreatesSystemMessage(t *testing.T) {
	store := memory.NewWindowStore(100)
	gw := &mockGateway{responses: []*llm.CompletionResult{textResult("ok")}}
	chain := NewChain(gw, NewMemoryAdvisor(store, 0, "MEM {memory}", nil))

	if _, err := chain.Call(context.Background(), &Request{Prompt: userPrompt("m", "hi")}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	sent := gw.calls[0]
	if sent.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("first message role = %q, want system", sent.Messages[0].Role)
	}
	if !strings.Contains(sent.Messages[0].Content, "MEM ") {
		t.Errorf("system message = %q", sent.Messages[0].Content)
	}

	// Without a conversation id, memory lands in "default".
	if msgs, _ := store.Retrieve("default", 0); len(msgs) != 2 {
		t.Errorf("default conversation has %d messages, want 2", len(msgs))
	}
}

func TestMemoryAdvisor_RetrieveSize(t *testing.T) {
	store := memory.NewWindowStore(100)
	for _, text := range []string{"old", "older reply", "recent", "recent reply"} {
		role := llm.RoleUser
		if strings.HasSuffix(text, "reply") {
			role = llm.RoleAssistant
		}
		_ = store.Append("default", llm.Message{Role: role, Content: text})
	}
	gw := &mockGateway{responses: []*llm.CompletionResult{textResult("ok")}}
	chain := NewChain(gw, NewMemoryAdvisor(store, 2, "", nil))

	if _, err := chain.Call(context.Background(), &Request{Prompt: userPrompt("m", "now")}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	system := gw.calls[0].SystemMessage().Content
	if strings.Contains(system, "USER:old") || !strings.Contains(system, "USER:recent") {
		t.Errorf("expected only the last 2 messages:\n%s", system)
	}
}

func TestMemoryAdvisor_StoreError(t *testing.T) {
	gw := &mockGateway{responses: []*llm.CompletionResult{textResult("ok")}}
	chain := NewChain(gw, NewMemoryAdvisor(&failingStore{}, 0, "", nil))

	_, err := chain.Call(context.Background(), &Request{Prompt: userPrompt("m", "hi")})
	if err == nil || !strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("err = %v, want wrapped store error", err)
	}
	if gw.callCount() != 0 {
		t.Error("gateway should not be called when memory fails")
	}
}

func TestMemoryAdvisor_RemembersFirstGenerationOnly(t *testing.T) {
	store := memory.NewWindowStore(100)
	multi := &llm.CompletionResult{Generations: []llm.Generation{
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "first"}},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "second"}},
	}}
	gw := &mockGateway{responses: []*llm.CompletionResult{multi}}
	chain := NewChain(gw, NewMemoryAdvisor(store, 0, "", nil))

	if _, err := chain.Call(context.Background(), &Request{Prompt: userPrompt("m", "q")}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	msgs, _ := store.Retrieve("default", 0)
	if len(msgs) != 2 || msgs[1].Content != "first" {
		t.Errorf("stored = %+v, want the question and the first answer", msgs)
	}
}

func TestMemoryAdvisor_Stream(t *testing.T) {
	store := memory.NewWindowStore(100)
	gw := &mockGateway{chunks: []*llm.CompletionResult{chunk("Hel"), chunk("lo")}}
	chain := NewChain(gw, NewMemoryAdvisor(store, 0, "", nil))
	ctx := WithConversationID(context.Background(), "s1")

	text, _, err := collect(chain.Stream(ctx, &Request{Prompt: userPrompt("m", "greet me")}))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if text != "Hello" {
		t.Errorf("text = %q", text)
	}

	msgs, _ := store.Retrieve("s1", 0)
	if len(msgs) != 2 || msgs[0].Content != "greet me" || msgs[1].Content != "Hello" {
		t.Errorf("stored = %+v", msgs)
	}
}

func TestMemoryAdvisor_StreamErrorNotRemembered(t *testing.T) {
	store := memory.NewWindowStore(100)
	gw := &mockGateway{chunks: []*llm.CompletionResult{chunk("partial")}, err: errors.New("reset")}
	chain := NewChain(gw, NewMemoryAdvisor(store, 0, "", nil))

	if _, _, err := collect(chain.Stream(context.Background(), &Request{Prompt: userPrompt("m", "q")})); err == nil {
		t.Fatal("expected stream error")
	}
	msgs, _ := store.Retrieve("default", 0)
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser {
		t.Errorf("stored = %+v, want only the user message", msgs)
	}
}

// A full chain: memory sees only the final answer, not tool rounds.
func TestFullChain_MemoryToolLoopTrace(t *testing.T) {
	store := memory.NewWindowStore(100)
	reg := tools.NewRegistry(nil)
	reg.Register(&tools.Tool{
		Name:        "get_current_date_time",
		Description: "Get the current date and time",
		Handler: func(ctx context.Context, args string) (string, error) {
			return "2026-10-19 09:00:00", nil
		},
	})
	gw := &mockGateway{responses: []*llm.CompletionResult{
		textResult("<think>need the clock</think>\n" + `[{"tool":"get_current_date_time","parameters":{"timeZone":"UTC"}}]`),
		textResult("<think>done</think>\n\nIt is 09:00."),
	}}
	chain := NewChain(gw,
		NewTraceFilter(nil, "", nil),
		NewToolLoop(reg, ToolLoopConfig{}, nil, nil),
		NewMemoryAdvisor(store, 0, "", nil),
	)

	ctx := WithTraceEnabled(WithConversationID(context.Background(), "full"), false)
	prompt := llm.NewPrompt(
		[]llm.Message{{Role: llm.RoleSystem, Content: "sys"}, {Role: llm.RoleUser, Content: "What time is it?"}},
		llm.Options{Model: "qwen3:4b", Tools: reg.Definitions()},
	)
	resp, err := chain.Call(ctx, &Request{Prompt: prompt})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Text() != "It is 09:00." {
		t.Errorf("text = %q", resp.Text())
	}

	first := gw.calls[0].UserMessage().Content
	if !strings.HasPrefix(first, "question:What time is it?") || !strings.HasSuffix(first, "/no_think") {
		t.Errorf("first round user message = %q", first)
	}

	msgs, _ := store.Retrieve("full", 0)
	if len(msgs) != 2 || msgs[1].Content != "It is 09:00." {
		t.Errorf("memory = %+v, want question and final answer only", msgs)
	}
}
