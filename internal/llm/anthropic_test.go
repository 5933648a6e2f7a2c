package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestToAnthropicTools(t *testing.T) {
	tests := []struct {
		name         string
		schema       string
		wantProps    int
		wantRequired []string
	}{
		{
			name:         "properties and required",
			schema:       `{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`,
			wantProps:    1,
			wantRequired: []string{"url"},
		},
		{"empty schema", "", 0, nil},
		{"malformed schema", `{"type":`, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toAnthropicTools([]ToolDefinition{{Name: "web_fetch", Description: "Fetch a page", InputSchema: tt.schema}})
			tool := got[0].OfTool
			if tool == nil {
				t.Fatal("OfTool not set")
			}
			if tool.Name != "web_fetch" {
				t.Errorf("Name = %q", tool.Name)
			}
			props, ok := tool.InputSchema.Properties.(map[string]any)
			if !ok {
				t.Fatalf("Properties = %T", tool.InputSchema.Properties)
			}
			if len(props) != tt.wantProps {
				t.Errorf("properties = %d, want %d", len(props), tt.wantProps)
			}
			if fmt.Sprint(tool.InputSchema.Required) != fmt.Sprint(tt.wantRequired) {
				t.Errorf("Required = %v, want %v", tool.InputSchema.Required, tt.wantRequired)
			}
		})
	}
}

func TestToAnthropicMessages(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "what time is it in Tokyo and Paris?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Name: "clock", Arguments: `{"zone":"Asia/Tokyo"}`},
			{ID: "b", Name: "clock", Arguments: "not json"},
		}},
		{Role: RoleTool, ToolCallID: "a", Content: "09:00"},
		{Role: RoleTool, ToolCallID: "b", Content: "02:00"},
	}

	got := toAnthropicMessages(msgs)
	if len(got) != 3 {
		t.Fatalf("messages = %d, want 3 (system skipped, tool results merged)", len(got))
	}
	if got[1].Role != "assistant" || len(got[1].Content) != 2 {
		t.Errorf("assistant turn = %+v", got[1])
	}
	if input, _ := json.Marshal(got[1].Content[1].OfToolUse.Input); string(input) != "{}" {
		t.Errorf("invalid arguments sent as %s, want {}", input)
	}
	if got[2].Role != "user" || len(got[2].Content) != 2 {
		t.Fatalf("tool result turn = %+v", got[2])
	}
	if res := got[2].Content[1].OfToolResult; res == nil || res.ToolUseID != "b" {
		t.Errorf("second tool result = %+v", got[2].Content[1])
	}
}

func TestAnthropicClient_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "sk-test" {
			t.Errorf("api key header = %q", r.Header.Get("X-Api-Key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [
				{"type": "text", "text": "Checking."},
				{"type": "tool_use", "id": "toolu_01", "name": "clock", "input": {"zone": "UTC"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", srv.URL, nil)
	prompt := NewPrompt([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "time?"},
	}, Options{
		Model:       "claude-test",
		NativeTools: true,
		Tools:       []ToolDefinition{{Name: "clock", InputSchema: `{"type":"object"}`}},
	})

	res, err := c.Complete(context.Background(), prompt)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if body["max_tokens"] != float64(defaultAnthropicMaxTokens) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages sent = %v, want only the user turn", body["messages"])
	}
	if body["system"] == nil {
		t.Error("system prompt not sent")
	}

	gen := res.Result()
	if gen.Message.Content != "Checking." {
		t.Errorf("Content = %q", gen.Message.Content)
	}
	if gen.Metadata.FinishReason != FinishToolCalls {
		t.Errorf("FinishReason = %q", gen.Metadata.FinishReason)
	}
	if len(gen.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v", gen.Message.ToolCalls)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(gen.Message.ToolCalls[0].Arguments), &args); err != nil || args["zone"] != "UTC" {
		t.Errorf("Arguments = %q", gen.Message.ToolCalls[0].Arguments)
	}
	if res.Metadata.Usage.InputTokens != 12 || res.Metadata.Model != "claude-test" {
		t.Errorf("Metadata = %+v", res.Metadata)
	}
}

func TestAnthropicFinishReason(t *testing.T) {
	tests := map[string]string{
		"tool_use":      FinishToolCalls,
		"max_tokens":    FinishLength,
		"end_turn":      FinishStop,
		"stop_sequence": FinishStop,
	}
	for in, want := range tests {
		if got := anthropicFinishReason(anthropic.StopReason(in)); got != want {
			t.Errorf("anthropicFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}
