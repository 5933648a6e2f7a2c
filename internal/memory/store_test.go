package memory

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/tollgate/internal/llm"
)

func newTestSQLiteStore(t *testing.T, maxMessages int) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db, maxMessages)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return store
}

// stores returns every Store implementation under test.
func stores(t *testing.T, maxMessages int) map[string]Store {
	return map[string]Store{
		"window": NewWindowStore(maxMessages),
		"sqlite": newTestSQLiteStore(t, maxMessages),
	}
}

func TestStore_AppendRetrieve(t *testing.T) {
	for name, s := range stores(t, 100) {
		t.Run(name, func(t *testing.T) {
			for i := range 5 {
				role := llm.RoleUser
				if i%2 == 1 {
					role = llm.RoleAssistant
				}
				if err := s.Append("conv", llm.Message{Role: role, Content: fmt.Sprintf("m%d", i)}); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			all, err := s.Retrieve("conv", 0)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if len(all) != 5 {
				t.Fatalf("got %d messages, want 5", len(all))
			}
			if all[0].Content != "m0" || all[4].Content != "m4" {
				t.Errorf("order = %q..%q, want m0..m4", all[0].Content, all[4].Content)
			}

			last, err := s.Retrieve("conv", 2)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if len(last) != 2 || last[0].Content != "m3" || last[1].Content != "m4" {
				t.Errorf("last 2 = %+v, want m3, m4", last)
			}
		})
	}
}

func TestStore_RetrieveUnknown(t *testing.T) {
	for name, s := range stores(t, 100) {
		t.Run(name, func(t *testing.T) {
			msgs, err := s.Retrieve("nope", 10)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if msgs == nil || len(msgs) != 0 {
				t.Errorf("got %v, want empty non-nil slice", msgs)
			}
		})
	}
}

func TestStore_ConversationsIsolated(t *testing.T) {
	for name, s := range stores(t, 100) {
		t.Run(name, func(t *testing.T) {
			_ = s.Append("a", llm.Message{Role: llm.RoleUser, Content: "for a"})
			_ = s.Append("b", llm.Message{Role: llm.RoleUser, Content: "for b"})

			msgs, _ := s.Retrieve("a", 0)
			if len(msgs) != 1 || msgs[0].Content != "for a" {
				t.Errorf("conversation a = %+v", msgs)
			}
		})
	}
}

func TestStore_TrimKeepsSystem(t *testing.T) {
	for name, s := range stores(t, 4) {
		t.Run(name, func(t *testing.T) {
			_ = s.Append("conv", llm.Message{Role: llm.RoleSystem, Content: "sys"})
			for i := range 10 {
				_ = s.Append("conv", llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("u%d", i)})
			}

			msgs, err := s.Retrieve("conv", 0)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if msgs[0].Role != llm.RoleSystem {
				t.Errorf("first message role = %q, want system", msgs[0].Role)
			}
			if got := msgs[len(msgs)-1].Content; got != "u9" {
				t.Errorf("last message = %q, want u9", got)
			}
			for _, m := range msgs {
				if m.Content == "u0" {
					t.Error("oldest user message should have been trimmed")
				}
			}
		})
	}
}

func TestStore_Clear(t *testing.T) {
	for name, s := range stores(t, 100) {
		t.Run(name, func(t *testing.T) {
			_ = s.Append("conv", llm.Message{Role: llm.RoleUser, Content: "hi"})
			if err := s.Clear("conv"); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			msgs, _ := s.Retrieve("conv", 0)
			if len(msgs) != 0 {
				t.Errorf("got %d messages after Clear, want 0", len(msgs))
			}
			if got := s.Stats()["conversations"]; got != 0 {
				t.Errorf("conversations = %v, want 0", got)
			}
		})
	}
}

func TestSQLiteStore_ToolCallRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t, 100)

	call := llm.ToolCall{
		ID:        "abc123",
		Type:      "function",
		Name:      "get_current_date_time",
		Arguments: `{"timeZone":"UTC"}`,
	}
	if err := s.Append("conv", llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{call},
	}); err != nil {
		t.Fatalf("Append assistant: %v", err)
	}
	if err := s.Append("conv", llm.Message{
		Role:       llm.RoleTool,
		Content:    "2026-01-02 03:04:05",
		ToolCallID: "abc123",
		ToolName:   "get_current_date_time",
	}); err != nil {
		t.Fatalf("Append tool: %v", err)
	}

	msgs, err := s.Retrieve("conv", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0] != call {
		t.Errorf("tool calls = %+v, want %+v", msgs[0].ToolCalls, call)
	}
	if msgs[1].ToolCallID != "abc123" || msgs[1].ToolName != "get_current_date_time" {
		t.Errorf("tool message = %+v", msgs[1])
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	s := newTestSQLiteStore(t, 50)
	_ = s.Append("a", llm.Message{Role: llm.RoleUser, Content: "1"})
	_ = s.Append("b", llm.Message{Role: llm.RoleUser, Content: "2"})
	_ = s.Append("b", llm.Message{Role: llm.RoleAssistant, Content: "3"})

	stats := s.Stats()
	if stats["conversations"] != 2 {
		t.Errorf("conversations = %v, want 2", stats["conversations"])
	}
	if stats["messages"] != 3 {
		t.Errorf("messages = %v, want 3", stats["messages"])
	}
	if stats["storage"] != "sqlite" {
		t.Errorf("storage = %v, want sqlite", stats["storage"])
	}
}

func TestWindowStore_RetrieveReturnsCopy(t *testing.T) {
	s := NewWindowStore(10)
	_ = s.Append("conv", llm.Message{Role: llm.RoleUser, Content: "original"})

	msgs, _ := s.Retrieve("conv", 0)
	msgs[0].Content = "mutated"

	again, _ := s.Retrieve("conv", 0)
	if again[0].Content != "original" {
		t.Errorf("stored message mutated through Retrieve result: %q", again[0].Content)
	}
}
