// Package toolcall extracts tool-call requests from free-form model output.
//
// Models without a native tool channel are asked to answer with a JSON
// array of {"tool": ..., "parameters": ...} entries. In practice the
// array arrives wrapped in prose, fenced in markdown, or as a single bare
// object, so Parse is lenient about framing and strict about content.
package toolcall

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/tollgate/internal/llm"
)

var (
	// ErrMalformed means the candidate text is not a JSON array (or
	// object) of tool-call entries.
	ErrMalformed = errors.New("tool call output is not valid JSON")

	// ErrInvalidEntry means at least one entry lacks a tool name or
	// parameters. The whole batch is rejected.
	ErrInvalidEntry = errors.New("tool call entry missing tool or parameters")
)

// entry is one element of the model's JSON answer.
type entry struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

// Parse turns model text into tool calls. A nil slice with a nil error
// means the text held an empty array. Errors are informational: callers
// treat any error as "no tool calls" and keep the original text.
func Parse(text string) ([]llm.ToolCall, error) {
	candidate := Extract(text)
	if candidate == "" {
		return nil, ErrMalformed
	}

	entries, err := decode(candidate)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	calls := make([]llm.ToolCall, 0, len(entries))
	for i, e := range entries {
		args := arguments(e.Parameters)
		if e.Tool == "" || args == "" {
			return nil, fmt.Errorf("entry %d: %w", i, ErrInvalidEntry)
		}
		calls = append(calls, llm.ToolCall{
			ID:        llm.NewCallID(),
			Type:      "function",
			Name:      e.Tool,
			Arguments: args,
		})
	}
	return calls, nil
}

// Extract returns the substring from the first '{' through the last '}'
// when both exist in that order, otherwise the trimmed text.
func Extract(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		return strings.TrimSpace(text[start : end+1])
	}
	return strings.TrimSpace(text)
}

// decode parses the candidate as an array. Extraction strips the
// brackets of a well-formed array and a lone object is a batch of one,
// so a failed parse is retried with the candidate wrapped in brackets.
func decode(candidate string) ([]entry, error) {
	var entries []entry
	if err := json.Unmarshal([]byte(candidate), &entries); err == nil {
		return entries, nil
	}
	if err := json.Unmarshal([]byte("["+candidate+"]"), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return entries, nil
}

// arguments renders the parameters value as argument text. JSON strings
// are unquoted; any other value is carried as its raw JSON. Missing and
// null parameters yield "".
func arguments(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	return string(raw)
}
