// Package tools defines the tool catalog offered to the model and the
// built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/nugget/tollgate/internal/llm"
)

// Handler runs a tool. args is the raw JSON argument text produced by the
// model; handlers decode it themselves.
type Handler func(ctx context.Context, args string) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	// ReturnDirect sends the tool output straight back to the caller
	// instead of feeding it to the model for another round.
	ReturnDirect bool `json:"return_direct,omitempty"`

	Handler Handler `json:"-"`
}

// Result is the outcome of a single tool invocation.
type Result struct {
	Content      string
	ReturnDirect bool
}

// Registry holds available tools. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the tool definitions offered to the model, sorted
// by name so prompts are stable between calls.
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		schema, err := json.Marshal(t.Parameters)
		if err != nil || t.Parameters == nil {
			schema = []byte(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: string(schema),
		})
	}
	return defs
}

// Invoke runs a tool by name with the given JSON arguments. A name that
// is not registered returns *ErrToolUnavailable. Argument validation is
// left to the handler.
func (r *Registry) Invoke(ctx context.Context, name, args string) (Result, error) {
	tool := r.Get(name)
	if tool == nil {
		return Result{}, &ErrToolUnavailable{ToolName: name}
	}
	r.logger.Debug("invoking tool", "tool", name, "args", args)
	out, err := tool.Handler(ctx, args)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: out, ReturnDirect: tool.ReturnDirect}, nil
}

// decodeArgs unmarshals tool arguments into v, rejecting fields v does
// not declare. Empty arguments leave v unchanged.
func decodeArgs(name, args string, v any) error {
	if args == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s: invalid arguments: %w", name, err)
	}
	return nil
}
