package advisor

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/nugget/tollgate/internal/events"
	"github.com/nugget/tollgate/internal/llm"
	"github.com/nugget/tollgate/internal/toolcall"
	"github.com/nugget/tollgate/internal/tools"
)

// OrderToolLoop places the tool loop just inside the memory advisor so
// memory sees only the final answer of a call.
const OrderToolLoop = math.MinInt + 1000

// DefaultMaxRounds bounds tool rounds per call when none is configured.
const DefaultMaxRounds = 8

// Catalog is the set of tools the loop may execute.
type Catalog interface {
	Definitions() []llm.ToolDefinition
	Invoke(ctx context.Context, name, args string) (tools.Result, error)
}

// ToolLoopConfig tunes the tool loop.
type ToolLoopConfig struct {
	// MaxRounds is the number of tool rounds allowed per call.
	MaxRounds int
	// ContinueOnToolError turns a failed tool call into an error
	// message for the model instead of failing the call.
	ContinueOnToolError bool
}

// ToolLoop resolves tool calls for one logical call. It augments the
// prompt with the tool directive, parses tool calls out of the model's
// text, executes them and calls the rest of the chain again with the
// results until the model answers without requesting tools.
type ToolLoop struct {
	catalog Catalog
	config  ToolLoopConfig
	bus     *events.Bus
	logger  *slog.Logger
}

// NewToolLoop creates a tool loop. bus may be nil.
func NewToolLoop(catalog Catalog, cfg ToolLoopConfig, bus *events.Bus, logger *slog.Logger) *ToolLoop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolLoop{
		catalog: catalog,
		config:  cfg,
		bus:     bus,
		logger:  logger.With("component", "toolloop"),
	}
}

// Name implements Advisor.
func (l *ToolLoop) Name() string { return "toolLoop" }

// Order implements Advisor.
func (l *ToolLoop) Order() int { return OrderToolLoop }

// roundState is the private conversation context of one logical call.
type roundState struct {
	conversationID string
	history        []llm.Message
	round          int
	returnDirect   bool
}

// AdviseCall implements CallAdvisor.
func (l *ToolLoop) AdviseCall(ctx context.Context, req *Request, chain *Chain) (resp *Response, err error) {
	start := time.Now()
	state := &roundState{
		conversationID: ConversationID(ctx),
		history:        slices.Clone(req.Prompt.Messages),
	}
	log := l.logger.With("conversation", state.conversationID)

	defer func() {
		data := map[string]any{
			"conversation_id": state.conversationID,
			"rounds":          state.round,
			"return_direct":   state.returnDirect,
			"elapsed_ms":      time.Since(start).Milliseconds(),
		}
		if err != nil {
			data["error"] = err.Error()
		}
		l.bus.Emit(events.SourceLoop, events.KindRequestComplete, data)
	}()

	resp, err = chain.NextCall(ctx, &Request{Prompt: AugmentPrompt(req.Prompt)})
	rest := chain.Without(l.Name())

	for {
		if err != nil {
			return nil, err
		}
		if resp == nil || resp.Result == nil || len(resp.Result.Generations) == 0 {
			return nil, ErrEmptyResponse
		}

		result := l.resolve(log, resp.Result)
		l.emitResponse(state, result)

		gen := firstWithToolCalls(result)
		if gen == nil {
			log.Debug("tool loop finished", "rounds", state.round)
			return &Response{Result: result}, nil
		}

		state.round++
		if state.round > l.config.MaxRounds {
			log.Warn("tool round limit exceeded", "max_rounds", l.config.MaxRounds)
			return nil, ErrRoundLimitExceeded
		}

		var toolMsgs []llm.Message
		var direct bool
		toolMsgs, direct, err = l.execute(ctx, log, state, gen.Message.ToolCalls)
		if err != nil {
			return nil, err
		}
		state.history = append(state.history, gen.Message)
		state.history = append(state.history, toolMsgs...)

		if direct {
			state.returnDirect = true
			return &Response{Result: returnDirectResult(result, toolMsgs)}, nil
		}

		resp, err = rest.NextCall(ctx, &Request{Prompt: req.Prompt.WithMessages(state.history)})
	}
}

// resolve returns result with tool calls parsed out of every generation
// that does not already carry native ones. A native batch with any
// invalid call is dropped whole, as the text parser does.
func (l *ToolLoop) resolve(log *slog.Logger, result *llm.CompletionResult) *llm.CompletionResult {
	gens := make([]llm.Generation, len(result.Generations))
	for i, g := range result.Generations {
		gens[i] = g
		if g.HasToolCalls() {
			if !slices.ContainsFunc(g.Message.ToolCalls, invalidCall) {
				continue
			}
			log.Debug("discarding native tool calls with missing name or arguments",
				"calls", len(g.Message.ToolCalls))
			msg := g.Message
			msg.ToolCalls = nil
			gens[i] = llm.Generation{Message: msg, Metadata: g.Metadata}
			continue
		}
		if g.Message.Content == "" {
			continue
		}
		if g.Message.Role != "" && g.Message.Role != llm.RoleAssistant {
			continue
		}

		calls, err := toolcall.Parse(g.Message.Content)
		if err != nil {
			log.Debug("model text is not a tool call batch", "error", err)
			continue
		}
		if len(calls) == 0 {
			continue
		}

		msg := g.Message
		msg.Role = llm.RoleAssistant
		msg.ToolCalls = calls
		gens[i] = llm.Generation{Message: msg, Metadata: g.Metadata}
	}
	return result.WithGenerations(gens)
}

// execute runs calls in order. It reports whether every call asked for
// its result to be returned directly.
func (l *ToolLoop) execute(ctx context.Context, log *slog.Logger, state *roundState, calls []llm.ToolCall) ([]llm.Message, bool, error) {
	msgs := make([]llm.Message, 0, len(calls))
	direct := true

	for _, call := range calls {
		l.bus.Emit(events.SourceLoop, events.KindToolCall, map[string]any{
			"conversation_id": state.conversationID,
			"round":           state.round,
			"tool":            call.Name,
			"call_id":         call.ID,
		})

		start := time.Now()
		res, err := l.catalog.Invoke(tools.WithToolCallID(ctx, call.ID), call.Name, call.Arguments)
		elapsed := time.Since(start)

		l.bus.Emit(events.SourceLoop, events.KindToolDone, map[string]any{
			"conversation_id": state.conversationID,
			"tool":            call.Name,
			"call_id":         call.ID,
			"ok":              err == nil,
			"duration_ms":     elapsed.Milliseconds(),
		})

		if err != nil {
			invErr := &ToolInvocationError{Tool: call.Name, CallID: call.ID, Err: err}
			if !l.config.ContinueOnToolError {
				log.Error("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
				return nil, false, invErr
			}
			log.Warn("tool call failed, continuing", "tool", call.Name, "call_id", call.ID, "error", err)
			res = tools.Result{Content: "ERROR: " + err.Error()}
		} else {
			log.Info("tool call", "tool", call.Name, "call_id", call.ID,
				"elapsed", elapsed.Round(time.Millisecond), "result_len", len(res.Content))
		}

		if !res.ReturnDirect {
			direct = false
		}
		msgs = append(msgs, llm.Message{
			Role:       llm.RoleTool,
			Content:    res.Content,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}
	return msgs, direct && len(msgs) > 0, nil
}

func (l *ToolLoop) emitResponse(state *roundState, result *llm.CompletionResult) {
	calls := 0
	for _, g := range result.Generations {
		calls += len(g.Message.ToolCalls)
	}
	l.bus.Emit(events.SourceLoop, events.KindLLMResponse, map[string]any{
		"conversation_id": state.conversationID,
		"round":           state.round,
		"model":           result.Metadata.Model,
		"tokens_in":       result.Metadata.Usage.InputTokens,
		"tokens_out":      result.Metadata.Usage.OutputTokens,
		"tool_calls":      calls,
	})
}

func invalidCall(c llm.ToolCall) bool { return !c.Valid() }

func firstWithToolCalls(result *llm.CompletionResult) *llm.Generation {
	for i := range result.Generations {
		if result.Generations[i].HasToolCalls() {
			return &result.Generations[i]
		}
	}
	return nil
}

// returnDirectResult answers with the tool output itself, one generation
// per executed call.
func returnDirectResult(from *llm.CompletionResult, toolMsgs []llm.Message) *llm.CompletionResult {
	gens := make([]llm.Generation, len(toolMsgs))
	for i, m := range toolMsgs {
		gens[i] = llm.Generation{
			Message: llm.Message{
				Role:     llm.RoleAssistant,
				Content:  m.Content,
				Metadata: map[string]any{"tool_call_id": m.ToolCallID, "tool_name": m.ToolName},
			},
			Metadata: llm.GenerationMetadata{FinishReason: llm.FinishReturnDirect},
		}
	}
	return from.WithGenerations(gens)
}
