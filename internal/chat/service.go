// Package chat turns one user turn into one answer. It builds the prompt
// for a conversation and runs it through the advisor chain.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/nugget/tollgate/internal/advisor"
	"github.com/nugget/tollgate/internal/events"
	"github.com/nugget/tollgate/internal/llm"
)

// errEmptyResponse is the cause reported when the chain yields nothing.
var errEmptyResponse = errors.New("empty response")

// Request is one user turn.
type Request struct {
	ConversationID string
	Message        string
	// Think keeps the model's reasoning trace in the answer.
	Think bool
	// Model overrides the configured default model.
	Model string
}

// Config holds the prompt settings applied to every request.
type Config struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	NativeTools  bool
	SystemPrompt string
}

// Service answers chat requests.
type Service struct {
	chain   *advisor.Chain
	catalog advisor.Catalog
	config  Config
	bus     *events.Bus
	logger  *slog.Logger
}

// NewService creates a chat service. catalog and bus may be nil.
func NewService(chain *advisor.Chain, catalog advisor.Catalog, cfg Config, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		chain:   chain,
		catalog: catalog,
		config:  cfg,
		bus:     bus,
		logger:  logger.With("component", "chat"),
	}
}

// prompt builds [system, user] with the configured options. Tools are
// offered only when they can be executed and the catalog has any.
func (s *Service) prompt(req Request, withTools bool) *llm.Prompt {
	opts := llm.Options{
		Model:       s.config.Model,
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
		NativeTools: s.config.NativeTools,
	}
	if req.Model != "" {
		opts.Model = req.Model
	}
	if withTools && s.catalog != nil {
		if defs := s.catalog.Definitions(); len(defs) > 0 {
			opts.Tools = defs
		}
	}

	var msgs []llm.Message
	if s.config.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: s.config.SystemPrompt})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Message})
	return llm.NewPrompt(msgs, opts)
}

func (s *Service) context(ctx context.Context, req Request, stream bool) (context.Context, *llm.Prompt) {
	ctx = advisor.WithConversationID(ctx, req.ConversationID)
	ctx = advisor.WithTraceEnabled(ctx, req.Think)
	prompt := s.prompt(req, !stream)

	s.bus.Emit(events.SourceChat, events.KindRequestStart, map[string]any{
		"conversation_id": advisor.ConversationID(ctx),
		"model":           prompt.Model(),
		"stream":          stream,
	})
	return ctx, prompt
}

// Generate runs one blocking call and returns the first generation's
// text.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	ctx, prompt := s.context(ctx, req, false)

	resp, err := s.chain.Call(ctx, &advisor.Request{Prompt: prompt})
	if err != nil {
		s.logger.Error("generation failed",
			"conversation", advisor.ConversationID(ctx),
			"model", prompt.Model(),
			"error", err,
		)
		return "", fmt.Errorf("generation failed: %w", err)
	}

	var gen *llm.Generation
	if resp != nil {
		gen = resp.Result.Result()
	}
	if gen == nil {
		return "", fmt.Errorf("generation failed: %w", errEmptyResponse)
	}

	s.logger.Info("generation complete",
		"conversation", advisor.ConversationID(ctx),
		"model", prompt.Model(),
		"think", req.Think,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"answer_len", len(gen.Message.Content),
	)
	return gen.Message.Content, nil
}

// Stream runs one streaming call and yields text deltas. Tools are not
// offered on the streaming path since nothing there executes them.
func (s *Service) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, prompt := s.context(ctx, req, true)

		for resp, err := range s.chain.Stream(ctx, &advisor.Request{Prompt: prompt}) {
			if err != nil {
				s.logger.Error("stream failed",
					"conversation", advisor.ConversationID(ctx),
					"model", prompt.Model(),
					"error", err,
				)
				yield("", fmt.Errorf("generation failed: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}
