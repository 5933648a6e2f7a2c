package advisor

import (
	"context"
	"iter"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nugget/tollgate/internal/llm"
)

// OrderTraceFilter runs the trace filter innermost, after the tool loop
// has augmented the prompt.
const OrderTraceFilter = 0

// Default trace filter settings.
const (
	DefaultTraceMarker   = "qwen3"
	DefaultSuppressToken = "/no_think"
)

const (
	traceOpen  = "<think>"
	traceClose = "</think>"

	// maxTraceLookahead bounds how much streamed text is held while
	// waiting for a closing tag.
	maxTraceLookahead = 64 * 1024
)

var (
	tracePattern     = regexp.MustCompile(`(?s)<think>.*?</think>`)
	blankLinePattern = regexp.MustCompile(`(?m)^[ \t]*\r?\n`)
	leadingBlanks    = regexp.MustCompile(`\A(?:[ \t]*\r?\n)+`)
)

// TraceFilter suppresses the reasoning trace of models that emit one
// between <think> tags, unless the caller asked to keep it. Models whose
// name matches no marker pass through untouched.
type TraceFilter struct {
	markers       []string
	suppressToken string
	logger        *slog.Logger
}

// NewTraceFilter creates a trace filter. Empty arguments select the
// defaults.
func NewTraceFilter(markers []string, suppressToken string, logger *slog.Logger) *TraceFilter {
	if len(markers) == 0 {
		markers = []string{DefaultTraceMarker}
	}
	if suppressToken == "" {
		suppressToken = DefaultSuppressToken
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceFilter{
		markers:       markers,
		suppressToken: suppressToken,
		logger:        logger.With("component", "tracefilter"),
	}
}

// Name implements Advisor.
func (f *TraceFilter) Name() string { return "traceFilter" }

// Order implements Advisor.
func (f *TraceFilter) Order() int { return OrderTraceFilter }

// traceCapable reports whether model emits a reasoning trace.
func (f *TraceFilter) traceCapable(model string) bool {
	for _, m := range f.markers {
		if m != "" && strings.Contains(model, m) {
			return true
		}
	}
	return false
}

// active reports whether this call needs filtering.
func (f *TraceFilter) active(ctx context.Context, req *Request) bool {
	return f.traceCapable(req.Prompt.Model()) && !TraceEnabled(ctx)
}

// suppress appends the suppression token to the user message.
func (f *TraceFilter) suppress(req *Request) *Request {
	text := req.Prompt.UserMessage().Content
	return &Request{Prompt: req.Prompt.AugmentUserMessage(text + f.suppressToken)}
}

// AdviseCall implements CallAdvisor.
func (f *TraceFilter) AdviseCall(ctx context.Context, req *Request, chain *Chain) (*Response, error) {
	if !f.active(ctx, req) {
		return chain.NextCall(ctx, req)
	}

	resp, err := chain.NextCall(ctx, f.suppress(req))
	if err != nil || resp == nil || resp.Result == nil {
		return resp, err
	}

	gens := make([]llm.Generation, len(resp.Result.Generations))
	for i, g := range resp.Result.Generations {
		gens[i] = g
		gens[i].Message.Content = StripTrace(g.Message.Content)
	}
	return &Response{Result: resp.Result.WithGenerations(gens)}, nil
}

// AdviseStream implements StreamAdvisor. Text inside a trace is held
// until its closing tag arrives, so tags split across chunks are still
// removed.
func (f *TraceFilter) AdviseStream(ctx context.Context, req *Request, chain *Chain) iter.Seq2[*Response, error] {
	if !f.active(ctx, req) {
		return chain.NextStream(ctx, req)
	}

	return func(yield func(*Response, error) bool) {
		strippers := map[int]*traceStripper{}
		stripper := func(i int) *traceStripper {
			s, ok := strippers[i]
			if !ok {
				s = &traceStripper{}
				strippers[i] = s
			}
			return s
		}

		var last llm.ResultMetadata
		for resp, err := range chain.NextStream(ctx, f.suppress(req)) {
			if err != nil {
				yield(nil, err)
				return
			}
			if resp == nil || resp.Result == nil {
				continue
			}
			last = resp.Result.Metadata

			gens := make([]llm.Generation, len(resp.Result.Generations))
			keep := false
			for i, g := range resp.Result.Generations {
				s := stripper(i)
				text := s.feed(g.Message.Content)
				if g.Metadata.FinishReason != "" {
					text += s.flush()
				}
				gens[i] = g
				gens[i].Message.Content = text
				if text != "" || g.HasToolCalls() || g.Metadata.FinishReason != "" {
					keep = true
				}
			}
			if !keep {
				continue
			}
			if !yield(&Response{Result: resp.Result.WithGenerations(gens)}, nil) {
				return
			}
		}

		// Release anything still held when the stream ended without a
		// finish reason.
		var tail []llm.Generation
		for i := 0; i < len(strippers); i++ {
			s, ok := strippers[i]
			if !ok {
				continue
			}
			if text := s.flush(); text != "" {
				for len(tail) < i {
					tail = append(tail, llm.Generation{Message: llm.Message{Role: llm.RoleAssistant}})
				}
				tail = append(tail, llm.Generation{Message: llm.Message{Role: llm.RoleAssistant, Content: text}})
			}
		}
		if len(tail) > 0 {
			yield(&Response{Result: &llm.CompletionResult{Generations: tail, Metadata: last}}, nil)
		}
	}
}

// StripTrace removes <think>…</think> blocks and the blank lines they
// leave behind. Text without an opening tag is returned unchanged.
func StripTrace(text string) string {
	if !strings.Contains(text, traceOpen) {
		return text
	}
	text = tracePattern.ReplaceAllString(text, "")
	return blankLinePattern.ReplaceAllString(text, "")
}

// traceStripper removes traces from one generation's streamed text.
type traceStripper struct {
	pending   string
	inTrace   bool
	trimLines bool // drop blank lines leading the text after a trace
}

// feed accepts the next chunk of text and returns what can be released.
func (s *traceStripper) feed(text string) string {
	s.pending += text
	var out strings.Builder

	for s.pending != "" {
		if s.inTrace {
			end := strings.Index(s.pending, traceClose)
			if end < 0 {
				if len(s.pending) > maxTraceLookahead {
					// No closing tag in sight; give the text back.
					out.WriteString(s.pending)
					s.pending = ""
					s.inTrace = false
				}
				break
			}
			s.pending = s.pending[end+len(traceClose):]
			s.inTrace = false
			s.trimLines = true
			continue
		}

		if start := strings.Index(s.pending, traceOpen); start >= 0 {
			s.release(&out, s.pending[:start])
			s.pending = s.pending[start:]
			s.inTrace = true
			continue
		}

		hold := partialSuffix(s.pending, traceOpen)
		s.release(&out, s.pending[:len(s.pending)-hold])
		s.pending = s.pending[len(s.pending)-hold:]
		break
	}
	return out.String()
}

// release writes text to out, dropping leading blank lines after a
// trace. Whitespace-only text is dropped while trimming.
func (s *traceStripper) release(out *strings.Builder, text string) {
	if text == "" {
		return
	}
	if s.trimLines {
		if strings.TrimSpace(text) == "" {
			return
		}
		text = leadingBlanks.ReplaceAllString(text, "")
		s.trimLines = false
	}
	out.WriteString(text)
}

// flush returns everything still held. An unterminated trace is
// returned verbatim.
func (s *traceStripper) flush() string {
	text := s.pending
	s.pending = ""
	s.inTrace = false
	if s.trimLines {
		text = leadingBlanks.ReplaceAllString(text, "")
	}
	return text
}

// partialSuffix returns the length of the longest proper prefix of tag
// that text ends with.
func partialSuffix(text, tag string) int {
	for n := min(len(tag)-1, len(text)); n > 0; n-- {
		if strings.HasSuffix(text, tag[:n]) {
			return n
		}
	}
	return 0
}
