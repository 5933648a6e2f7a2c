package llm

import (
	"context"
	"iter"
)

// Gateway is the interface every model provider implements.
type Gateway interface {
	// Complete sends the prompt and returns the full completion.
	Complete(ctx context.Context, prompt *Prompt) (*CompletionResult, error)

	// CompleteStream sends the prompt and yields incremental chunks. Each
	// chunk carries only the text produced since the previous one. The
	// sequence stops after the first error.
	CompleteStream(ctx context.Context, prompt *Prompt) iter.Seq2[*CompletionResult, error]

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// streamError returns a sequence that yields a single error.
func streamError(err error) iter.Seq2[*CompletionResult, error] {
	return func(yield func(*CompletionResult, error) bool) {
		yield(nil, err)
	}
}
