// Package advisor implements the interception chain that sits between a
// caller and a model gateway. Advisors rewrite the outgoing prompt,
// post-process the completion, or take over the exchange entirely (the
// tool loop runs several model rounds for one logical call).
//
// A Chain is an immutable value. Each advisor receives the chain
// positioned after itself and decides whether, and how often, to call
// NextCall. Chains carry no per-call state, so one chain serves any
// number of concurrent calls.
package advisor

import (
	"context"
	"iter"
	"slices"

	"github.com/nugget/tollgate/internal/llm"
)

// Request is what flows down the chain.
type Request struct {
	Prompt *llm.Prompt
}

// Response is what flows back up the chain.
type Response struct {
	Result *llm.CompletionResult
}

// Text returns the concatenated generation text, or "" for a nil
// response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return r.Result.Text()
}

// Advisor is the common identity of every chain member. Lower Order
// values run earlier (outermost).
type Advisor interface {
	Name() string
	Order() int
}

// CallAdvisor intercepts blocking calls.
type CallAdvisor interface {
	Advisor
	AdviseCall(ctx context.Context, req *Request, chain *Chain) (*Response, error)
}

// StreamAdvisor intercepts streaming calls.
type StreamAdvisor interface {
	Advisor
	AdviseStream(ctx context.Context, req *Request, chain *Chain) iter.Seq2[*Response, error]
}

// Chain is an ordered advisor list ending in a gateway.
type Chain struct {
	gateway  llm.Gateway
	advisors []Advisor
	pos      int
}

// NewChain creates a chain over advisors, sorted by Order. Advisors
// with equal Order keep their registration order.
func NewChain(gateway llm.Gateway, advisors ...Advisor) *Chain {
	sorted := slices.Clone(advisors)
	slices.SortStableFunc(sorted, func(a, b Advisor) int {
		switch {
		case a.Order() < b.Order():
			return -1
		case a.Order() > b.Order():
			return 1
		}
		return 0
	})
	return &Chain{gateway: gateway, advisors: sorted}
}

// Call runs a blocking call through the whole chain.
func (c *Chain) Call(ctx context.Context, req *Request) (*Response, error) {
	return c.NextCall(ctx, req)
}

// Stream runs a streaming call through the whole chain.
func (c *Chain) Stream(ctx context.Context, req *Request) iter.Seq2[*Response, error] {
	return c.NextStream(ctx, req)
}

// NextCall passes req to the next call advisor, or to the gateway when
// none remain.
func (c *Chain) NextCall(ctx context.Context, req *Request) (*Response, error) {
	for i := c.pos; i < len(c.advisors); i++ {
		if a, ok := c.advisors[i].(CallAdvisor); ok {
			return a.AdviseCall(ctx, req, c.at(i+1))
		}
	}

	result, err := c.gateway.Complete(ctx, req.Prompt)
	if err != nil {
		return nil, err
	}
	return &Response{Result: result}, nil
}

// NextStream passes req to the next stream advisor, or to the gateway
// when none remain.
func (c *Chain) NextStream(ctx context.Context, req *Request) iter.Seq2[*Response, error] {
	for i := c.pos; i < len(c.advisors); i++ {
		if a, ok := c.advisors[i].(StreamAdvisor); ok {
			return a.AdviseStream(ctx, req, c.at(i+1))
		}
	}

	return func(yield func(*Response, error) bool) {
		for chunk, err := range c.gateway.CompleteStream(ctx, req.Prompt) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(&Response{Result: chunk}, nil) {
				return
			}
		}
	}
}

// Without returns a chain over the advisors not yet invoked, minus any
// whose Name is listed.
func (c *Chain) Without(names ...string) *Chain {
	rest := make([]Advisor, 0, len(c.advisors)-c.pos)
	for _, a := range c.advisors[c.pos:] {
		if !slices.Contains(names, a.Name()) {
			rest = append(rest, a)
		}
	}
	return &Chain{gateway: c.gateway, advisors: rest}
}

// Names lists the remaining advisors in execution order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.advisors)-c.pos)
	for _, a := range c.advisors[c.pos:] {
		names = append(names, a.Name())
	}
	return names
}

func (c *Chain) at(pos int) *Chain {
	return &Chain{gateway: c.gateway, advisors: c.advisors, pos: pos}
}
