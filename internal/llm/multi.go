package llm

import (
	"context"
	"fmt"
	"iter"
)

// MultiGateway routes prompts to the appropriate provider based on the
// model named in the prompt options.
type MultiGateway struct {
	gateways map[string]Gateway // provider name → gateway
	models   map[string]string  // model name → provider name
	fallback Gateway            // default gateway for unknown models
}

// NewMultiGateway creates a gateway that routes to multiple providers.
func NewMultiGateway(fallback Gateway) *MultiGateway {
	return &MultiGateway{
		gateways: make(map[string]Gateway),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a gateway for a provider name.
func (m *MultiGateway) AddProvider(name string, gw Gateway) {
	m.gateways[name] = gw
}

// AddModel maps a model name to a provider.
func (m *MultiGateway) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

func (m *MultiGateway) gatewayFor(model string) (Gateway, error) {
	if provider, ok := m.models[model]; ok {
		if gw, ok := m.gateways[provider]; ok {
			return gw, nil
		}
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return m.fallback, nil
}

// Complete sends a prompt to the provider for its model.
func (m *MultiGateway) Complete(ctx context.Context, prompt *Prompt) (*CompletionResult, error) {
	gw, err := m.gatewayFor(prompt.Model())
	if err != nil {
		return nil, err
	}
	return gw.Complete(ctx, prompt)
}

// CompleteStream streams a prompt from the provider for its model.
func (m *MultiGateway) CompleteStream(ctx context.Context, prompt *Prompt) iter.Seq2[*CompletionResult, error] {
	gw, err := m.gatewayFor(prompt.Model())
	if err != nil {
		return streamError(err)
	}
	return gw.CompleteStream(ctx, prompt)
}

// Ping checks the fallback provider.
func (m *MultiGateway) Ping(ctx context.Context) error {
	if m.fallback != nil {
		return m.fallback.Ping(ctx)
	}
	return fmt.Errorf("no fallback gateway configured")
}
