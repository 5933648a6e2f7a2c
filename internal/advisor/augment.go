package advisor

import (
	"strings"

	"github.com/nugget/tollgate/internal/llm"
	"github.com/nugget/tollgate/internal/prompts"
)

// AugmentPrompt replaces the user message with the tool directive,
// listing every tool in the prompt's options. A prompt without tools is
// returned as is.
func AugmentPrompt(p *llm.Prompt) *llm.Prompt {
	if len(p.Options.Tools) == 0 {
		return p
	}

	schemas := make([]string, len(p.Options.Tools))
	for i, t := range p.Options.Tools {
		schemas[i] = prompts.ToolSchema(t.Name, t.Description, t.InputSchema)
	}

	question := p.UserMessage().Content
	return p.AugmentUserMessage(prompts.ToolDirective(question, strings.Join(schemas, "\n\n")))
}
