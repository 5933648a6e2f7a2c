package prompts

// baseSystemTemplate is the default system prompt used when no system
// template file is configured.
const baseSystemTemplate = `You are a helpful assistant.

Answer the user's question directly and concisely. When a tool result is
provided in the conversation, base your answer on it and do not invent
values the tool did not return. If you do not know the answer, say so.`

// BaseSystemPrompt returns the default system prompt.
func BaseSystemPrompt() string {
	return baseSystemTemplate
}
