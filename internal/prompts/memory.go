package prompts

import (
	"strings"
)

// defaultMemoryTemplate is appended to the system message with the
// conversation so far substituted for {memory}. {instructions} is the
// original system text.
const defaultMemoryTemplate = `{instructions}

Use the conversation memory from the MEMORY section to provide accurate answers.

---------------------
MEMORY:
{memory}
---------------------
`

// DefaultMemoryTemplate returns the built-in memory template.
func DefaultMemoryTemplate() string {
	return defaultMemoryTemplate
}

// MemoryLine renders one remembered message as ROLE:text.
func MemoryLine(role, text string) string {
	return strings.ToUpper(role) + ":" + text
}

// Memory interpolates a memory template. A template without an
// {instructions} placeholder is appended to the instructions instead.
func Memory(template, instructions string, lines []string) string {
	memory := strings.Join(lines, "\n")
	if !strings.Contains(template, "{instructions}") {
		template = "{instructions}\n\n" + template
	}
	return strings.NewReplacer(
		"{instructions}", instructions,
		"{memory}", memory,
	).Replace(template)
}
