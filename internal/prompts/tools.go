package prompts

import (
	"fmt"
	"strings"
)

// toolDirectiveTemplate replaces the user's message when tools are on
// offer. It asks for a bare JSON array of {"tool", "parameters"} entries,
// the format the tool-call parser accepts.
const toolDirectiveTemplate = `question:{question}
You are an assistant that can answer questions using tools.
If You are asked a question that requires a tool, you must respond with a JSON array of tool calls.
[
    {
      "tool": "tool_name",
      "parameters": { /* required parameters matching the JSON Schema */ }
    }
]
Do NOT explain your answer.
Only choose from the tools listed below:
{toolSchemas}
Based on the user question, select the most appropriate tool and provide only the JSON response.`

// ToolDirective returns the tool directive with the user's question and
// the rendered tool schemas substituted. Substitution is a single pass,
// so placeholder text inside the question is left alone.
func ToolDirective(question, toolSchemas string) string {
	return strings.NewReplacer(
		"{question}", question,
		"{toolSchemas}", toolSchemas,
	).Replace(toolDirectiveTemplate)
}

// ToolSchema renders one tool for the directive's catalog section.
func ToolSchema(name, description, inputSchema string) string {
	return fmt.Sprintf("Tool Name: %s\nDescription: %s\nParameters (JSON Schema): %s\n",
		name, description, inputSchema)
}
