// Package prompts contains the prompt templates Tollgate sends to models.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates are interpolated here and validated by tests. The
// system and memory templates can be replaced at runtime with files named
// in config.yaml; the tool directive cannot, since the tool-call parser
// depends on the answer format it asks for.
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the fully
// interpolated prompt string.
package prompts
