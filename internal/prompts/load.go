package prompts

import (
	"fmt"
	"os"
	"strings"
)

// Templates holds the runtime prompt text.
type Templates struct {
	System string
	Memory string
}

// Load returns the built-in templates, replacing each with the contents
// of its file when a path is given. Empty files are an error.
func Load(systemFile, memoryFile string) (Templates, error) {
	t := Templates{
		System: BaseSystemPrompt(),
		Memory: DefaultMemoryTemplate(),
	}

	var err error
	if systemFile != "" {
		if t.System, err = readTemplate(systemFile); err != nil {
			return Templates{}, fmt.Errorf("load system template: %w", err)
		}
	}
	if memoryFile != "" {
		if t.Memory, err = readTemplate(memoryFile); err != nil {
			return Templates{}, fmt.Errorf("load memory template: %w", err)
		}
	}
	return t, nil
}

func readTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := strings.TrimRight(string(data), "\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return text, nil
}
