package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/tollgate/examples"
)

// runInit initializes a Tollgate working directory with default files.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Tollgate workspace in %s\n", dir)

	dbDir := filepath.Join(dir, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dbDir, err)
	}

	// The config may hold API keys.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	systemPath := filepath.Join(dir, "system.md")
	if err := writeIfMissing(systemPath, examples.SystemMD, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", systemPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to point at your model backend. Set")
	fmt.Fprintln(w, "agent.system_template_file to system.md to use the system prompt.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
