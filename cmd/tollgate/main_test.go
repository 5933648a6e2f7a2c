package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
)

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, io.Discard, args); err != nil {
			t.Fatalf("run(%q): %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: tollgate") {
			t.Errorf("run(%q) output = %q", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"-x"}, "unknown flag: -x"},
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask", "-think"}, "usage: tollgate ask"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "ask", "hi"}, "config file not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), io.Discard, io.Discard, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Tollgate ") || !strings.Contains(out.String(), "go_version:") {
		t.Errorf("text output = %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), &out, io.Discard, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	if info, err := os.Stat(filepath.Join(dir, "db")); err != nil || !info.IsDir() {
		t.Errorf("db directory: %v", err)
	}

	tests := []struct {
		file string
		perm os.FileMode
	}{
		{"config.yaml", 0o600},
		{"system.md", 0o644},
	}
	for _, tt := range tests {
		info, err := os.Stat(filepath.Join(dir, tt.file))
		if err != nil {
			t.Fatalf("%s not created: %v", tt.file, err)
		}
		if got := info.Mode().Perm(); got != tt.perm {
			t.Errorf("%s permissions = %o, want %o", tt.file, got, tt.perm)
		}
		if !strings.Contains(buf.String(), tt.file) {
			t.Errorf("output does not mention %s", tt.file)
		}
	}
}

func TestRunInit_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("custom: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runInit(io.Discard, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "custom: true\n" {
		t.Errorf("config.yaml overwritten: %q", got)
	}
}

// fakeOllama answers /api/chat with a fixed reply and records the
// user message it was sent.
type fakeOllama struct {
	mu    sync.Mutex
	reply string
	users []string
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	for _, m := range req.Messages {
		if m.Role == "user" {
			f.users = append(f.users, m.Content)
		}
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":       "qwen3:4b",
		"message":     map[string]string{"role": "assistant", "content": f.reply},
		"done":        true,
		"done_reason": "stop",
	})
}

func writeConfig(t *testing.T, ollamaURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "models:\n  default: qwen3:4b\n  ollama_url: " + ollamaURL + "\nlog_level: error\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunAsk(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantOut      string
		wantSuppress bool
	}{
		{
			name:         "trace stripped",
			args:         []string{"ask", "what", "time?"},
			wantOut:      "Noon.\n",
			wantSuppress: true,
		},
		{
			name:    "think keeps trace",
			args:    []string{"ask", "-think", "what", "time?"},
			wantOut: "<think>check</think>\nNoon.\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeOllama{reply: "<think>check</think>\nNoon."}
			ts := httptest.NewServer(backend)
			defer ts.Close()

			args := append([]string{"-config", writeConfig(t, ts.URL)}, tt.args...)
			var out bytes.Buffer
			if err := run(context.Background(), &out, io.Discard, args); err != nil {
				t.Fatalf("run: %v", err)
			}
			if out.String() != tt.wantOut {
				t.Errorf("output = %q, want %q", out.String(), tt.wantOut)
			}

			if len(backend.users) != 1 {
				t.Fatalf("backend saw %d user messages, want 1", len(backend.users))
			}
			// The clock tool is always registered, so the question
			// arrives inside the tool directive.
			user := backend.users[0]
			if !strings.HasPrefix(user, "question:what time?\n") {
				t.Errorf("user message = %q, want tool directive", user)
			}
			if got := strings.HasSuffix(user, "/no_think"); got != tt.wantSuppress {
				t.Errorf("suppress token present = %v, want %v", got, tt.wantSuppress)
			}
		})
	}
}
