// Tollgate is an LLM interception layer. It sits between a chat client
// and a model backend and runs every request through a chain of
// advisors: conversation memory, tool execution and reasoning-trace
// filtering.
//
// Usage:
//
//	tollgate serve                  Start the API server
//	tollgate init [dir]             Initialize a working directory with defaults
//	tollgate ask [-think] <question> Ask a single question (for testing)
//	tollgate version                Print version and build information
//	tollgate -o json version        Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/tollgate/internal/advisor"
	"github.com/nugget/tollgate/internal/api"
	"github.com/nugget/tollgate/internal/buildinfo"
	"github.com/nugget/tollgate/internal/chat"
	"github.com/nugget/tollgate/internal/config"
	"github.com/nugget/tollgate/internal/events"
	"github.com/nugget/tollgate/internal/fetch"
	"github.com/nugget/tollgate/internal/llm"
	"github.com/nugget/tollgate/internal/memory"
	"github.com/nugget/tollgate/internal/mqtt"
	"github.com/nugget/tollgate/internal/prompts"
	"github.com/nugget/tollgate/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main only builds the OS-level environment and hands off to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand rather than
// with the flag package so that run can be called concurrently from
// tests without shared global state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command == "" && args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case command == "" && strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case command == "" && (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case command == "" && strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case command == "" && strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command == "" {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
			cmdArgs = append(cmdArgs, args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Tollgate - LLM interception layer")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tollgate [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve              Start the API server")
	fmt.Fprintln(w, "  init [dir]         Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask [-think] <q>   Ask a single question (for testing)")
	fmt.Fprintln(w, "  version            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/tollgate/config.yaml, /etc/tollgate/config.yaml")
	return nil
}

// runAsk answers one question through the full advisor chain with an
// in-memory store and prints the answer. The reasoning trace is
// stripped unless -think is given.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	think := false
	var words []string
	for _, a := range args {
		if a == "-think" || a == "--think" {
			think = true
			continue
		}
		words = append(words, a)
	}
	if len(words) == 0 {
		return fmt.Errorf("usage: tollgate ask [-think] <question>")
	}
	question := strings.Join(words, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.Debug("config loaded", "path", cfgPath)

	// Nothing to persist for a single question.
	cfg.Memory.Backend = config.MemoryBackendMemory

	a, err := newApp(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.chat.Generate(ctx, chat.Request{
		ConversationID: "cli",
		Message:        question,
		Think:          think,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, answer)
	return nil
}

// runServe loads config, wires the advisor chain and serves the API
// until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.Info("starting Tollgate", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
		"memory", cfg.Memory.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()

	a, err := newApp(cfg, bus, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// The backend may come up after us; a failed probe only warns.
	{
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.gateway.Ping(pingCtx); err != nil {
			logger.Warn("model backend unreachable at startup", "error", err)
		}
		pingCancel()
	}

	// --- MQTT event forwarding ---
	var forwarder *mqtt.Forwarder
	if cfg.MQTT.Enabled {
		forwarder = mqtt.New(cfg.MQTT, bus, logger)
		go func() {
			if err := forwarder.Start(ctx); err != nil {
				logger.Error("mqtt forwarder failed", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.chat, logger)
	server.SetMemoryStore(a.store)
	server.SetEventBus(bus)
	server.SetBackend(a.gateway)
	server.SetDefaultModel(cfg.Models.Default)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if forwarder != nil {
			if err := forwarder.Stop(shutdownCtx); err != nil {
				logger.Warn("mqtt forwarder stop failed", "error", err)
			}
		}
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	logger.Info("Tollgate stopped")
	return nil
}

// app holds the components shared by serve and ask.
type app struct {
	gateway *llm.MultiGateway
	store   memory.Store
	chat    *chat.Service
	closers []func() error
}

// newApp builds the gateway, memory store, tool registry and advisor
// chain from cfg. bus may be nil.
func newApp(cfg *config.Config, bus *events.Bus, logger *slog.Logger) (*app, error) {
	a := &app{gateway: newGateway(cfg, logger)}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	templates, err := prompts.Load(cfg.Agent.SystemTemplateFile, cfg.Agent.MemoryTemplateFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := tools.NewRegistry(logger)
	registry.RegisterClock(time.Now)
	if cfg.Tools.FetchEnabled {
		registry.RegisterFetch(fetch.New(fetch.Options{Logger: logger}))
	}
	logger.Info("tools registered", "tools", registry.Names())

	chain := advisor.NewChain(a.gateway,
		advisor.NewMemoryAdvisor(store, cfg.Agent.ChatMemoryRetrieveSize, templates.Memory, logger),
		advisor.NewToolLoop(registry, advisor.ToolLoopConfig{
			MaxRounds:           cfg.Agent.MaxToolRounds,
			ContinueOnToolError: cfg.Agent.ContinueOnToolError,
		}, bus, logger),
		advisor.NewTraceFilter(cfg.Agent.TraceMarkers, cfg.Agent.TraceSuppressToken, logger),
	)
	logger.Debug("advisor chain built", "advisors", chain.Names())

	a.chat = chat.NewService(chain, registry, chat.Config{
		Model:        cfg.Models.Default,
		Temperature:  cfg.Models.Temperature,
		MaxTokens:    cfg.Models.MaxTokens,
		NativeTools:  cfg.Models.NativeTools,
		SystemPrompt: templates.System,
	}, bus, logger)
	return a, nil
}

// Close releases the app's resources, reporting every failure.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newGateway builds a multi-provider gateway. Models not mapped to a
// provider fall through to Ollama.
func newGateway(cfg *config.Config, logger *slog.Logger) *llm.MultiGateway {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiGateway(ollama)
	multi.AddProvider(config.ProviderOllama, ollama)

	for _, p := range cfg.Models.Providers {
		switch p.Kind {
		case config.ProviderOllama:
			multi.AddProvider(p.Name, llm.NewOllamaClient(p.BaseURL, logger))
		case config.ProviderOpenAI:
			multi.AddProvider(p.Name, llm.NewOpenAIClient(p.APIKey, p.BaseURL, logger))
		case config.ProviderAnthropic:
			multi.AddProvider(p.Name, llm.NewAnthropicClient(p.APIKey, p.BaseURL, logger))
		}
		logger.Info("model provider configured", "provider", p.Name, "kind", p.Kind)
	}
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}
	return multi
}

// openStore opens the configured conversation store. The returned close
// function is nil for the in-memory backend.
func openStore(cfg *config.Config, logger *slog.Logger) (memory.Store, func() error, error) {
	if cfg.Memory.Backend != config.MemoryBackendSQLite {
		return memory.NewWindowStore(cfg.Memory.MaxMessages), nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Memory.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create memory directory: %w", err)
	}
	lock, err := memory.LockPath(cfg.Memory.Path)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("sqlite3", cfg.Memory.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		lock.Release()
		return nil, nil, fmt.Errorf("open memory database %s: %w", cfg.Memory.Path, err)
	}
	store, err := memory.NewSQLiteStore(db, cfg.Memory.MaxMessages)
	if err != nil {
		db.Close()
		lock.Release()
		return nil, nil, fmt.Errorf("open memory database %s: %w", cfg.Memory.Path, err)
	}
	logger.Info("memory database opened", "path", cfg.Memory.Path)
	return store, func() error {
		return errors.Join(db.Close(), lock.Release())
	}, nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
