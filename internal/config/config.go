// Package config handles Tollgate configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/tollgate/config.yaml, /etc/tollgate/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tollgate", "config.yaml"))
	}

	paths = append(paths, "/etc/tollgate/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Tollgate configuration.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	Models    ModelsConfig `yaml:"models"`
	Agent     AgentConfig  `yaml:"agent"`
	Memory    MemoryConfig `yaml:"memory"`
	Tools     ToolsConfig  `yaml:"tools"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text (default), json or color
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines the model gateways and request options.
type ModelsConfig struct {
	Default   string `yaml:"default"`
	OllamaURL string `yaml:"ollama_url"`

	// NativeTools also sends tool definitions through the provider's
	// own tool-calling channel. Most small local models answer better
	// from the prompt text alone.
	NativeTools bool `yaml:"native_tools"`

	Temperature float64          `yaml:"temperature"`
	MaxTokens   int              `yaml:"max_tokens"`
	Providers   []ProviderConfig `yaml:"providers"`
	Available   []ModelConfig    `yaml:"available"`
}

// Provider kinds.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ProviderConfig names an additional gateway models can be routed to.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"` // ollama, openai or anthropic
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
}

// AgentConfig controls prompt templates and the tool loop.
type AgentConfig struct {
	// SystemTemplateFile and MemoryTemplateFile override the built-in
	// templates when set.
	SystemTemplateFile string `yaml:"system_template_file"`
	MemoryTemplateFile string `yaml:"memory_template_file"`

	ChatMemoryRetrieveSize int  `yaml:"chat_memory_retrieve_size"`
	MaxToolRounds          int  `yaml:"max_tool_rounds"`
	ContinueOnToolError    bool `yaml:"continue_on_tool_error"`

	// TraceMarkers are substrings of model names that emit <think>
	// reasoning traces.
	TraceMarkers       []string `yaml:"trace_markers"`
	TraceSuppressToken string   `yaml:"trace_suppress_token"`
}

// Memory backends.
const (
	MemoryBackendMemory = "memory"
	MemoryBackendSQLite = "sqlite"
)

// MemoryConfig selects the conversation store.
type MemoryConfig struct {
	Backend     string `yaml:"backend"` // memory (default) or sqlite
	Path        string `yaml:"path"`    // SQLite database file
	MaxMessages int    `yaml:"max_messages"`
}

// ToolsConfig toggles built-in tools.
type ToolsConfig struct {
	FetchEnabled bool `yaml:"fetch_enabled"`
}

// MQTTConfig configures the optional event forwarder.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Models.Default == "" {
		c.Models.Default = "qwen3:4b"
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Agent.ChatMemoryRetrieveSize == 0 {
		c.Agent.ChatMemoryRetrieveSize = 1000
	}
	if c.Agent.MaxToolRounds == 0 {
		c.Agent.MaxToolRounds = 8
	}
	if len(c.Agent.TraceMarkers) == 0 {
		c.Agent.TraceMarkers = []string{"qwen3"}
	}
	if c.Agent.TraceSuppressToken == "" {
		c.Agent.TraceSuppressToken = "/no_think"
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = MemoryBackendMemory
	}
	if c.Memory.MaxMessages == 0 {
		c.Memory.MaxMessages = 1000
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "tollgate"
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Agent.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tool_rounds must be positive"))
	}
	if c.Agent.ChatMemoryRetrieveSize < 0 {
		errs = append(errs, fmt.Errorf("agent.chat_memory_retrieve_size must be positive"))
	}

	providers := make(map[string]bool)
	for i, p := range c.Models.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("models.providers[%d]: name is required", i))
		}
		switch p.Kind {
		case ProviderOllama, ProviderOpenAI:
		case ProviderAnthropic:
			if p.APIKey == "" {
				errs = append(errs, fmt.Errorf("models.providers[%d]: api_key is required for anthropic", i))
			}
		default:
			errs = append(errs, fmt.Errorf("models.providers[%d]: unknown kind %q (valid: ollama, openai, anthropic)", i, p.Kind))
		}
		providers[p.Name] = true
	}
	for i, m := range c.Models.Available {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models.available[%d]: name is required", i))
		}
		if !providers[m.Provider] {
			errs = append(errs, fmt.Errorf("models.available[%d]: unknown provider %q", i, m.Provider))
		}
	}

	switch c.Memory.Backend {
	case MemoryBackendMemory:
	case MemoryBackendSQLite:
		if c.Memory.Path == "" {
			errs = append(errs, fmt.Errorf("memory.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend %q unknown (valid: memory, sqlite)", c.Memory.Backend))
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", LogFormatText, LogFormatJSON, LogFormatColor:
	default:
		errs = append(errs, fmt.Errorf("log_format %q unknown (valid: text, json, color)", c.LogFormat))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}
