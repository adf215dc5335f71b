// Package config loads and validates the Prism runtime configuration.
//
// Configuration is assembled from three layers, later layers winning:
//
//  1. Built-in defaults.
//  2. ${HOME}/.prism/config.json (api key, base url, model).
//  3. Environment variables (PRISM_API_KEY / ANTHROPIC_API_KEY,
//     PRISM_BASE_URL, PRISM_MODEL, PRISM_SYSTEM_PROMPT_FILE).
//
// The system prompt may be overridden by ${HOME}/.prism/system.md, and
// per-tool policy (enable/disable, timeouts, rate budgets) by an optional
// tools.yaml next to it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values applied when neither file nor environment provide one.
const (
	DefaultModel         = "claude-sonnet-4-20250514"
	DefaultProvider      = "anthropic"
	DefaultMaxTurns      = 20
	DefaultMaxTokens     = 4096
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 8790
	DefaultSessionTTL    = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxSessions   = 50
	DefaultToolTimeout   = 60 * time.Second
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("config: API key is required (set PRISM_API_KEY or api_key in config.json)")

// Config is the process-wide runtime configuration.
type Config struct {
	// Provider selects the LLM backend: "anthropic" or "openai".
	Provider string `json:"provider"`

	// APIKey authenticates against the provider. Required.
	APIKey string `json:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `json:"base_url"`

	// Model is the model id used for completions.
	Model string `json:"model"`

	// MaxTurns caps agent loop iterations per user message.
	MaxTurns int `json:"max_turns"`

	// MaxTokens caps output tokens per LLM call.
	MaxTokens int `json:"max_tokens"`

	// Temperature for sampling; zero means provider default.
	Temperature float64 `json:"temperature"`

	// SystemPromptFile overrides the built-in system prompt when set.
	SystemPromptFile string `json:"system_prompt_file"`

	// Server configures the HTTP listener.
	Server ServerConfig `json:"server"`

	// Session configures lifecycle and eviction.
	Session SessionConfig `json:"session"`

	// Log configures structured logging.
	Log LogConfig `json:"log"`

	// Tools holds per-tool policy, keyed by tool name.
	Tools map[string]ToolPolicy `json:"tools"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionConfig configures session lifecycle and eviction.
type SessionConfig struct {
	// TTL evicts sessions idle longer than this.
	TTL Duration `json:"ttl"`

	// SweepInterval is how often the eviction sweep runs.
	SweepInterval Duration `json:"sweep_interval"`

	// MaxSessions caps live sessions; the least-recently-active is
	// evicted when the cap is hit on create.
	MaxSessions int `json:"max_sessions"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// ToolPolicy is the per-tool scheduler policy.
type ToolPolicy struct {
	// Enabled gates the tool; nil means enabled.
	Enabled *bool `json:"enabled" yaml:"enabled"`

	// Timeout overrides the global tool timeout when positive.
	Timeout Duration `json:"timeout" yaml:"timeout"`

	// RateLimit is the per-minute invocation budget; zero means unlimited.
	RateLimit int `json:"rate_limit" yaml:"rate_limit"`

	// Options carries tool-specific extra options.
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// IsEnabled reports whether the policy allows the tool.
func (p ToolPolicy) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Dir returns the Prism configuration directory (${HOME}/.prism).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prism"
	}
	return filepath.Join(home, ".prism")
}

// Load assembles the configuration from defaults, the config directory, and
// the environment. A missing or unreadable config.json is not an error; a
// missing API key is.
func Load() (*Config, error) {
	return LoadFrom(Dir())
}

// LoadFrom is Load with an explicit config directory, for tests.
func LoadFrom(dir string) (*Config, error) {
	// A local .env is a developer convenience; absence is fine.
	_ = godotenv.Load()

	cfg := defaults()

	path := filepath.Join(dir, "config.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(cfg)
	fillDefaults(cfg)

	if err := loadToolPolicies(cfg, filepath.Join(dir, "tools.yaml")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for fatal problems. It is called by Load
// and again by the server before the first stream starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	switch c.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("config: max_turns must be positive, got %d", c.MaxTurns)
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("config: max_sessions must be positive, got %d", c.Session.MaxSessions)
	}
	return nil
}

// SystemPrompt returns the effective system prompt: the configured override
// file if set, else ${dir}/system.md if present, else the built-in default.
func (c *Config) SystemPrompt(dir string) string {
	path := c.SystemPromptFile
	if path == "" {
		path = filepath.Join(dir, "system.md")
	}
	if data, err := os.ReadFile(path); err == nil {
		if prompt := strings.TrimSpace(string(data)); prompt != "" {
			return prompt
		}
	}
	return defaultSystemPrompt
}

func defaults() *Config {
	return &Config{
		Provider:  DefaultProvider,
		Model:     DefaultModel,
		MaxTurns:  DefaultMaxTurns,
		MaxTokens: DefaultMaxTokens,
		Server:    ServerConfig{Host: DefaultHost, Port: DefaultPort},
		Session: SessionConfig{
			TTL:           Duration(DefaultSessionTTL),
			SweepInterval: Duration(DefaultSweepInterval),
			MaxSessions:   DefaultMaxSessions,
		},
		Log:   LogConfig{Level: "info", Format: "json"},
		Tools: map[string]ToolPolicy{},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PRISM_API_KEY"); v != "" {
		cfg.APIKey = v
	} else if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("PRISM_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PRISM_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("PRISM_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("PRISM_SYSTEM_PROMPT_FILE"); v != "" {
		cfg.SystemPromptFile = v
	}
}

func fillDefaults(cfg *Config) {
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = Duration(DefaultSessionTTL)
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = Duration(DefaultSweepInterval)
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = DefaultMaxSessions
	}
	if cfg.Tools == nil {
		cfg.Tools = map[string]ToolPolicy{}
	}
}

func loadToolPolicies(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var policies map[string]ToolPolicy
	if err := yaml.Unmarshal(data, &policies); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	for name, policy := range policies {
		cfg.Tools[name] = policy
	}
	return nil
}

const defaultSystemPrompt = `You are Prism, a code-review assistant running on the developer's workstation.
You have tools to read files, search the project tree, run shell commands, and fetch web pages.
Ground every answer in the actual project contents: read before you conclude.
Be precise about file paths and line numbers, and keep answers focused on the question asked.`
