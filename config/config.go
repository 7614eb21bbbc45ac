// Package config loads runtime configuration from the environment and agent
// model preferences from YAML files.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment-driven runtime configuration. Provider API keys
// come from the environment so they never land in preference files.
type Config struct {
	OpenAIAPIKey    string `env:"TURNPIKE_OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"TURNPIKE_ANTHROPIC_API_KEY"`

	// PreferencesPath points at the YAML agent-preference file.
	PreferencesPath string `env:"TURNPIKE_PREFERENCES_PATH" envDefault:"preferences.yaml"`

	// MemoryDBPath selects the SQLite memory database. Empty keeps memory
	// in process only.
	MemoryDBPath string `env:"TURNPIKE_MEMORY_DB_PATH"`

	// TokenBudget is the default context budget when a request does not
	// set one.
	TokenBudget int `env:"TURNPIKE_TOKEN_BUDGET" envDefault:"4000"`

	// MaxLLMCalls caps model calls per turn in the tool retry loop.
	MaxLLMCalls int `env:"TURNPIKE_MAX_LLM_CALLS" envDefault:"3"`

	// RunTimeout bounds one whole pipeline run.
	RunTimeout time.Duration `env:"TURNPIKE_RUN_TIMEOUT" envDefault:"120s"`

	// ToolCallTimeout bounds a single tool call.
	ToolCallTimeout time.Duration `env:"TURNPIKE_TOOL_CALL_TIMEOUT" envDefault:"30s"`

	// ProviderRPS rate-limits outbound provider calls. 0 disables limiting.
	ProviderRPS float64 `env:"TURNPIKE_PROVIDER_RPS" envDefault:"0"`

	LogLevel string `env:"TURNPIKE_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
