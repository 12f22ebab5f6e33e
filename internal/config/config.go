// Package config loads the environment-driven configuration: provider API
// keys, display names, and the request-log directory. Missing keys only
// disable the corresponding provider; startup never fails on configuration.
package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvGoogleKey     = "GOOGLE_API_KEY"
	EnvXAIKey        = "XAI_API_KEY"
	EnvDeepSeekKey   = "DEEPSEEK_API_KEY"
	EnvOpenRouterKey = "OPENROUTER_API_KEY"
	EnvAIName        = "AI_NAME"
	EnvYourName      = "YOUR_NAME"
	EnvRequestLogDir = "MAGI_REQUEST_LOG_DIR"
)

// keyPrefixes maps provider names to the prefix a plausible key starts with.
// Shape validation only; an accepted key can still be rejected upstream.
var keyPrefixes = map[string]string{
	"openai":     "sk-",
	"anthropic":  "sk-ant-",
	"google":     "AIza",
	"xai":        "xai-",
	"deepseek":   "sk-",
	"openrouter": "sk-or-",
}

// envNames maps provider names to their key environment variable.
var envNames = map[string]string{
	"openai":     EnvOpenAIKey,
	"anthropic":  EnvAnthropicKey,
	"google":     EnvGoogleKey,
	"xai":        EnvXAIKey,
	"deepseek":   EnvDeepSeekKey,
	"openrouter": EnvOpenRouterKey,
}

// Config is the resolved environment configuration.
type Config struct {
	// Keys holds the raw API key per provider name; absent means unset.
	Keys map[string]string

	// AIName labels the assistant in history formatting. Default "Magi".
	AIName string

	// YourName labels the human in history formatting. May be empty.
	YourName string

	// RequestLogDir is where request logs go; empty disables logging.
	RequestLogDir string
}

// Load reads configuration from the process environment. A .env file in the
// working directory is merged in first when present (existing variables win).
func Load(logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}

	cfg := Config{
		Keys:          make(map[string]string, len(envNames)),
		AIName:        os.Getenv(EnvAIName),
		YourName:      os.Getenv(EnvYourName),
		RequestLogDir: os.Getenv(EnvRequestLogDir),
	}
	if cfg.AIName == "" {
		cfg.AIName = "Magi"
	}

	for provider, env := range envNames {
		key := strings.TrimSpace(os.Getenv(env))
		if key == "" {
			continue
		}
		if !KeyShapeValid(provider, key) {
			logger.Warn("api key has unexpected shape, ignoring",
				"provider", provider, "env", env)
			continue
		}
		cfg.Keys[provider] = key
	}
	return cfg
}

// KeyShapeValid reports whether key looks like a credential for provider:
// non-empty and carrying the provider's known prefix. Providers without a
// known prefix only need a non-empty key.
func KeyShapeValid(provider, key string) bool {
	if key == "" {
		return false
	}
	prefix, ok := keyPrefixes[provider]
	if !ok {
		return true
	}
	return strings.HasPrefix(key, prefix)
}

// HasKey reports whether a usable key is configured for provider.
func (c Config) HasKey(provider string) bool {
	return c.Keys[provider] != ""
}

// Key returns the configured key for provider, or "".
func (c Config) Key(provider string) string {
	return c.Keys[provider]
}
