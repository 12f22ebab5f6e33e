package config

import (
	"testing"
)

func TestKeyShapeValid(t *testing.T) {
	tests := []struct {
		provider string
		key      string
		want     bool
	}{
		{"openai", "sk-abc123", true},
		{"openai", "", false},
		{"openai", "notakey", false},
		{"anthropic", "sk-ant-abc", true},
		{"anthropic", "sk-abc", false},
		{"google", "AIzaSyExample", true},
		{"google", "sk-abc", false},
		{"xai", "xai-abc", true},
		{"deepseek", "sk-abc", true},
		{"openrouter", "sk-or-v1-abc", true},
		{"openrouter", "sk-abc", false},
		{"unknown-provider", "whatever", true},
	}
	for _, tt := range tests {
		if got := KeyShapeValid(tt.provider, tt.key); got != tt.want {
			t.Errorf("KeyShapeValid(%q, %q) = %v, want %v", tt.provider, tt.key, got, tt.want)
		}
	}
}

func TestLoad_DefaultsAndShapes(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "sk-valid")
	t.Setenv(EnvAnthropicKey, "bogus") // wrong shape, must be dropped
	t.Setenv(EnvAIName, "")
	t.Setenv(EnvYourName, "Sam")

	cfg := Load(nil)
	if !cfg.HasKey("openai") {
		t.Error("valid openai key should be kept")
	}
	if cfg.HasKey("anthropic") {
		t.Error("malformed anthropic key should be dropped")
	}
	if cfg.AIName != "Magi" {
		t.Errorf("AIName = %q, want default Magi", cfg.AIName)
	}
	if cfg.YourName != "Sam" {
		t.Errorf("YourName = %q", cfg.YourName)
	}
}
