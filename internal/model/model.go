// Package model holds the model catalog: per-model cost and feature data,
// alias resolution, and capability class membership. The registry is
// immutable after load; all reads are lock-free.
package model

import (
	"fmt"
	"time"
)

// ProviderName identifies a backend a model is served by.
type ProviderName string

// Known providers.
const (
	ProviderOpenAI     ProviderName = "openai"
	ProviderAnthropic  ProviderName = "anthropic"
	ProviderGoogle     ProviderName = "google"
	ProviderXAI        ProviderName = "xai"
	ProviderDeepSeek   ProviderName = "deepseek"
	ProviderOpenRouter ProviderName = "openrouter"
	ProviderClaudeCode ProviderName = "claude-code"
	ProviderTest       ProviderName = "test"
)

// TieredCost is a two-segment price: the first Threshold tokens are billed
// at Below, the remainder at Above. Prices are USD per million tokens.
type TieredCost struct {
	Threshold int     `yaml:"threshold"`
	Below     float64 `yaml:"below"`
	Above     float64 `yaml:"above"`
}

// TimeOfDayCost is a price that varies with the UTC clock. The peak window
// is [PeakStart, PeakEnd): exactly at PeakStart is peak, exactly at PeakEnd
// is off-peak. Windows may wrap across midnight.
type TimeOfDayCost struct {
	PeakStart string  `yaml:"peak_start"` // "HH:MM" UTC
	PeakEnd   string  `yaml:"peak_end"`
	Peak      float64 `yaml:"peak"`
	OffPeak   float64 `yaml:"off_peak"`

	startMin int
	endMin   int
}

// InPeak reports whether t falls inside the peak window.
func (c *TimeOfDayCost) InPeak(t time.Time) bool {
	m := t.UTC().Hour()*60 + t.UTC().Minute()
	if c.startMin <= c.endMin {
		return m >= c.startMin && m < c.endMin
	}
	// Window wraps midnight.
	return m >= c.startMin || m < c.endMin
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("model: bad clock value %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("model: clock value %q out of range", s)
	}
	return h*60 + m, nil
}

// ComponentCost prices one cost component (input, output, or cached tokens).
// Exactly one of Flat, Tiered, or TimeOfDay applies; Tiered and TimeOfDay
// take precedence over Flat when present.
type ComponentCost struct {
	Flat      float64        `yaml:"flat"`
	Tiered    *TieredCost    `yaml:"tiered"`
	TimeOfDay *TimeOfDayCost `yaml:"time_of_day"`
}

// Cost is the full pricing record for a model. All token prices are USD per
// million tokens; PerImage is USD per generated image.
type Cost struct {
	Input    ComponentCost `yaml:"input"`
	Output   ComponentCost `yaml:"output"`
	Cached   ComponentCost `yaml:"cached"`
	PerImage float64       `yaml:"per_image"`
}

// Features describes what a model can do.
type Features struct {
	ContextWindow    int      `yaml:"context"`
	MaxOutputTokens  int      `yaml:"max_output_tokens"`
	ToolUse          bool     `yaml:"tool_use"`
	Streaming        bool     `yaml:"streaming"`
	JSONOutput       bool     `yaml:"json_output"`
	InputModalities  []string `yaml:"input"`
	OutputModalities []string `yaml:"output"`
}

// Entry is one model in the catalog. Immutable after load.
type Entry struct {
	ID           string       `yaml:"id"`
	Aliases      []string     `yaml:"aliases"`
	Provider     ProviderName `yaml:"provider"`
	OpenRouterID string       `yaml:"openrouter_id"`
	Cost         Cost         `yaml:"cost"`
	Features     Features     `yaml:"features"`
	Score        float64      `yaml:"score"`
}

// Class is a named bucket of interchangeable model ids. Members are ordered;
// when Random is set, ClassMembers shuffles them weighted by entry score.
type Class struct {
	ID      string   `yaml:"id"`
	Members []string `yaml:"members"`
	Random  bool     `yaml:"random"`
}

// Well-known class ids.
const (
	ClassStandard  = "standard"
	ClassMini      = "mini"
	ClassReasoning = "reasoning"
	ClassSummary   = "summary"
	ClassVision    = "vision"
)
