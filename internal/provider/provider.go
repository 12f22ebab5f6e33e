// Package provider defines the adapter contract every backend implements:
// a single streaming operation producing the shared event grammar, the
// request shape, the error taxonomy, and the adapter factory registry.
// Concrete adapters live under modules/provider.
package provider

import (
	"context"

	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

// Provider is the interface for streaming a request to one backend.
// Implementations own their wire format; callers only ever see events.
type Provider interface {
	// Name returns the provider identifier used for routing, quota, and
	// metrics labels.
	Name() string

	// Stream sends the request and returns a channel of normalized events.
	// Pre-flight errors (bad key, unknown model) are returned directly.
	// Mid-stream errors are delivered as error events; the channel always
	// terminates with exactly one stream_end and is then closed.
	Stream(ctx context.Context, req Request) (<-chan event.Event, error)
}

// Request is the canonical input to a Provider.Stream call.
type Request struct {
	Model    string                   `json:"model"`
	Messages []message.Message        `json:"messages"`
	Tools    []message.ToolDefinition `json:"tools,omitempty"`

	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	// ThinkingBudget requests extended reasoning tokens on models that
	// support it; adapters ignore it otherwise.
	ThinkingBudget int `json:"thinking_budget,omitempty"`

	// JSONOutput asks for structured JSON output where the backend has a
	// native switch for it.
	JSONOutput bool `json:"json_output,omitempty"`
}

// Emit delivers an event to ch unless ctx is done first. Adapters use it at
// every send so a cancelled consumer never blocks the stream goroutine.
func Emit(ctx context.Context, ch chan<- event.Event, ev event.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
