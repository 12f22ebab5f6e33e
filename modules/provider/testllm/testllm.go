// Package testllm implements a deterministic in-process backend used by
// tests and local development. It speaks the full event grammar: echo
// responses, forced tool calls when tools are supplied, and simulated
// rate-limit and mid-stream failure models.
package testllm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

func init() {
	provider.Register("test", func(opts provider.Options) (provider.Provider, error) {
		return New(Config{Logger: opts.Logger}), nil
	})
}

// Special model ids with simulated failure behavior.
const (
	ModelRateLimit = "test-rate-limit"
	ModelError     = "test-error"
)

// Config configures the test backend.
type Config struct {
	// FixedContent, when set, replaces the echo response.
	FixedContent string

	// DeltaSize is the number of characters per message_delta. Zero
	// defaults to 8.
	DeltaSize int

	Logger *slog.Logger
}

// Provider is the deterministic test backend.
type Provider struct {
	cfg    Config
	logger *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New creates a test provider.
func New(cfg Config) *Provider {
	if cfg.DeltaSize <= 0 {
		cfg.DeltaSize = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, logger: logger}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "test" }

// Stream implements provider.Provider.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (<-chan event.Event, error) {
	ch := make(chan event.Event, 16)
	go func() {
		defer close(ch)
		p.run(ctx, req, ch)
	}()
	return ch, nil
}

func (p *Provider) run(ctx context.Context, req provider.Request, ch chan<- event.Event) {
	defer provider.Emit(ctx, ch, event.StreamEnd())

	switch req.Model {
	case ModelRateLimit:
		err := fmt.Errorf("%w: 429 Too Many Requests: rate limit exceeded", provider.ErrRateLimited)
		provider.Emit(ctx, ch, event.Error(err, provider.CodeOf(err)))
		return
	case ModelError:
		p.failMidStream(ctx, req, ch)
		return
	}

	if len(req.Tools) > 0 {
		p.forcedToolCall(ctx, req, ch)
		return
	}
	p.echo(ctx, req, ch)
}

// echo streams "Echo: <last user text> (from <model>)" as deltas.
func (p *Provider) echo(ctx context.Context, req provider.Request, ch chan<- event.Event) {
	content := p.cfg.FixedContent
	if content == "" {
		content = fmt.Sprintf("Echo: %s (from %s)", lastUserText(req.Messages), req.Model)
	}

	id := uuid.NewString()
	if !provider.Emit(ctx, ch, event.MessageStart(id)) {
		return
	}
	order := 0
	for _, piece := range split(content, p.cfg.DeltaSize) {
		if !provider.Emit(ctx, ch, event.MessageDelta(id, piece, order)) {
			return
		}
		order++
	}
	provider.Emit(ctx, ch, event.MessageComplete(id, content))
	provider.Emit(ctx, ch, event.CostUpdate(p.usage(req, content)))
}

// forcedToolCall emits one tool_start for the first supplied tool.
func (p *Provider) forcedToolCall(ctx context.Context, req provider.Request, ch chan<- event.Event) {
	tool := req.Tools[0]
	id := uuid.NewString()
	content := fmt.Sprintf("Calling the %s tool.", tool.Name)

	if !provider.Emit(ctx, ch, event.MessageStart(id)) {
		return
	}
	call := message.ToolCall{ID: "call_" + uuid.NewString()[:8], Name: tool.Name, Arguments: "{}"}
	if !provider.Emit(ctx, ch, event.ToolStart(call)) {
		return
	}
	provider.Emit(ctx, ch, event.MessageComplete(id, content))
	provider.Emit(ctx, ch, event.CostUpdate(p.usage(req, content)))
}

// failMidStream emits partial content, an error, then completes with the
// partial text, exercising the failure ordering contract.
func (p *Provider) failMidStream(ctx context.Context, req provider.Request, ch chan<- event.Event) {
	id := uuid.NewString()
	partial := "This response was interru"

	if !provider.Emit(ctx, ch, event.MessageStart(id)) {
		return
	}
	if !provider.Emit(ctx, ch, event.MessageDelta(id, partial, 0)) {
		return
	}
	err := fmt.Errorf("%w: simulated connection loss", provider.ErrTransport)
	provider.Emit(ctx, ch, event.Error(err, provider.CodeOf(err)))
	provider.Emit(ctx, ch, event.MessageComplete(id, partial))
	provider.Emit(ctx, ch, event.CostUpdate(p.usage(req, partial)))
}

// usage fabricates plausible token counts from the request and response
// sizes.
func (p *Provider) usage(req provider.Request, output string) message.Usage {
	input := 0
	for _, m := range req.Messages {
		input += len(m.Text())/4 + 4
	}
	if input < 10 {
		input = 10
	}
	out := len(output) / 4
	if out < 20 {
		out = 20
	}
	return message.Usage{
		Model:        req.Model,
		InputTokens:  input,
		OutputTokens: out,
		Timestamp:    time.Now(),
	}
}

func lastUserText(msgs []message.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleUser && msgs[i].Kind == message.KindText {
			return msgs[i].Text()
		}
	}
	return ""
}

func split(s string, size int) []string {
	if s == "" {
		return nil
	}
	var out []string
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if b.Len() >= size {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
