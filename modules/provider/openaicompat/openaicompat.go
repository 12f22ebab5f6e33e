// Package openaicompat implements the Chat Completions adapter used by
// OpenAI-compatible backends: DeepSeek, xAI/Grok, and OpenRouter. One codec,
// several base-URL presets.
//
// Thinking policy: reasoning_content fragments surface as thinking_delta
// events; thinking messages have no representation on the way out and are
// dropped.
package openaicompat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/internal/requestlog"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

// Base-URL presets per compatible backend.
const (
	deepseekBaseURL   = "https://api.deepseek.com/v1"
	xaiBaseURL        = "https://api.x.ai/v1"
	openrouterBaseURL = "https://openrouter.ai/api/v1"
)

func init() {
	for name, base := range map[string]string{
		"deepseek":   deepseekBaseURL,
		"xai":        xaiBaseURL,
		"openrouter": openrouterBaseURL,
	} {
		preset := base
		providerName := name
		provider.Register(providerName, func(opts provider.Options) (provider.Provider, error) {
			if opts.BaseURL == "" {
				opts.BaseURL = preset
			}
			return New(providerName, opts), nil
		})
	}
}

// Adapter is a Chat Completions provider against one compatible backend.
type Adapter struct {
	name       string
	apiKey     string
	client     openai.Client
	registry   *model.Registry
	logger     *slog.Logger
	requestLog *requestlog.Logger
}

var _ provider.Provider = (*Adapter)(nil)

// New creates an adapter named after its backend.
func New(name string, opts provider.Options) *Adapter {
	clientOpts := []option.RequestOption{}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		name:       name,
		apiKey:     opts.APIKey,
		client:     openai.NewClient(clientOpts...),
		registry:   opts.Registry,
		logger:     logger,
		requestLog: opts.RequestLog,
	}
}

// Name implements provider.Provider.
func (a *Adapter) Name() string { return a.name }

// Stream implements provider.Provider.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan event.Event, error) {
	if a.apiKey == "" {
		return nil, provider.ErrNoAPIKey
	}

	// Models without native tool support get the textual sentinel protocol
	// instead of the tools parameter.
	sentinel := len(req.Tools) > 0 && !a.supportsTools(req.Model)

	params := a.buildParams(req, sentinel)
	a.requestLog.Log(a.name, req.Model, params)
	a.logger.Debug("chat completions stream request",
		"provider", a.name, "model", req.Model, "sentinel_tools", sentinel)

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan event.Event, 16)
	go a.processStream(ctx, stream, ch, req.Model, sentinel)
	return ch, nil
}

func (a *Adapter) supportsTools(modelID string) bool {
	if a.registry == nil {
		return true
	}
	if e, ok := a.registry.Find(modelID); ok {
		return e.Features.ToolUse
	}
	return true
}

// pendingCall accumulates one indexed tool call's fragments.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// processStream reads the SSE stream and emits the event grammar. Tool call
// deltas arrive per index with id and name only in the first fragment;
// arguments are concatenated until finish_reason flushes them.
func (a *Adapter) processStream(
	ctx context.Context,
	stream *ssestream.Stream[openai.ChatCompletionChunk],
	ch chan<- event.Event,
	modelID string,
	sentinel bool,
) {
	defer close(ch)
	defer provider.Emit(ctx, ch, event.StreamEnd())

	messageID := uuid.NewString()
	order := 0
	var text strings.Builder
	var usage *message.Usage
	var blocked bool
	pending := make(map[int]*pendingCall)
	var callOrder []int

	if !provider.Emit(ctx, ch, event.MessageStart(messageID)) {
		return
	}

	flushCalls := func() {
		for _, idx := range callOrder {
			pc := pending[idx]
			args := pc.args.String()
			if args == "" {
				args = "{}"
			}
			provider.Emit(ctx, ch, event.ToolStart(message.ToolCall{
				ID:        pc.id,
				Name:      pc.name,
				Arguments: args,
			}))
		}
		pending = make(map[int]*pendingCall)
		callOrder = nil
	}

	finish := func(failure error) {
		if failure != nil {
			provider.Emit(ctx, ch, event.Error(failure, provider.CodeOf(failure)))
		}
		content := text.String()
		if sentinel {
			var calls []message.ToolCall
			content, calls = parseSentinelCalls(content)
			if len(calls) > 0 {
				provider.Emit(ctx, ch, event.ToolStart(calls...))
			}
		}
		provider.Emit(ctx, ch, event.MessageComplete(messageID, content))
		if usage != nil {
			provider.Emit(ctx, ch, event.CostUpdate(*usage))
		}
	}

	for stream.Next() {
		if ctx.Err() != nil {
			return
		}
		chunk := stream.Current()

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = &message.Usage{
				Model:        modelID,
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
				CachedTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				Timestamp:    time.Now(),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			if !provider.Emit(ctx, ch, event.MessageDelta(messageID, delta.Content, order)) {
				return
			}
			order++
		} else if rc := extractReasoningContent(delta.RawJSON()); rc != "" {
			if !provider.Emit(ctx, ch, event.ThinkingDelta(messageID, rc, "")) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			pc, ok := pending[idx]
			if !ok {
				pc = &pendingCall{}
				pending[idx] = pc
				callOrder = append(callOrder, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pc.args.WriteString(tc.Function.Arguments)
				provider.Emit(ctx, ch, event.PartialToolStart(message.ToolCall{
					ID:        pc.id,
					Name:      pc.name,
					Arguments: pc.args.String(),
				}))
			}
		}

		if choice.FinishReason != "" {
			if choice.FinishReason == "content_filter" {
				blocked = true
			}
			flushCalls()
		}
	}

	if err := stream.Err(); err != nil {
		finish(mapError(a.name, err))
		return
	}
	flushCalls()
	if blocked {
		finish(fmt.Errorf("%w: finish_reason content_filter", provider.ErrContentBlocked))
		return
	}
	finish(nil)
}

// extractReasoningContent pulls the reasoning_content field DeepSeek-style
// backends attach to delta chunks; the SDK struct has no field for it.
func extractReasoningContent(rawJSON string) string {
	var raw struct {
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := jsonUnmarshal(rawJSON, &raw); err != nil {
		return ""
	}
	return raw.ReasoningContent
}
