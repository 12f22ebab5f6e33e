// Package anthropic implements the Anthropic Messages API adapter: content
// blocks (text, thinking, tool_use) in and out, with streaming normalized to
// the shared event grammar.
//
// Thinking policy: thinking messages with a signature are sent as native
// thinking blocks; unsigned thinking is dropped on the way out.
package anthropic

import (
	"context"
	"log/slog"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/internal/requestlog"
	"github.com/magi-ai/magi/pkg/event"
)

func init() {
	provider.Register("anthropic", func(opts provider.Options) (provider.Provider, error) {
		return New(opts), nil
	})
}

// defaultMaxTokens applies when the catalog has no per-model output cap.
const defaultMaxTokens = 4096

// Adapter is the Anthropic provider.
type Adapter struct {
	apiKey     string
	client     sdkanthropic.Client
	registry   *model.Registry
	logger     *slog.Logger
	requestLog *requestlog.Logger
}

var _ provider.Provider = (*Adapter)(nil)

// New creates the adapter. A missing API key is tolerated here; Stream
// surfaces it as a configuration error.
func New(opts provider.Options) *Adapter {
	var clientOpts []option.RequestOption
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
		apiKey:     opts.APIKey,
		client:     sdkanthropic.NewClient(clientOpts...),
		registry:   opts.Registry,
		logger:     logger,
		requestLog: opts.RequestLog,
	}
}

// Name implements provider.Provider.
func (a *Adapter) Name() string { return "anthropic" }

// Stream implements provider.Provider.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan event.Event, error) {
	if a.apiKey == "" {
		return nil, provider.ErrNoAPIKey
	}

	params := a.convertRequest(req)
	a.requestLog.Log("anthropic", req.Model, params)
	a.logger.Debug("anthropic stream request", "model", req.Model, "messages", len(req.Messages))

	stream := a.client.Messages.NewStreaming(ctx, params)

	// Backend failures during connect surface in-stream so every failure
	// after pre-flight follows the same grammar.
	ch := make(chan event.Event, 16)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				mapped := mapError(err)
				provider.Emit(ctx, ch, event.Error(mapped, provider.CodeOf(mapped)))
			}
			provider.Emit(ctx, ch, event.StreamEnd())
			return
		}
		a.consumeStream(ctx, stream, stream.Current(), ch, req.Model)
	}()
	return ch, nil
}

// maxTokensFor resolves the output cap for a model from the catalog.
func (a *Adapter) maxTokensFor(modelID string, override int) int64 {
	if override > 0 {
		return int64(override)
	}
	if a.registry != nil {
		if e, ok := a.registry.Find(modelID); ok && e.Features.MaxOutputTokens > 0 {
			return int64(e.Features.MaxOutputTokens)
		}
	}
	return defaultMaxTokens
}
