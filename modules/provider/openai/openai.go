// Package openai implements the OpenAI Responses API adapter over a
// hand-rolled SSE reader: mixed output-item streams with text deltas and
// function-call items whose arguments arrive as fragments.
//
// Thinking policy: reasoning models keep their reasoning server-side; no
// thinking_delta events are produced on this wire.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/internal/requestlog"
	"github.com/magi-ai/magi/pkg/event"
)

func init() {
	provider.Register("openai", func(opts provider.Options) (provider.Provider, error) {
		return New(opts), nil
	})
}

const defaultBaseURL = "https://api.openai.com/v1"

// maxErrorBody caps how much of an error response is read for diagnostics.
const maxErrorBody = 64 * 1024

// Adapter is the OpenAI Responses API provider.
type Adapter struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	registry   *model.Registry
	logger     *slog.Logger
	requestLog *requestlog.Logger
}

var _ provider.Provider = (*Adapter)(nil)

// New creates the adapter. The HTTP client carries no timeout; streams are
// bounded by the request context.
func New(opts provider.Options) *Adapter {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		client:     &http.Client{},
		registry:   opts.Registry,
		logger:     logger,
		requestLog: opts.RequestLog,
	}
}

// Name implements provider.Provider.
func (a *Adapter) Name() string { return "openai" }

// Stream implements provider.Provider.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan event.Event, error) {
	if a.apiKey == "" {
		return nil, provider.ErrNoAPIKey
	}

	wire := a.buildRequest(req)
	a.requestLog.Log("openai", req.Model, wire)
	a.logger.Debug("openai stream request", "model", req.Model, "messages", len(req.Messages))

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", provider.ErrInternal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrInternal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	// Backend failures during connect surface in-stream so every failure
	// after pre-flight follows the same grammar.
	ch := make(chan event.Event, 16)
	go func() {
		resp, err := a.client.Do(httpReq)
		if err != nil {
			failStream(ctx, ch, fmt.Errorf("%w: %w", provider.ErrTransport, err))
			return
		}
		if resp.StatusCode != http.StatusOK {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			_ = resp.Body.Close()
			failStream(ctx, ch, mapHTTPError(resp.StatusCode, errBody))
			return
		}
		a.readStream(ctx, resp.Body, ch, req.Model)
	}()
	return ch, nil
}

// failStream reports a connection-phase failure as an error event followed
// by the terminal stream_end.
func failStream(ctx context.Context, ch chan<- event.Event, err error) {
	defer close(ch)
	provider.Emit(ctx, ch, event.Error(err, provider.CodeOf(err)))
	provider.Emit(ctx, ch, event.StreamEnd())
}
