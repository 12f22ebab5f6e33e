// Package google implements the Gemini streamGenerateContent adapter over a
// hand-rolled SSE reader: candidate content parts carrying text, inline
// binary data, and function calls, with usage metadata on the last chunk.
//
// Thinking policy: parts flagged as thought surface as thinking_delta events;
// thinking messages are dropped on the way out.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/internal/requestlog"
	"github.com/magi-ai/magi/pkg/event"
)

func init() {
	provider.Register("google", func(opts provider.Options) (provider.Provider, error) {
		return New(opts), nil
	})
}

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// connectTries bounds the connection-phase retry. Transient transport
// failures and 5xx responses are retried; everything else surfaces at once.
const connectTries = 3

const maxErrorBody = 64 * 1024

// Adapter is the Gemini provider.
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
func (a *Adapter) Name() string { return "google" }

// Stream implements provider.Provider.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan event.Event, error) {
	if a.apiKey == "" {
		return nil, provider.ErrNoAPIKey
	}

	wire := buildRequest(req)
	a.requestLog.Log("google", req.Model, wire)
	a.logger.Debug("google stream request", "model", req.Model, "messages", len(req.Messages))

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", provider.ErrInternal, err)
	}

	// Backend failures during connect surface in-stream so every failure
	// after pre-flight follows the same grammar.
	ch := make(chan event.Event, 16)
	go func() {
		resp, err := a.connect(ctx, req.Model, body)
		if err != nil {
			failStream(ctx, ch, err)
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

// connect opens the SSE stream, retrying transient failures with exponential
// backoff. Only the connection phase retries; once streaming begins, errors
// surface as events.
func (a *Adapter) connect(ctx context.Context, modelID string, body []byte) (*http.Response, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.baseURL, modelID)

	attempt := func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", provider.ErrInternal, err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", a.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(mapContextErr(ctx.Err()))
			}
			return nil, fmt.Errorf("%w: %w", provider.ErrTransport, err)
		}
		if resp.StatusCode != http.StatusOK {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			_ = resp.Body.Close()
			mapped := mapHTTPError(resp.StatusCode, errBody)
			if resp.StatusCode >= 500 {
				return nil, mapped
			}
			return nil, backoff.Permanent(mapped)
		}
		return resp, nil
	}

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(connectTries),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
}

func mapContextErr(err error) error {
	if err == context.DeadlineExceeded {
		return fmt.Errorf("%w: %w", provider.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", provider.ErrCancelled, err)
}
