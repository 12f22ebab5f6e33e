// Package orchestrator runs one request end to end: class selection, routing,
// cancellation and pause plumbing, event forwarding, metering, and history
// append. Every stream a caller sees carries exactly one stream_end.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/magi-ai/magi/internal/cost"
	"github.com/magi-ai/magi/internal/history"
	"github.com/magi-ai/magi/internal/metrics"
	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/internal/quota"
	"github.com/magi-ai/magi/internal/router"
	"github.com/magi-ai/magi/internal/selector"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

// pausedNotice is the terminal delta delivered to streams interrupted by a
// process-wide pause.
const pausedNotice = "[paused]"

// UsageSink receives each metered usage record with its computed cost.
// Implementations must tolerate concurrent calls.
type UsageSink interface {
	Record(ctx context.Context, providerName string, u message.Usage, costUSD float64) error
}

// Config wires the orchestrator's collaborators. Registry and Router are
// required; everything else may be nil and degrades to a no-op.
type Config struct {
	Registry *model.Registry
	Router   *router.Router
	Selector *selector.Selector
	Cost     *cost.Tracker
	Quota    *quota.Manager
	History  *history.Store
	Metrics  *metrics.Metrics
	Ledger   UsageSink
	Logger   *slog.Logger

	// Timeout is the default per-request deadline. Zero means none.
	Timeout time.Duration
}

// Orchestrator dispatches requests. Safe for concurrent use.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	paused  bool
	pauseCh chan struct{} // closed while paused
}

// New builds an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("magi/orchestrator"),
		pauseCh: make(chan struct{}),
	}
}

// Params are the per-request generation knobs.
type Params struct {
	Tools          []message.ToolDefinition
	MaxTokens      int
	Temperature    *float64
	TopP           *float64
	ThinkingBudget int
	JSONOutput     bool

	// Timeout overrides the orchestrator default when positive.
	Timeout time.Duration

	// SkipHistory leaves the history store untouched for this request.
	SkipHistory bool
}

// Stream is one in-flight request.
type Stream struct {
	events <-chan event.Event
	cancel context.CancelCauseFunc
}

// Events returns the event channel, closed after the terminal stream_end.
// Callers must drain it until it closes: sends block once the buffer fills,
// so an abandoned stream pins its forwarding goroutine. To stop early, call
// Cancel and keep draining; the stream then terminates promptly.
func (s *Stream) Events() <-chan event.Event { return s.events }

// Cancel requests cooperative cancellation. The stream still terminates with
// error{cancelled} followed by stream_end.
func (s *Stream) Cancel() { s.cancel(provider.ErrCancelled) }

// Pause sets the process-wide pause flag: every active stream terminates at
// its next suspension point with a paused delta, and new runs are rejected.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.paused {
		o.paused = true
		close(o.pauseCh)
	}
}

// Resume clears the pause flag.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paused {
		o.paused = false
		o.pauseCh = make(chan struct{})
	}
}

// Paused reports the pause flag.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) pauseSignal() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pauseCh
}

// Run dispatches one request. modelOrClass is a model id, alias, or class id.
// Pre-flight failures (unknown model, missing configuration, paused) return
// an error directly; everything after stream start arrives as events.
func (o *Orchestrator) Run(ctx context.Context, modelOrClass string, msgs []message.Message, p Params) (*Stream, error) {
	if o.Paused() {
		return nil, fmt.Errorf("%w: orchestrator is paused", provider.ErrPaused)
	}

	modelID := modelOrClass
	if o.cfg.Selector != nil && (modelOrClass == "" || o.cfg.Registry.HasClass(modelOrClass)) {
		id, err := o.cfg.Selector.Select(modelOrClass)
		if err != nil {
			return nil, err
		}
		modelID = id
	}

	route, err := o.cfg.Router.Resolve(modelID)
	if err != nil {
		return nil, err
	}

	timeout := o.cfg.Timeout
	if p.Timeout > 0 {
		timeout = p.Timeout
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	stopTimer := func() {}
	if timeout > 0 {
		runCtx, stopTimer = context.WithTimeoutCause(runCtx, timeout, provider.ErrTimeout)
	}

	ctx, span := o.tracer.Start(runCtx, "llm.run", trace.WithAttributes(
		attribute.String("llm.provider", route.ProviderName),
		attribute.String("llm.model", route.Model),
	))

	o.cfg.Metrics.RecordRequest(route.ProviderName, route.Model)
	o.logger.Debug("dispatching request",
		"provider", route.ProviderName, "model", route.Model, "messages", len(msgs))

	src, err := route.Provider.Stream(ctx, provider.Request{
		Model:          route.Model,
		Messages:       msgs,
		Tools:          p.Tools,
		MaxTokens:      p.MaxTokens,
		Temperature:    p.Temperature,
		TopP:           p.TopP,
		ThinkingBudget: p.ThinkingBudget,
		JSONOutput:     p.JSONOutput,
	})
	if err != nil {
		span.RecordError(err)
		span.End()
		stopTimer()
		cancel(err)
		o.cfg.Metrics.RecordError(route.ProviderName, provider.CodeOf(err))
		return nil, err
	}

	out := make(chan event.Event, 16)
	go o.forward(ctx, span, cancel, stopTimer, route, src, out, p)

	return &Stream{events: out, cancel: cancel}, nil
}

// forward relays adapter events to the caller, metering usage and enforcing
// the single terminal stream_end. Adapter stream_ends are swallowed; the
// orchestrator emits its own after the source closes.
func (o *Orchestrator) forward(
	ctx context.Context,
	span trace.Span,
	cancel context.CancelCauseFunc,
	stopTimer context.CancelFunc,
	route router.Route,
	src <-chan event.Event,
	out chan<- event.Event,
	p Params,
) {
	defer close(out)
	defer span.End()
	defer stopTimer()

	var (
		finalText string
		toolCalls []message.ToolCall
		sawError  bool
		paused    bool
		lastMsgID string
		order     int
	)

	defer func() { out <- event.StreamEnd() }()

	pause := o.pauseSignal()

loop:
	for {
		select {
		case <-pause:
			paused = true
			cancel(provider.ErrPaused)
			// No paused delta before the adapter's message_start: a delta
			// without a preceding start would break the grammar.
			if lastMsgID != "" {
				out <- event.MessageDelta(lastMsgID, pausedNotice, order)
			}
			break loop

		case ev, ok := <-src:
			if !ok {
				break loop
			}
			switch ev.Type {
			case event.TypeStreamEnd:
				// Swallowed; the deferred send is the only terminal.
				continue
			case event.TypeMessageStart:
				lastMsgID = ev.MessageID
			case event.TypeMessageDelta:
				order = ev.Order + 1
			case event.TypeMessageComplete:
				finalText = ev.Content
			case event.TypeToolStart:
				if !ev.Partial {
					toolCalls = append(toolCalls, ev.ToolCalls...)
				}
			case event.TypeError:
				sawError = true
				span.RecordError(ev.Err)
				o.cfg.Metrics.RecordError(route.ProviderName, ev.Code)
			case event.TypeCostUpdate:
				if ev.Usage != nil {
					o.meter(ctx, route, *ev.Usage)
				}
			}
			out <- ev
		}
	}

	// An adapter interrupted by cancellation may close its channel without
	// an error event; surface the cause so callers always see why.
	if cause := context.Cause(ctx); cause != nil && !sawError && !paused {
		if errors.Is(cause, provider.ErrCancelled) || errors.Is(cause, provider.ErrTimeout) {
			span.RecordError(cause)
			o.cfg.Metrics.RecordError(route.ProviderName, provider.CodeOf(cause))
			out <- event.Error(cause, provider.CodeOf(cause))
		}
	}

	if o.cfg.History != nil && !p.SkipHistory && !paused {
		o.appendHistory(finalText, toolCalls)
	}
}

// meter feeds one usage record into the cost tracker, quota manager, and
// ledger.
func (o *Orchestrator) meter(ctx context.Context, route router.Route, u message.Usage) {
	var recorded float64
	if o.cfg.Cost != nil {
		if entry, ok := o.cfg.Registry.Find(u.Model); ok {
			recorded = cost.Of(entry, u)
		}
		if _, err := o.cfg.Cost.Record(u); err != nil {
			o.logger.Warn("cost record failed", "model", u.Model, "error", err)
		}
	}
	if o.cfg.Quota != nil {
		if ok := o.cfg.Quota.Track(route.ProviderName, u.Model, u.InputTokens, u.OutputTokens); !ok {
			o.logger.Warn("quota limit hit", "provider", route.ProviderName, "model", u.Model)
		}
	}
	if o.cfg.Ledger != nil {
		if err := o.cfg.Ledger.Record(ctx, route.ProviderName, u, recorded); err != nil {
			o.logger.Warn("ledger record failed", "model", u.Model, "error", err)
		}
	}
}

// appendHistory records the assistant's surfaced output. Tool calls precede
// the final text so later adapters can regroup them.
func (o *Orchestrator) appendHistory(finalText string, toolCalls []message.ToolCall) {
	ctx := context.Background()
	for _, c := range toolCalls {
		o.cfg.History.Append(ctx, message.NewToolCall(c.ID, c.Name, c.Arguments))
	}
	if finalText != "" {
		o.cfg.History.Append(ctx, message.Assistant(finalText))
	}
}
