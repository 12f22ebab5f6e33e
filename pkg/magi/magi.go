// Package magi is the public entry point: it wires configuration, the model
// catalog, cost and quota tracking, history, and every provider adapter into
// a single client. Construction never fails on missing API keys; providers
// without credentials surface structured errors at request time instead.
package magi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/magi-ai/magi/internal/config"
	"github.com/magi-ai/magi/internal/cost"
	"github.com/magi-ai/magi/internal/history"
	"github.com/magi-ai/magi/internal/metrics"
	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/orchestrator"
	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/internal/quota"
	"github.com/magi-ai/magi/internal/requestlog"
	"github.com/magi-ai/magi/internal/router"
	"github.com/magi-ai/magi/internal/selector"
	ledger "github.com/magi-ai/magi/modules/ledger/sqlite"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"

	// Provider adapters register themselves on import.
	_ "github.com/magi-ai/magi/modules/provider/anthropic"
	_ "github.com/magi-ai/magi/modules/provider/claudecode"
	_ "github.com/magi-ai/magi/modules/provider/google"
	_ "github.com/magi-ai/magi/modules/provider/openai"
	_ "github.com/magi-ai/magi/modules/provider/openaicompat"
	_ "github.com/magi-ai/magi/modules/provider/testllm"
)

// Params re-exports the per-request generation knobs.
type Params = orchestrator.Params

// Stream re-exports the in-flight request handle.
type Stream = orchestrator.Stream

// Options configures a Client. The zero value works: environment variables
// supply credentials, the embedded catalog supplies models.
type Options struct {
	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Registry overrides the embedded model catalog.
	Registry *model.Registry

	// Quota configures per-provider limits. Zero means unlimited.
	Quota quota.Config

	// QuotaSink receives quota snapshots on boundary crossings and limit
	// hits.
	QuotaSink quota.Sink

	// HistorySoftLimit is the token ceiling before history compaction.
	// Zero uses the default.
	HistorySoftLimit int

	// DisableHistory turns off conversation tracking entirely.
	DisableHistory bool

	// Timeout is the default per-request deadline. Zero means none.
	Timeout time.Duration

	// LedgerPath enables the SQLite usage ledger at this path.
	LedgerPath string

	// RequestLogDir overrides MAGI_REQUEST_LOG_DIR.
	RequestLogDir string

	// Binary and Workdir configure the subprocess adapter.
	Binary  string
	Workdir string

	// Metrics registers prometheus collectors when non-nil.
	Metrics prometheus.Registerer
}

// Client is the multi-provider LLM client.
type Client struct {
	logger   *slog.Logger
	env      config.Config
	registry *model.Registry
	orch     *orchestrator.Orchestrator
	history  *history.Store
	cost     *cost.Tracker
	quota    *quota.Manager
	ledger   *ledger.Ledger
}

// New builds a Client from the environment and the given options.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env := config.Load(logger)
	if opts.RequestLogDir != "" {
		env.RequestLogDir = opts.RequestLogDir
	}

	registry := opts.Registry
	if registry == nil {
		registry = model.Default()
	}

	var reqLog *requestlog.Logger
	if env.RequestLogDir != "" {
		rl, err := requestlog.New(env.RequestLogDir, logger)
		if err != nil {
			return nil, fmt.Errorf("magi: request log: %w", err)
		}
		reqLog = rl
	}

	var m *metrics.Metrics
	if opts.Metrics != nil {
		m = metrics.New(opts.Metrics)
	}

	qm := quota.NewManager(opts.Quota, opts.QuotaSink, logger)
	tracker := cost.NewTracker(registry, m)

	providers := make(map[string]provider.Provider)
	for _, name := range provider.Names() {
		p, err := provider.New(name, provider.Options{
			APIKey:     env.Key(name),
			Registry:   registry,
			Logger:     logger,
			RequestLog: reqLog,
			Binary:     opts.Binary,
			Workdir:    opts.Workdir,
		})
		if err != nil {
			return nil, fmt.Errorf("magi: provider %s: %w", name, err)
		}
		providers[name] = p
	}

	rt := router.New(registry, env.Keys, providers, logger)
	sel := selector.New(registry, rt, qm, logger)

	var hist *history.Store
	if !opts.DisableHistory {
		hist = history.NewStore(history.Config{
			SoftLimit: opts.HistorySoftLimit,
			YourName:  env.YourName,
		}, history.NewEstimator(), logger)
	}

	var usageLedger *ledger.Ledger
	if opts.LedgerPath != "" {
		l, err := ledger.Open(opts.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("magi: %w", err)
		}
		usageLedger = l
	}

	var sink orchestrator.UsageSink
	if usageLedger != nil {
		sink = usageLedger
	}

	c := &Client{
		logger:   logger,
		env:      env,
		registry: registry,
		history:  hist,
		cost:     tracker,
		quota:    qm,
		ledger:   usageLedger,
	}
	c.orch = orchestrator.New(orchestrator.Config{
		Registry: registry,
		Router:   rt,
		Selector: sel,
		Cost:     tracker,
		Quota:    qm,
		History:  hist,
		Metrics:  m,
		Ledger:   sink,
		Logger:   logger,
		Timeout:  opts.Timeout,
	})

	// The summarizer reenters the client with the summary class, so it is
	// installed after the orchestrator exists.
	if hist != nil {
		hist.SetSummarizer(&classSummarizer{client: c})
	}

	return c, nil
}

// Run dispatches one request against a concrete model id or alias.
func (c *Client) Run(ctx context.Context, modelID string, msgs []message.Message, p Params) (*Stream, error) {
	return c.orch.Run(ctx, modelID, msgs, p)
}

// RunClass dispatches one request against a capability class, letting the
// selector pick the model.
func (c *Client) RunClass(ctx context.Context, class string, msgs []message.Message, p Params) (*Stream, error) {
	return c.orch.Run(ctx, class, msgs, p)
}

// Pause sets the process-wide pause flag.
func (c *Client) Pause() { c.orch.Pause() }

// Resume clears the pause flag.
func (c *Client) Resume() { c.orch.Resume() }

// Paused reports the pause flag.
func (c *Client) Paused() bool { return c.orch.Paused() }

// History returns the tracked conversation, oldest first. Nil when history
// is disabled.
func (c *Client) History() []message.Message {
	if c.history == nil {
		return nil
	}
	return c.history.Snapshot()
}

// Remember appends a message to the tracked conversation, compacting if
// needed. No-op when history is disabled.
func (c *Client) Remember(ctx context.Context, msg message.Message) {
	if c.history != nil {
		c.history.Append(ctx, msg)
	}
}

// ResetHistory clears the tracked conversation.
func (c *Client) ResetHistory() {
	if c.history != nil {
		c.history.Reset()
	}
}

// Cost returns the accumulated cost snapshot.
func (c *Client) Cost() cost.Snapshot { return c.cost.Snapshot() }

// Quota returns the quota manager for limit queries.
func (c *Client) Quota() *quota.Manager { return c.quota }

// Registry returns the model catalog.
func (c *Client) Registry() *model.Registry { return c.registry }

// Close releases held resources.
func (c *Client) Close() error {
	if c.ledger != nil {
		return c.ledger.Close()
	}
	return nil
}

// classSummarizer condenses history batches through the summary class with
// history tracking disabled for the inner request.
type classSummarizer struct {
	client *Client
}

const summaryInstruction = "Summarize the following conversation excerpt. " +
	"Keep decisions, facts, names, and open tasks; drop pleasantries. " +
	"Reply with the summary only."

func (s *classSummarizer) Summarize(ctx context.Context, msgs []message.Message) (string, error) {
	var b []message.Message
	b = append(b, message.System(summaryInstruction))
	b = append(b, message.User(renderTranscript(msgs)))

	stream, err := s.client.RunClass(ctx, model.ClassSummary, b, Params{
		MaxTokens:   1024,
		SkipHistory: true,
	})
	if err != nil {
		return "", err
	}

	var summary string
	var failure error
	for ev := range stream.Events() {
		switch ev.Type {
		case event.TypeMessageComplete:
			summary = ev.Content
		case event.TypeError:
			failure = ev.Err
		}
	}
	if summary == "" && failure != nil {
		return "", failure
	}
	if summary == "" {
		return "", fmt.Errorf("magi: summarizer produced no content")
	}
	return summary, nil
}

// renderTranscript flattens messages for the summarization prompt.
func renderTranscript(msgs []message.Message) string {
	var b []byte
	for _, m := range msgs {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Kind {
		case message.KindToolCall:
			b = append(b, fmt.Sprintf("[tool call %s: %s]\n", m.Name, m.Arguments)...)
		case message.KindToolOutput:
			b = append(b, fmt.Sprintf("[tool result: %s]\n", text)...)
		case message.KindThinking:
			// Internal monologue never reaches the summary prompt.
		default:
			b = append(b, fmt.Sprintf("%s: %s\n", m.Role, text)...)
		}
	}
	return string(b)
}
