// Package claudecode implements the subprocess adapter backed by the Claude
// Code CLI. The CLI runs one non-interactive turn in a working directory and
// prints a JSON result; the adapter emits that result as a single completed
// message with its reported cost.
//
// Thinking policy: the CLI keeps its reasoning internal; no thinking_delta
// events are produced.
package claudecode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/internal/requestlog"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

func init() {
	provider.Register("claude-code", func(opts provider.Options) (provider.Provider, error) {
		return New(opts), nil
	})
}

const defaultBinary = "claude"

// stderrTail bounds how much captured stderr goes into error messages.
const stderrTail = 2048

// ansiEscapes matches CSI and OSC control sequences the CLI may emit around
// its JSON output.
var ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\a\x1b]*(\a|\x1b\\)`)

// Adapter runs the CLI binary once per request.
type Adapter struct {
	binary     string
	workdir    string
	logger     *slog.Logger
	requestLog *requestlog.Logger
}

var _ provider.Provider = (*Adapter)(nil)

// New creates the adapter. No API key is required; the CLI carries its own
// credentials.
func New(opts provider.Options) *Adapter {
	binary := opts.Binary
	if binary == "" {
		binary = defaultBinary
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		binary:     binary,
		workdir:    opts.Workdir,
		logger:     logger,
		requestLog: opts.RequestLog,
	}
}

// Name implements provider.Provider.
func (a *Adapter) Name() string { return "claude-code" }

// cliResult is the JSON document the CLI prints on success.
type cliResult struct {
	Result  string  `json:"result"`
	CostUSD float64 `json:"cost_usd"`
}

// Stream implements provider.Provider. The subprocess produces no
// incremental output worth forwarding, so the stream is a single completed
// message followed by the reported cost.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan event.Event, error) {
	prompt := renderPrompt(req.Messages)
	a.requestLog.Log("claude-code", req.Model, map[string]string{"prompt": prompt})
	a.logger.Debug("claude-code run", "binary", a.binary, "workdir", a.workdir)

	ch := make(chan event.Event, 8)
	go a.run(ctx, ch, req.Model, prompt)
	return ch, nil
}

func (a *Adapter) run(ctx context.Context, ch chan<- event.Event, modelID, prompt string) {
	defer close(ch)
	defer provider.Emit(ctx, ch, event.StreamEnd())

	messageID := uuid.NewString()
	if !provider.Emit(ctx, ch, event.MessageStart(messageID)) {
		return
	}

	fail := func(err error) {
		provider.Emit(ctx, ch, event.Error(err, provider.CodeOf(err)))
		provider.Emit(ctx, ch, event.MessageComplete(messageID, ""))
	}

	cmd := exec.CommandContext(ctx, a.binary,
		"--print", "--json", "--dangerously-skip-permissions", "-p", prompt)
	cmd.Dir = a.workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			fail(mapContextErr(ctx.Err()))
			return
		}
		fail(fmt.Errorf("%w: %s: %w: %s", provider.ErrSubprocess, a.binary, err, tail(stderr.Bytes())))
		return
	}

	out := strings.TrimSpace(ansiEscapes.ReplaceAllString(stdout.String(), ""))
	var result cliResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		fail(fmt.Errorf("%w: parse output: %w", provider.ErrSubprocess, err))
		return
	}

	if !provider.Emit(ctx, ch, event.MessageComplete(messageID, result.Result)) {
		return
	}
	provider.Emit(ctx, ch, event.CostUpdate(message.Usage{
		Model: modelID,
		Metadata: map[string]string{
			"cost_usd": strconv.FormatFloat(result.CostUSD, 'f', -1, 64),
		},
		Timestamp: time.Now(),
	}))
}

func mapContextErr(err error) error {
	if err == context.DeadlineExceeded {
		return fmt.Errorf("%w: %w", provider.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", provider.ErrCancelled, err)
}

// tail returns the last stderrTail bytes of captured stderr, trimmed.
func tail(b []byte) string {
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return strings.TrimSpace(string(b))
}

// renderPrompt flattens the conversation into the single prompt the CLI
// accepts. System instructions lead, then labelled turns; tool traffic is
// skipped since the CLI manages its own tools.
func renderPrompt(msgs []message.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Kind != message.KindText {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case message.RoleSystem, message.RoleDeveloper:
			b.WriteString(text)
		case message.RoleAssistant:
			b.WriteString("Assistant: " + text)
		default:
			b.WriteString("User: " + text)
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
