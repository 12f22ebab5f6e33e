package google

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

// scannerBufferSize is the max SSE line size. Inline image data arrives
// base64-encoded inside a single data line, so the limit is generous.
const scannerBufferSize = 8 * 1024 * 1024

// maxFragmentJoins bounds how many continuation lines a truncated data
// payload may absorb before the decode failure surfaces.
const maxFragmentJoins = 3

// streamChunk is one streamGenerateContent SSE payload.
type streamChunk struct {
	Candidates     []candidate     `json:"candidates"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata"`
	PromptFeedback *promptFeedback `json:"promptFeedback"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// readStream parses the SSE body into the event grammar and closes ch after
// the terminal stream_end. Large payloads are occasionally split across data
// lines; a truncated payload is joined with following lines until it decodes
// or maxFragmentJoins is exhausted.
func (a *Adapter) readStream(ctx context.Context, body io.ReadCloser, ch chan<- event.Event, modelID string) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	// Close the body on cancellation to unblock the scanner.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = body.Close()
		case <-done:
		}
	}()

	messageID := uuid.NewString()
	order := 0
	var text strings.Builder
	var usage *message.Usage
	var blockReason string

	defer provider.Emit(ctx, ch, event.StreamEnd())

	if !provider.Emit(ctx, ch, event.MessageStart(messageID)) {
		return
	}

	finish := func(failure error) {
		if failure != nil {
			provider.Emit(ctx, ch, event.Error(failure, provider.CodeOf(failure)))
		}
		provider.Emit(ctx, ch, event.MessageComplete(messageID, text.String()))
		if usage != nil {
			provider.Emit(ctx, ch, event.CostUpdate(*usage))
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerBufferSize), scannerBufferSize)

	var fragment string
	joins := 0

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		if fragment != "" {
			data = fragment + data
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			if joins < maxFragmentJoins {
				fragment = data
				joins++
				continue
			}
			finish(fmt.Errorf("%w: decode stream chunk after %d joins: %w", provider.ErrProtocol, joins, err))
			return
		}
		fragment = ""
		joins = 0

		if chunk.UsageMetadata != nil {
			usage = &message.Usage{
				Model:        modelID,
				InputTokens:  chunk.UsageMetadata.PromptTokenCount,
				OutputTokens: chunk.UsageMetadata.CandidatesTokenCount + chunk.UsageMetadata.ThoughtsTokenCount,
				CachedTokens: chunk.UsageMetadata.CachedContentTokenCount,
				Timestamp:    time.Now(),
			}
		}
		if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
			blockReason = chunk.PromptFeedback.BlockReason
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]

		for _, p := range cand.Content.Parts {
			switch {
			case p.Thought && p.Text != "":
				if !provider.Emit(ctx, ch, event.ThinkingDelta(messageID, p.Text, "")) {
					return
				}
			case p.Text != "":
				text.WriteString(p.Text)
				if !provider.Emit(ctx, ch, event.MessageDelta(messageID, p.Text, order)) {
					return
				}
				order++
			case p.InlineData != nil:
				if !provider.Emit(ctx, ch, event.FileComplete(messageID, p.InlineData.MimeType, p.InlineData.Data, order)) {
					return
				}
				order++
			case p.FunctionCall != nil:
				args := string(p.FunctionCall.Args)
				if args == "" {
					args = "{}"
				}
				call := message.ToolCall{
					ID:        "call_" + uuid.NewString()[:8],
					Name:      p.FunctionCall.Name,
					Arguments: args,
				}
				if !provider.Emit(ctx, ch, event.ToolStart(call)) {
					return
				}
			}
		}

		switch cand.FinishReason {
		case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
			blockReason = cand.FinishReason
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		finish(fmt.Errorf("%w: %w", provider.ErrTransport, err))
		return
	}
	if blockReason != "" {
		finish(fmt.Errorf("%w: %s", provider.ErrContentBlocked, blockReason))
		return
	}
	finish(nil)
}
