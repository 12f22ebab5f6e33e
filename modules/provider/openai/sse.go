package openai

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

// scannerBufferSize is the max SSE line size. Data lines carry tool
// arguments and long text deltas; the default 64 KiB scanner limit is too
// small.
const scannerBufferSize = 1 * 1024 * 1024

// maxToolCallArgs caps accumulated argument bytes per function call, against
// a broken upstream streaming unbounded fragments.
const maxToolCallArgs = 1 * 1024 * 1024

// streamEvent is the union of Responses API SSE payloads we act on; the
// Type field discriminates.
type streamEvent struct {
	Type string `json:"type"`

	// response.output_text.delta
	Delta  string `json:"delta,omitempty"`
	ItemID string `json:"item_id,omitempty"`

	// response.output_item.added / .done
	Item *outputItem `json:"item,omitempty"`

	// response.completed / response.failed
	Response *responseBody `json:"response,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type outputItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type responseBody struct {
	Usage *usageBody `json:"usage,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type usageBody struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	InputTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// callBuffer accumulates one function call's streamed arguments.
type callBuffer struct {
	callID string
	name   string
	args   strings.Builder
}

// readStream parses the Responses API SSE body into the event grammar and
// closes ch after the terminal stream_end.
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
	calls := make(map[string]*callBuffer)
	started := false

	defer provider.Emit(ctx, ch, event.StreamEnd())

	finish := func(failure error) {
		if failure != nil {
			provider.Emit(ctx, ch, event.Error(failure, provider.CodeOf(failure)))
		}
		if started {
			provider.Emit(ctx, ch, event.MessageComplete(messageID, text.String()))
		}
		if usage != nil {
			provider.Emit(ctx, ch, event.CostUpdate(*usage))
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerBufferSize), scannerBufferSize)

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

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			finish(fmt.Errorf("%w: decode stream event: %w", provider.ErrProtocol, err))
			return
		}

		switch ev.Type {
		case "response.created":
			started = true
			if !provider.Emit(ctx, ch, event.MessageStart(messageID)) {
				return
			}

		case "response.output_text.delta":
			if ev.Delta == "" {
				continue
			}
			text.WriteString(ev.Delta)
			if !provider.Emit(ctx, ch, event.MessageDelta(messageID, ev.Delta, order)) {
				return
			}
			order++

		case "response.output_item.added":
			if ev.Item != nil && ev.Item.Type == "function_call" {
				calls[ev.Item.ID] = &callBuffer{callID: ev.Item.CallID, name: ev.Item.Name}
			}

		case "response.function_call_arguments.delta":
			buf, ok := calls[ev.ItemID]
			if !ok {
				continue
			}
			if buf.args.Len()+len(ev.Delta) > maxToolCallArgs {
				finish(fmt.Errorf("%w: tool call arguments exceeded %d bytes", provider.ErrProtocol, maxToolCallArgs))
				return
			}
			buf.args.WriteString(ev.Delta)
			provider.Emit(ctx, ch, event.PartialToolStart(message.ToolCall{
				ID:        buf.callID,
				Name:      buf.name,
				Arguments: buf.args.String(),
			}))

		case "response.output_item.done":
			if ev.Item == nil || ev.Item.Type != "function_call" {
				continue
			}
			// The done item carries authoritative arguments; fall back to
			// the accumulated fragments when absent.
			args := ev.Item.Arguments
			if args == "" {
				if buf, ok := calls[ev.Item.ID]; ok {
					args = buf.args.String()
				}
			}
			if args == "" {
				args = "{}"
			}
			call := message.ToolCall{ID: ev.Item.CallID, Name: ev.Item.Name, Arguments: args}
			if call.ID == "" {
				if buf, ok := calls[ev.Item.ID]; ok {
					call.ID = buf.callID
					if call.Name == "" {
						call.Name = buf.name
					}
				}
			}
			delete(calls, ev.Item.ID)
			if !provider.Emit(ctx, ch, event.ToolStart(call)) {
				return
			}

		case "response.completed":
			if ev.Response != nil && ev.Response.Usage != nil {
				usage = &message.Usage{
					Model:        modelID,
					InputTokens:  ev.Response.Usage.InputTokens,
					OutputTokens: ev.Response.Usage.OutputTokens,
					CachedTokens: ev.Response.Usage.InputTokensDetails.CachedTokens,
					Timestamp:    time.Now(),
				}
			}
			finish(nil)
			return

		case "response.failed", "response.incomplete":
			err := fmt.Errorf("%w: response %s", provider.ErrProtocol, ev.Type)
			if ev.Response != nil && ev.Response.Error != nil {
				err = fmt.Errorf("%w: %s: %s", provider.ErrProtocol, ev.Response.Error.Code, ev.Response.Error.Message)
			}
			finish(err)
			return

		case "error":
			finish(fmt.Errorf("%w: %s: %s", provider.ErrProtocol, ev.Code, ev.Message))
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		finish(fmt.Errorf("%w: %w", provider.ErrTransport, err))
		return
	}
	// Stream ended without response.completed.
	finish(fmt.Errorf("%w: stream ended before response.completed", provider.ErrProtocol))
}
