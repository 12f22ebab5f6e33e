package anthropic

import (
	"context"
	"strings"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

// maxToolBuffers bounds concurrent tool_use blocks tracked per stream, in
// case a misbehaving server never sends the matching stop events.
const maxToolBuffers = 100

// streamState accumulates per-request state across SSE events.
type streamState struct {
	messageID   string
	order       int
	text        strings.Builder
	inputTokens int64
	cacheTokens int64
	toolBuffers map[int64]*toolBuffer
	calls       []message.ToolCall
	stopReason  sdkanthropic.StopReason
	usageKnown  bool
	outTokens   int64
}

// toolBuffer accumulates a tool_use block's streamed argument JSON.
type toolBuffer struct {
	id   string
	name string
	args strings.Builder
}

// consumeStream normalizes the SDK event stream into the event grammar:
// message_start, deltas, final tool_starts, message_complete, cost_update,
// stream_end.
func (a *Adapter) consumeStream(
	ctx context.Context,
	stream *ssestream.Stream[sdkanthropic.MessageStreamEventUnion],
	first sdkanthropic.MessageStreamEventUnion,
	ch chan<- event.Event,
	modelID string,
) {
	state := &streamState{
		messageID:   uuid.NewString(),
		toolBuffers: make(map[int64]*toolBuffer),
	}
	defer provider.Emit(ctx, ch, event.StreamEnd())

	if !provider.Emit(ctx, ch, event.MessageStart(state.messageID)) {
		return
	}

	a.processEvent(ctx, state, first, ch)
	for stream.Next() {
		if ctx.Err() != nil {
			return
		}
		a.processEvent(ctx, state, stream.Current(), ch)
	}

	if err := stream.Err(); err != nil {
		mapped := mapError(err)
		provider.Emit(ctx, ch, event.Error(mapped, provider.CodeOf(mapped)))
	} else if state.stopReason == sdkanthropic.StopReasonRefusal {
		provider.Emit(ctx, ch, event.Error(provider.ErrContentBlocked, provider.CodeOf(provider.ErrContentBlocked)))
	}

	// message_complete always carries whatever text accumulated, even after
	// an error.
	provider.Emit(ctx, ch, event.MessageComplete(state.messageID, state.text.String()))

	if state.usageKnown {
		provider.Emit(ctx, ch, event.CostUpdate(message.Usage{
			Model:        modelID,
			InputTokens:  int(state.inputTokens),
			OutputTokens: int(state.outTokens),
			CachedTokens: int(state.cacheTokens),
			Timestamp:    time.Now(),
		}))
	}
}

func (a *Adapter) processEvent(
	ctx context.Context,
	state *streamState,
	ev sdkanthropic.MessageStreamEventUnion,
	ch chan<- event.Event,
) {
	switch e := ev.AsAny().(type) {
	case sdkanthropic.MessageStartEvent:
		if e.Message.ID != "" {
			state.messageID = e.Message.ID
		}
		state.inputTokens = e.Message.Usage.InputTokens
		state.cacheTokens = e.Message.Usage.CacheReadInputTokens

	case sdkanthropic.ContentBlockStartEvent:
		if e.ContentBlock.Type != "tool_use" {
			return
		}
		if len(state.toolBuffers) >= maxToolBuffers {
			a.logger.Warn("too many concurrent tool blocks, dropping", "index", e.Index)
			return
		}
		state.toolBuffers[e.Index] = &toolBuffer{
			id:   e.ContentBlock.ID,
			name: e.ContentBlock.Name,
		}

	case sdkanthropic.ContentBlockDeltaEvent:
		switch d := e.Delta.AsAny().(type) {
		case sdkanthropic.TextDelta:
			state.text.WriteString(d.Text)
			provider.Emit(ctx, ch, event.MessageDelta(state.messageID, d.Text, state.order))
			state.order++
		case sdkanthropic.ThinkingDelta:
			provider.Emit(ctx, ch, event.ThinkingDelta(state.messageID, d.Thinking, ""))
		case sdkanthropic.SignatureDelta:
			provider.Emit(ctx, ch, event.ThinkingDelta(state.messageID, "", d.Signature))
		case sdkanthropic.InputJSONDelta:
			if buf, ok := state.toolBuffers[e.Index]; ok {
				buf.args.WriteString(d.PartialJSON)
				provider.Emit(ctx, ch, event.PartialToolStart(message.ToolCall{
					ID:        buf.id,
					Name:      buf.name,
					Arguments: buf.args.String(),
				}))
			}
		}

	case sdkanthropic.ContentBlockStopEvent:
		buf, ok := state.toolBuffers[e.Index]
		if !ok {
			return
		}
		args := buf.args.String()
		if args == "" {
			args = "{}"
		}
		call := message.ToolCall{ID: buf.id, Name: buf.name, Arguments: args}
		state.calls = append(state.calls, call)
		provider.Emit(ctx, ch, event.ToolStart(call))
		delete(state.toolBuffers, e.Index)

	case sdkanthropic.MessageDeltaEvent:
		state.stopReason = e.Delta.StopReason
		state.outTokens = e.Usage.OutputTokens
		state.usageKnown = true
	}
}
