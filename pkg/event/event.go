// Package event defines the closed event union every provider adapter emits.
// Adapters translate their backend's native stream framing into exactly these
// events; consumers never see provider-specific shapes.
//
// Ordering contract per request:
//   - exactly one TypeStreamEnd, always last, even after errors
//   - per message id: message_start < deltas < message_complete, with
//     strictly increasing Order values on deltas
//   - cost_update (if any) appears after all content events
//   - an error event is not necessarily terminal; adapters still emit
//     message_complete with accumulated partial content before stream_end
package event

import "github.com/magi-ai/magi/pkg/message"

// Type discriminates the event union.
type Type string

// Event types emitted by provider adapters.
const (
	TypeMessageStart    Type = "message_start"
	TypeMessageDelta    Type = "message_delta"
	TypeMessageComplete Type = "message_complete"
	TypeThinkingDelta   Type = "thinking_delta"
	TypeToolStart       Type = "tool_start"
	TypeFileComplete    Type = "file_complete"
	TypeCostUpdate      Type = "cost_update"
	TypeError           Type = "error"
	TypeStreamEnd       Type = "stream_end"
)

// Event is one element of a request's stream. The Type field selects which
// of the optional fields are meaningful.
type Event struct {
	Type Type `json:"type"`

	// Message content events.
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Order     int    `json:"order,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Tool events. Partial marks a progressive tool_start whose arguments
	// are still being assembled; the final tool_start is never partial and
	// always replaces earlier partials.
	ToolCalls []message.ToolCall `json:"tool_calls,omitempty"`
	Partial   bool               `json:"partial,omitempty"`

	// Non-text modality output.
	MimeType   string `json:"mime_type,omitempty"`
	DataFormat string `json:"data_format,omitempty"`
	Data       string `json:"data,omitempty"`

	// Metering.
	Usage *message.Usage `json:"usage,omitempty"`

	// Errors travel in-process; Code is the stable machine-readable kind.
	Err  error  `json:"-"`
	Code string `json:"code,omitempty"`
}

// MessageStart begins a new assistant message.
func MessageStart(messageID string) Event {
	return Event{Type: TypeMessageStart, MessageID: messageID}
}

// MessageDelta is an incremental text fragment. Order must strictly increase
// within a message id.
func MessageDelta(messageID, content string, order int) Event {
	return Event{Type: TypeMessageDelta, MessageID: messageID, Content: content, Order: order}
}

// MessageComplete terminates a message with its full accumulated text.
func MessageComplete(messageID, content string) Event {
	return Event{Type: TypeMessageComplete, MessageID: messageID, Content: content}
}

// ThinkingDelta is an incremental reasoning fragment.
func ThinkingDelta(messageID, content, signature string) Event {
	return Event{Type: TypeThinkingDelta, MessageID: messageID, Content: content, Signature: signature}
}

// ToolStart announces assembled tool calls with final JSON arguments.
func ToolStart(calls ...message.ToolCall) Event {
	return Event{Type: TypeToolStart, ToolCalls: calls}
}

// PartialToolStart announces tool calls whose arguments are still streaming.
func PartialToolStart(calls ...message.ToolCall) Event {
	return Event{Type: TypeToolStart, ToolCalls: calls, Partial: true}
}

// FileComplete carries a complete non-text output (always base64-encoded).
func FileComplete(messageID, mimeType, data string, order int) Event {
	return Event{
		Type:       TypeFileComplete,
		MessageID:  messageID,
		MimeType:   mimeType,
		DataFormat: "base64",
		Data:       data,
		Order:      order,
	}
}

// CostUpdate carries the accumulated usage for this request.
func CostUpdate(usage message.Usage) Event {
	return Event{Type: TypeCostUpdate, Usage: &usage}
}

// Error carries a recoverable or terminal error with a stable code.
func Error(err error, code string) Event {
	return Event{Type: TypeError, Err: err, Code: code}
}

// StreamEnd is the final event of every request stream.
func StreamEnd() Event {
	return Event{Type: TypeStreamEnd}
}
