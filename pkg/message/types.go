// Package message defines the canonical conversation schema shared by every
// provider adapter: messages, content parts, tool definitions, and usage
// records. Adapters convert these types to and from their wire formats;
// nothing in this package knows about any particular backend.
package message

import "time"

// Role identifies the sender of a conversational message.
type Role string

// Role constants for conversation messages.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
)

// Kind discriminates the message variants.
type Kind string

// Kind constants for the message union.
const (
	KindText       Kind = "text"
	KindThinking   Kind = "thinking"
	KindToolCall   Kind = "tool_call"
	KindToolOutput Kind = "tool_output"
)

// Status describes the completion state of a message.
type Status string

// Status constants.
const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// PartType identifies a content part variant.
type PartType string

// PartType constants for multimodal content.
const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartFile  PartType = "file"
)

// ImageDetail controls the resolution level requested for image inputs.
type ImageDetail string

// ImageDetail constants.
const (
	DetailAuto ImageDetail = "auto"
	DetailLow  ImageDetail = "low"
	DetailHigh ImageDetail = "high"
)

// Part is one element of a multimodal content list.
type Part struct {
	Type PartType `json:"type"`

	// Text content (PartText).
	Text string `json:"text,omitempty"`

	// Image reference (PartImage): either a URL or inline base64 data.
	URL      string      `json:"url,omitempty"`
	Detail   ImageDetail `json:"detail,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
	Data     string      `json:"data,omitempty"`

	// File reference (PartFile).
	FileID   string `json:"file_id,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// Message is one entry in a conversation. The Kind field selects which of
// the variant fields are meaningful; unused fields are zero.
type Message struct {
	Kind Kind `json:"kind"`
	Role Role `json:"role"`

	// Conversational content: either Content or Parts, never both.
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
	Status  Status `json:"status,omitempty"`

	// Thinking (KindThinking): opaque reasoning plus optional signature.
	Signature string `json:"signature,omitempty"`
	ID        string `json:"id,omitempty"`

	// Tool call / tool output (KindToolCall, KindToolOutput).
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCall is an assistant-originated request to invoke a named tool.
// Arguments is always the final JSON text, never a fragment.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage records token and image consumption for one completed (or partially
// completed) request. Created by the adapter, consumed by cost and quota.
type Usage struct {
	Model        string            `json:"model"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	CachedTokens int               `json:"cached_tokens,omitempty"`
	ImageCount   int               `json:"image_count,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}
