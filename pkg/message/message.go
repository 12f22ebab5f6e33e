package message

import (
	"errors"
	"fmt"
	"strings"
)

// User creates a conversational user message with plain text content.
func User(text string) Message {
	return Message{Kind: KindText, Role: RoleUser, Content: text}
}

// UserParts creates a conversational user message with multimodal parts.
func UserParts(parts ...Part) Message {
	return Message{Kind: KindText, Role: RoleUser, Parts: parts}
}

// Assistant creates a conversational assistant message.
func Assistant(text string) Message {
	return Message{Kind: KindText, Role: RoleAssistant, Content: text}
}

// System creates a system-instruction message.
func System(text string) Message {
	return Message{Kind: KindText, Role: RoleSystem, Content: text}
}

// Thinking creates an assistant reasoning message. The signature is the
// provider-issued integrity token, if any.
func Thinking(content, signature string) Message {
	return Message{Kind: KindThinking, Role: RoleAssistant, Content: content, Signature: signature}
}

// NewToolCall creates a tool invocation message. Arguments must be JSON text.
func NewToolCall(callID, name, arguments string) Message {
	return Message{Kind: KindToolCall, Role: RoleAssistant, CallID: callID, Name: name, Arguments: arguments}
}

// NewToolOutput creates the result message for a previous tool call.
// Set failed=true to mark the output as an error (status=incomplete).
func NewToolOutput(callID, output string, failed bool) Message {
	m := Message{Kind: KindToolOutput, Role: RoleUser, CallID: callID, Content: output}
	if failed {
		m.Status = StatusIncomplete
	}
	return m
}

// TextPart creates a text content part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ImagePart creates an image reference part.
func ImagePart(url string, detail ImageDetail) Part {
	if detail == "" {
		detail = DetailAuto
	}
	return Part{Type: PartImage, URL: url, Detail: detail}
}

// ImageDataPart creates an inline base64 image part.
func ImageDataPart(mimeType, data string, detail ImageDetail) Part {
	if detail == "" {
		detail = DetailAuto
	}
	return Part{Type: PartImage, MimeType: mimeType, Data: data, Detail: detail}
}

// FilePart creates a file reference part.
func FilePart(fileID, fileName string) Part {
	return Part{Type: PartFile, FileID: fileID, FileName: fileName}
}

// Text returns the message content flattened to a single string. Multimodal
// parts contribute their text; images and files contribute a short marker so
// token estimation and plain-text rendering never silently lose them.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for i, p := range m.Parts {
		if i > 0 {
			b.WriteString("\n")
		}
		switch p.Type {
		case PartText:
			b.WriteString(p.Text)
		case PartImage:
			b.WriteString("[image]")
		case PartFile:
			b.WriteString("[file: " + p.FileName + "]")
		}
	}
	return b.String()
}

// IsToolError reports whether the message is a failed tool output.
func (m Message) IsToolError() bool {
	return m.Kind == KindToolOutput && m.Status == StatusIncomplete
}

// ErrOrphanToolOutput indicates a tool output with no matching prior tool call.
var ErrOrphanToolOutput = errors.New("message: tool output without matching tool call")

// ValidateToolPairs checks that every tool output in the conversation has a
// matching prior tool call with the same call id.
func ValidateToolPairs(msgs []Message) error {
	seen := make(map[string]bool)
	for i, m := range msgs {
		switch m.Kind {
		case KindToolCall:
			seen[m.CallID] = true
		case KindToolOutput:
			if !seen[m.CallID] {
				return fmt.Errorf("%w: call_id %q at index %d", ErrOrphanToolOutput, m.CallID, i)
			}
		}
	}
	return nil
}
