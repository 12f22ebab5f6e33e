package openai

import (
	"encoding/json"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/message"
)

// responsesRequest is the wire shape of a Responses API call.
type responsesRequest struct {
	Model           string          `json:"model"`
	Input           []inputItem     `json:"input"`
	Stream          bool            `json:"stream"`
	Tools           []toolParam     `json:"tools,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	Text            *textFormatOpts `json:"text,omitempty"`
	Reasoning       *reasoningOpts  `json:"reasoning,omitempty"`
}

type textFormatOpts struct {
	Format formatSpec `json:"format"`
}

type formatSpec struct {
	Type string `json:"type"`
}

type reasoningOpts struct {
	Effort string `json:"effort,omitempty"`
}

// inputItem is one element of the Responses API input list: a message, a
// function call, or a function call output.
type inputItem struct {
	Type string `json:"type"`

	// type == "message"
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`

	// type == "function_call" / "function_call_output"
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type toolParam struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// buildRequest converts a canonical request to the Responses API shape.
func (a *Adapter) buildRequest(req provider.Request) responsesRequest {
	wire := responsesRequest{
		Model:       req.Model,
		Input:       toInput(req.Messages),
		Stream:      true,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxTokens > 0 {
		wire.MaxOutputTokens = req.MaxTokens
	} else if a.registry != nil {
		if e, ok := a.registry.Find(req.Model); ok && e.Features.MaxOutputTokens > 0 {
			wire.MaxOutputTokens = e.Features.MaxOutputTokens
		}
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, toolParam{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.ParametersJSON(),
		})
	}
	if req.JSONOutput {
		wire.Text = &textFormatOpts{Format: formatSpec{Type: "json_object"}}
	}
	if req.ThinkingBudget > 0 {
		wire.Reasoning = &reasoningOpts{Effort: "high"}
	}
	return wire
}

// toInput converts canonical messages into Responses API input items.
// Thinking messages are dropped; function calls and outputs keep their
// canonical order.
func toInput(msgs []message.Message) []inputItem {
	items := make([]inputItem, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case message.KindToolCall:
			args := m.Arguments
			if args == "" {
				args = "{}"
			}
			items = append(items, inputItem{
				Type:      "function_call",
				CallID:    m.CallID,
				Name:      m.Name,
				Arguments: args,
			})
		case message.KindToolOutput:
			items = append(items, inputItem{
				Type:   "function_call_output",
				CallID: m.CallID,
				Output: m.Text(),
			})
		case message.KindText:
			items = append(items, inputItem{
				Type:    "message",
				Role:    toRole(m.Role),
				Content: toContent(m),
			})
		case message.KindThinking:
			// No wire representation; dropped.
		}
	}
	return items
}

func toRole(r message.Role) string {
	switch r {
	case message.RoleAssistant:
		return "assistant"
	case message.RoleSystem:
		return "system"
	case message.RoleDeveloper:
		return "developer"
	default:
		return "user"
	}
}

func toContent(m message.Message) []contentPart {
	textType := "input_text"
	if m.Role == message.RoleAssistant {
		textType = "output_text"
	}
	if len(m.Parts) == 0 {
		return []contentPart{{Type: textType, Text: m.Content}}
	}
	parts := make([]contentPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case message.PartText:
			parts = append(parts, contentPart{Type: textType, Text: p.Text})
		case message.PartImage:
			url := p.URL
			if url == "" && p.Data != "" {
				url = "data:" + p.MimeType + ";base64," + p.Data
			}
			parts = append(parts, contentPart{
				Type:     "input_image",
				ImageURL: url,
				Detail:   string(p.Detail),
			})
		case message.PartFile:
			parts = append(parts, contentPart{Type: textType, Text: "[file: " + p.FileName + "]"})
		}
	}
	return parts
}
