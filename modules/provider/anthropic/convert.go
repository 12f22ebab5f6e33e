package anthropic

import (
	"encoding/json"
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/message"
)

// convertRequest builds the Messages API parameters from a canonical
// request. System messages go to the dedicated System field, tool outputs
// become user-role tool_result blocks, and consecutive assistant items
// (text, signed thinking, tool calls) merge into one assistant turn.
func (a *Adapter) convertRequest(req provider.Request) sdkanthropic.MessageNewParams {
	system, rest := extractSystem(req.Messages)

	params := sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(req.Model),
		Messages:  convertMessages(rest),
		MaxTokens: a.maxTokensFor(req.Model, req.MaxTokens),
	}
	if system != "" {
		params.System = []sdkanthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdkanthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdkanthropic.Float(*req.TopP)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	if req.ThinkingBudget > 0 {
		params.Thinking = sdkanthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}
	return params
}

// extractSystem pulls every system/developer message out of the list and
// concatenates them in order with blank-line separators.
func extractSystem(msgs []message.Message) (string, []message.Message) {
	var parts []string
	rest := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind == message.KindText && (m.Role == message.RoleSystem || m.Role == message.RoleDeveloper) {
			parts = append(parts, m.Text())
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}

// convertMessages groups the canonical list into Anthropic turns. The API
// requires all tool results of a turn in a single user message and ends on a
// user turn; a sentinel user message is appended when the history would
// otherwise end on the assistant side.
func convertMessages(msgs []message.Message) []sdkanthropic.MessageParam {
	var result []sdkanthropic.MessageParam

	for i := 0; i < len(msgs); {
		switch msgs[i].Kind {
		case message.KindToolOutput:
			var blocks []sdkanthropic.ContentBlockParamUnion
			for i < len(msgs) && msgs[i].Kind == message.KindToolOutput {
				blocks = append(blocks, sdkanthropic.NewToolResultBlock(
					msgs[i].CallID, msgs[i].Text(), msgs[i].IsToolError()))
				i++
			}
			result = append(result, sdkanthropic.MessageParam{
				Role:    sdkanthropic.MessageParamRoleUser,
				Content: blocks,
			})

		case message.KindToolCall, message.KindThinking:
			result = append(result, convertAssistantRun(msgs, &i))

		case message.KindText:
			if msgs[i].Role == message.RoleAssistant {
				result = append(result, convertAssistantRun(msgs, &i))
				break
			}
			result = append(result, sdkanthropic.NewUserMessage(convertUserContent(msgs[i])...))
			i++

		default:
			i++
		}
	}

	if n := len(result); n == 0 || result[n-1].Role != sdkanthropic.MessageParamRoleUser {
		result = append(result, sdkanthropic.NewUserMessage(
			sdkanthropic.NewTextBlock("Continue.")))
	}
	return result
}

// convertAssistantRun consumes the run of assistant-side messages starting
// at *i (text, signed thinking, tool calls) and merges them into a single
// assistant turn with mixed content blocks.
func convertAssistantRun(msgs []message.Message, i *int) sdkanthropic.MessageParam {
	var blocks []sdkanthropic.ContentBlockParamUnion
	for *i < len(msgs) {
		m := msgs[*i]
		switch {
		case m.Kind == message.KindThinking:
			if m.Signature != "" {
				blocks = append(blocks, sdkanthropic.NewThinkingBlock(m.Signature, m.Content))
			}
		case m.Kind == message.KindToolCall:
			input := any(json.RawMessage(m.Arguments))
			if m.Arguments == "" {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, sdkanthropic.NewToolUseBlock(m.CallID, input, m.Name))
		case m.Kind == message.KindText && m.Role == message.RoleAssistant:
			if text := m.Text(); text != "" {
				blocks = append(blocks, sdkanthropic.NewTextBlock(text))
			}
		default:
			return sdkanthropic.NewAssistantMessage(blocks...)
		}
		*i++
	}
	return sdkanthropic.NewAssistantMessage(blocks...)
}

// convertUserContent flattens a user message's parts into content blocks.
func convertUserContent(m message.Message) []sdkanthropic.ContentBlockParamUnion {
	if len(m.Parts) == 0 {
		return []sdkanthropic.ContentBlockParamUnion{sdkanthropic.NewTextBlock(m.Content)}
	}
	var blocks []sdkanthropic.ContentBlockParamUnion
	for _, p := range m.Parts {
		switch p.Type {
		case message.PartText:
			blocks = append(blocks, sdkanthropic.NewTextBlock(p.Text))
		case message.PartImage:
			if p.Data != "" {
				blocks = append(blocks, sdkanthropic.NewImageBlockBase64(p.MimeType, p.Data))
			} else if p.URL != "" {
				blocks = append(blocks, sdkanthropic.NewImageBlock(sdkanthropic.URLImageSourceParam{URL: p.URL}))
			}
		case message.PartFile:
			// No first-class file reference on this wire; degrade to text.
			blocks = append(blocks, sdkanthropic.NewTextBlock("[file: "+p.FileName+"]"))
		}
	}
	return blocks
}

// convertTools maps tool definitions onto the SDK's tool params.
func convertTools(tools []message.ToolDefinition) []sdkanthropic.ToolUnionParam {
	result := make([]sdkanthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		tool := &sdkanthropic.ToolParam{
			Name:        t.Name,
			InputSchema: convertInputSchema(t.ParametersJSON()),
		}
		if t.Description != "" {
			tool.Description = sdkanthropic.String(t.Description)
		}
		result[i] = sdkanthropic.ToolUnionParam{OfTool: tool}
	}
	return result
}

// convertInputSchema converts a JSON Schema document into the SDK's input
// schema param, preserving fields beyond properties/required via
// ExtraFields.
func convertInputSchema(raw json.RawMessage) sdkanthropic.ToolInputSchemaParam {
	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return sdkanthropic.ToolInputSchemaParam{}
	}

	param := sdkanthropic.ToolInputSchemaParam{}
	if props, ok := full["properties"]; ok {
		param.Properties = props
		delete(full, "properties")
	}
	if req, ok := full["required"]; ok {
		if arr, ok := req.([]any); ok {
			strs := make([]string, 0, len(arr))
			for _, v := range arr {
				if s, ok := v.(string); ok {
					strs = append(strs, s)
				}
			}
			param.Required = strs
		}
		delete(full, "required")
	}
	delete(full, "type")
	if len(full) > 0 {
		param.ExtraFields = full
	}
	return param
}
