package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/message"
)

func jsonUnmarshal(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}

// buildParams converts a canonical request into Chat Completions params.
// When sentinel is set, tool definitions are described in an injected
// system message instead of the tools parameter.
func (a *Adapter) buildParams(req provider.Request, sentinel bool) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: a.buildMessages(req, sentinel),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(req.Tools) > 0 && !sentinel {
		params.Tools = buildTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.JSONOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// buildMessages converts canonical messages to wire messages. Tool outputs
// become tool-role messages; assistant tool calls attach to the preceding
// assistant turn; thinking is dropped.
func (a *Adapter) buildMessages(req provider.Request, sentinel bool) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion

	if sentinel {
		out = append(out, openai.SystemMessage(sentinelSystemPrompt(req.Tools)))
	}

	for i := 0; i < len(req.Messages); {
		m := req.Messages[i]
		switch m.Kind {
		case message.KindToolCall:
			// Collect the run of tool calls plus an optional adjacent
			// assistant text into one assistant turn.
			var calls []openai.ChatCompletionMessageToolCallParam
			var textContent string
			for i < len(req.Messages) {
				cur := req.Messages[i]
				if cur.Kind == message.KindToolCall {
					args := cur.Arguments
					if args == "" {
						args = "{}"
					}
					calls = append(calls, openai.ChatCompletionMessageToolCallParam{
						ID:   cur.CallID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      cur.Name,
							Arguments: args,
						},
					})
					i++
					continue
				}
				if cur.Kind == message.KindText && cur.Role == message.RoleAssistant {
					textContent = cur.Text()
					i++
				}
				break
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: calls,
			}
			if textContent != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(textContent),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		case message.KindToolOutput:
			out = append(out, openai.ToolMessage(m.Text(), m.CallID))
			i++

		case message.KindText:
			out = append(out, convertTextMessage(m))
			i++

		default: // thinking
			i++
		}
	}
	return out
}

func convertTextMessage(m message.Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case message.RoleSystem, message.RoleDeveloper:
		return openai.SystemMessage(m.Text())
	case message.RoleAssistant:
		return openai.AssistantMessage(m.Text())
	}

	if len(m.Parts) == 0 {
		return openai.UserMessage(m.Content)
	}
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, p := range m.Parts {
		switch p.Type {
		case message.PartText:
			parts = append(parts, openai.TextContentPart(p.Text))
		case message.PartImage:
			url := p.URL
			if url == "" && p.Data != "" {
				url = fmt.Sprintf("data:%s;base64,%s", p.MimeType, p.Data)
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    url,
				Detail: string(p.Detail),
			}))
		case message.PartFile:
			parts = append(parts, openai.TextContentPart("[file: "+p.FileName+"]"))
		}
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}

func buildTools(tools []message.ToolDefinition) []openai.ChatCompletionToolParam {
	result := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		var params shared.FunctionParameters
		_ = json.Unmarshal(t.ParametersJSON(), &params)
		result = append(result, openai.ChatCompletionToolParam{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		})
	}
	return result
}

// mapError converts an openai-go SDK error into the provider taxonomy.
func mapError(name string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", provider.ErrCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", provider.ErrTimeout, err)
	}
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: %w", provider.ErrTransport, name, err)
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %s", provider.ErrRateLimited, name, apiErr.Error())
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s auth rejected (HTTP %d)", provider.ErrNoAPIKey, name, apiErr.StatusCode)
	case http.StatusBadRequest, http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", provider.ErrProtocol, name, apiErr.Error())
	default:
		return fmt.Errorf("%w: %s (HTTP %d)", provider.ErrTransport, name, apiErr.StatusCode)
	}
}
