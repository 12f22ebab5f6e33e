package google

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/message"
)

// Gemini wire types. The same part shape appears in requests and in stream
// chunks.
type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Tools             []toolDecls       `json:"tools,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	InlineData       *blob             `json:"inlineData,omitempty"`
	FileData         *fileData         `json:"fileData,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type toolDecls struct {
	FunctionDeclarations []functionDecl `json:"functionDeclarations"`
}

type functionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"topP,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ThinkingConfig   *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
}

// buildRequest converts a canonical request into the Gemini wire shape.
// System and developer messages join into systemInstruction; tool outputs
// become functionResponse parts named after their originating call, since
// the wire carries no call ids; thinking messages are dropped.
func buildRequest(req provider.Request) generateRequest {
	wire := generateRequest{
		Contents: convertMessages(req.Messages),
	}

	if sys := extractSystem(req.Messages); sys != "" {
		wire.SystemInstruction = &content{Parts: []part{{Text: sys}}}
	}

	if len(req.Tools) > 0 {
		decls := make([]functionDecl, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, functionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ParametersJSON(),
			})
		}
		wire.Tools = []toolDecls{{FunctionDeclarations: decls}}
	}

	cfg := &generationConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
	}
	if req.JSONOutput {
		cfg.ResponseMimeType = "application/json"
	}
	if req.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &thinkingConfig{
			ThinkingBudget:  req.ThinkingBudget,
			IncludeThoughts: true,
		}
	}
	wire.GenerationConfig = cfg
	return wire
}

func extractSystem(msgs []message.Message) string {
	var parts []string
	for _, m := range msgs {
		if m.Kind == message.KindText && (m.Role == message.RoleSystem || m.Role == message.RoleDeveloper) {
			parts = append(parts, m.Text())
		}
	}
	return strings.Join(parts, "\n\n")
}

// convertMessages maps canonical messages onto alternating user/model turns,
// merging consecutive same-role contents.
func convertMessages(msgs []message.Message) []content {
	var out []content
	nameByCall := make(map[string]string)

	appendPart := func(role string, p part) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, p)
			return
		}
		out = append(out, content{Role: role, Parts: []part{p}})
	}

	for _, m := range msgs {
		switch m.Kind {
		case message.KindToolCall:
			nameByCall[m.CallID] = m.Name
			args := json.RawMessage(m.Arguments)
			if m.Arguments == "" {
				args = json.RawMessage("{}")
			}
			appendPart("model", part{FunctionCall: &functionCall{Name: m.Name, Args: args}})

		case message.KindToolOutput:
			resp := map[string]any{"output": m.Text()}
			if m.IsToolError() {
				resp = map[string]any{"error": m.Text()}
			}
			appendPart("user", part{FunctionResponse: &functionResponse{
				Name:     nameByCall[m.CallID],
				Response: resp,
			}})

		case message.KindText:
			switch m.Role {
			case message.RoleSystem, message.RoleDeveloper:
				// Joined into systemInstruction.
			case message.RoleAssistant:
				appendPart("model", part{Text: m.Text()})
			default:
				for _, p := range convertUserParts(m) {
					appendPart("user", p)
				}
			}
		}
	}
	return out
}

func convertUserParts(m message.Message) []part {
	if len(m.Parts) == 0 {
		return []part{{Text: m.Content}}
	}
	var parts []part
	for _, p := range m.Parts {
		switch p.Type {
		case message.PartText:
			parts = append(parts, part{Text: p.Text})
		case message.PartImage:
			if p.Data != "" {
				parts = append(parts, part{InlineData: &blob{MimeType: p.MimeType, Data: p.Data}})
			} else if p.URL != "" {
				parts = append(parts, part{FileData: &fileData{MimeType: p.MimeType, FileURI: p.URL}})
			}
		case message.PartFile:
			parts = append(parts, part{Text: "[file: " + p.FileName + "]"})
		}
	}
	return parts
}

// apiError is the error envelope of a non-200 response.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// mapHTTPError converts a non-200 connection-phase response into the
// provider error taxonomy.
func mapHTTPError(status int, body []byte) error {
	msg := http.StatusText(status)
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %d %s", provider.ErrRateLimited, status, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: google auth rejected (HTTP %d)", provider.ErrNoAPIKey, status)
	case http.StatusBadRequest, http.StatusNotFound:
		return fmt.Errorf("%w: %d %s", provider.ErrProtocol, status, msg)
	default:
		return fmt.Errorf("%w: %d %s", provider.ErrTransport, status, msg)
	}
}
