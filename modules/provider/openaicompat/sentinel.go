package openaicompat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/magi-ai/magi/pkg/message"
)

// The textual tool protocol for models without native tool support: the
// request describes the tools in a system message, and the model signals
// calls by ending its reply with a single line
//
//	TOOL_CALLS: [{"name":"...","arguments":{...}}]
//
// The marker line is parsed back into tool_start events and stripped from
// the visible message.
const sentinelMarker = "TOOL_CALLS:"

// sentinelSystemPrompt renders the tool descriptions and the protocol
// instructions.
func sentinelSystemPrompt(tools []message.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You can invoke the following tools. ")
	b.WriteString("To call one or more tools, end your reply with a single line of the form:\n")
	b.WriteString(sentinelMarker + ` [{"name":"<tool>","arguments":{...}}]` + "\n")
	b.WriteString("Do not wrap the line in code fences. If no tool is needed, omit the line entirely.\n\nTools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", t.Name, t.Description, t.ParametersJSON())
	}
	return b.String()
}

// sentinelCall is one entry of the marker line's JSON array.
type sentinelCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseSentinelCalls extracts tool calls from the marker line, returning
// the content with the line removed. Content without a parseable marker is
// returned unchanged.
func parseSentinelCalls(content string) (string, []message.ToolCall) {
	idx := strings.LastIndex(content, sentinelMarker)
	if idx == -1 {
		return content, nil
	}
	// The marker must start a line.
	if idx > 0 && content[idx-1] != '\n' {
		return content, nil
	}

	payload := strings.TrimSpace(content[idx+len(sentinelMarker):])
	var parsed []sentinelCall
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil || len(parsed) == 0 {
		return content, nil
	}

	calls := make([]message.ToolCall, 0, len(parsed))
	for i, c := range parsed {
		if c.Name == "" {
			continue
		}
		args := string(c.Arguments)
		if args == "" || args == "null" {
			args = "{}"
		}
		calls = append(calls, message.ToolCall{
			ID:        fmt.Sprintf("sentinel_%d", i+1),
			Name:      c.Name,
			Arguments: args,
		})
	}
	if len(calls) == 0 {
		return content, nil
	}
	return strings.TrimRight(content[:idx], "\n"), calls
}
