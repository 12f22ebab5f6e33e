package anthropic

import (
	"testing"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/message"
)

func newTestAdapter() *Adapter {
	return New(provider.Options{APIKey: "sk-ant-test"})
}

func TestConvertRequest_SystemExtraction(t *testing.T) {
	a := newTestAdapter()
	params := a.convertRequest(provider.Request{
		Model: "claude-sonnet-4-5",
		Messages: []message.Message{
			message.System("first instruction"),
			message.User("hi"),
			message.System("second instruction"),
		},
	})

	if len(params.System) != 1 {
		t.Fatalf("system blocks = %d, want 1", len(params.System))
	}
	want := "first instruction\n\nsecond instruction"
	if params.System[0].Text != want {
		t.Errorf("system = %q, want %q", params.System[0].Text, want)
	}
	for _, m := range params.Messages {
		if m.Role != sdkanthropic.MessageParamRoleUser && m.Role != sdkanthropic.MessageParamRoleAssistant {
			t.Errorf("unexpected inline role %q", m.Role)
		}
	}
}

func TestConvertMessages_ToolResultsGroupedIntoUser(t *testing.T) {
	msgs := convertMessages([]message.Message{
		message.User("run two tools"),
		message.NewToolCall("c1", "alpha", `{"a":1}`),
		message.NewToolCall("c2", "beta", `{"b":2}`),
		message.NewToolOutput("c1", "ok", false),
		message.NewToolOutput("c2", "boom", true),
	})

	// user, assistant (both calls), user (both results), sentinel not needed
	// because the list already ends on a user turn.
	if len(msgs) != 3 {
		t.Fatalf("turns = %d, want 3", len(msgs))
	}
	if msgs[1].Role != sdkanthropic.MessageParamRoleAssistant {
		t.Errorf("turn 1 role = %q", msgs[1].Role)
	}
	if len(msgs[1].Content) != 2 {
		t.Errorf("assistant turn should carry both tool calls, got %d blocks", len(msgs[1].Content))
	}
	if msgs[2].Role != sdkanthropic.MessageParamRoleUser {
		t.Errorf("tool results must ride a user turn, got %q", msgs[2].Role)
	}
	if len(msgs[2].Content) != 2 {
		t.Errorf("user turn should carry both tool results, got %d blocks", len(msgs[2].Content))
	}
}

func TestConvertMessages_MergesAssistantToolCallAndText(t *testing.T) {
	msgs := convertMessages([]message.Message{
		message.User("go"),
		message.NewToolCall("c1", "lookup", `{}`),
		message.Assistant("looking that up now"),
	})

	// user, merged assistant, sentinel user.
	if len(msgs) != 3 {
		t.Fatalf("turns = %d, want 3", len(msgs))
	}
	if msgs[1].Role != sdkanthropic.MessageParamRoleAssistant {
		t.Fatalf("turn 1 role = %q", msgs[1].Role)
	}
	if len(msgs[1].Content) != 2 {
		t.Errorf("merged assistant turn should have tool_use + text, got %d blocks", len(msgs[1].Content))
	}
}

func TestConvertMessages_SentinelWhenEndingOnAssistant(t *testing.T) {
	msgs := convertMessages([]message.Message{
		message.User("hi"),
		message.Assistant("hello"),
	})
	last := msgs[len(msgs)-1]
	if last.Role != sdkanthropic.MessageParamRoleUser {
		t.Fatal("history ending on assistant needs a trailing user message")
	}
}

func TestConvertMessages_DropsUnsignedThinking(t *testing.T) {
	msgs := convertMessages([]message.Message{
		message.User("hi"),
		message.Thinking("private notes", ""),
		message.Assistant("answer"),
	})
	// The unsigned thinking block contributes nothing; the assistant turn
	// has exactly one text block.
	for _, m := range msgs {
		if m.Role == sdkanthropic.MessageParamRoleAssistant && len(m.Content) != 1 {
			t.Errorf("assistant turn blocks = %d, want 1", len(m.Content))
		}
	}
}

func TestConvertTools_SchemaShape(t *testing.T) {
	def := message.ToolDefinition{
		Name:        "lookup",
		Description: "look things up",
		Parameters: message.ObjectSchema(map[string]*message.Schema{
			"query": message.StringSchema("the query"),
		}, "query"),
	}
	tools := convertTools([]message.ToolDefinition{def})
	if len(tools) != 1 {
		t.Fatalf("tools = %d", len(tools))
	}
	tool := tools[0].OfTool
	if tool == nil || tool.Name != "lookup" {
		t.Fatalf("tool = %+v", tool)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "query" {
		t.Errorf("required = %v", tool.InputSchema.Required)
	}
	props, ok := tool.InputSchema.Properties.(map[string]any)
	if !ok {
		t.Fatalf("properties type %T", tool.InputSchema.Properties)
	}
	if _, ok := props["query"]; !ok {
		t.Error("missing query property")
	}
}

func TestMaxTokensFor(t *testing.T) {
	a := newTestAdapter()
	if got := a.maxTokensFor("anything", 1234); got != 1234 {
		t.Errorf("override ignored: %d", got)
	}
	if got := a.maxTokensFor("unknown-model", 0); got != defaultMaxTokens {
		t.Errorf("default = %d", got)
	}
}
