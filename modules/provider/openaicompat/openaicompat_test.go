package openaicompat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

func chunkServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n\n"))
		}
	}))
}

func runStream(t *testing.T, srv *httptest.Server, req provider.Request) []event.Event {
	t.Helper()
	a := New("deepseek", provider.Options{APIKey: "sk-test", BaseURL: srv.URL})
	ch, err := a.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var events []event.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStream_ContentAndUsage(t *testing.T) {
	srv := chunkServer(t, []string{
		`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`data: {"id":"c1","choices":[],"usage":{"prompt_tokens":8,"completion_tokens":2,"prompt_tokens_details":{"cached_tokens":3}}}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	events := runStream(t, srv, provider.Request{
		Model:    "deepseek-chat",
		Messages: []message.Message{message.User("hi")},
	})

	var content string
	var usage *message.Usage
	for _, ev := range events {
		switch ev.Type {
		case event.TypeMessageComplete:
			content = ev.Content
		case event.TypeCostUpdate:
			usage = ev.Usage
		}
	}
	if content != "Hello" {
		t.Errorf("content = %q", content)
	}
	if usage == nil {
		t.Fatal("missing cost_update")
	}
	if usage.InputTokens != 8 || usage.OutputTokens != 2 || usage.CachedTokens != 3 {
		t.Errorf("usage = %+v", usage)
	}
	if last := events[len(events)-1]; last.Type != event.TypeStreamEnd {
		t.Errorf("last event = %s", last.Type)
	}
}

func TestStream_ReasoningContent(t *testing.T) {
	srv := chunkServer(t, []string{
		`data: {"id":"c1","choices":[{"index":0,"delta":{"reasoning_content":"let me think"}}]}`,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"42"}}]}`,
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	events := runStream(t, srv, provider.Request{
		Model:    "deepseek-reasoner",
		Messages: []message.Message{message.User("meaning of life?")},
	})

	var thinking string
	for _, ev := range events {
		if ev.Type == event.TypeThinkingDelta {
			thinking += ev.Content
		}
	}
	if thinking != "let me think" {
		t.Errorf("thinking = %q", thinking)
	}
}

func TestStream_ToolCallFragments(t *testing.T) {
	srv := chunkServer(t, []string{
		`data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_7","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	events := runStream(t, srv, provider.Request{
		Model:    "deepseek-chat",
		Messages: []message.Message{message.User("look up go")},
		Tools:    []message.ToolDefinition{{Name: "lookup"}},
	})

	var finals, partials int
	for _, ev := range events {
		if ev.Type != event.TypeToolStart {
			continue
		}
		if ev.Partial {
			partials++
			continue
		}
		finals++
		call := ev.ToolCalls[0]
		if call.ID != "call_7" || call.Name != "lookup" || call.Arguments != `{"q":"go"}` {
			t.Errorf("call = %+v", call)
		}
	}
	if finals != 1 {
		t.Fatalf("final tool_start count = %d, want 1", finals)
	}
	if partials == 0 {
		t.Error("expected progressive tool_start events")
	}
}

func TestStream_NoAPIKey(t *testing.T) {
	a := New("xai", provider.Options{})
	_, err := a.Stream(context.Background(), provider.Request{Model: "grok-4"})
	if err != provider.ErrNoAPIKey {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildMessages_ToolCallRun(t *testing.T) {
	a := New("deepseek", provider.Options{APIKey: "sk-test"})
	msgs := a.buildMessages(provider.Request{
		Messages: []message.Message{
			message.System("be brief"),
			message.User("hi"),
			message.NewToolCall("call_1", "lookup", `{"q":"x"}`),
			message.NewToolCall("call_2", "lookup", ""),
			message.NewToolOutput("call_1", "found it", false),
			message.NewToolOutput("call_2", "nope", true),
			message.Thinking("hidden", ""),
			message.Assistant("done"),
		},
	}, false)

	// system, user, assistant(2 calls), tool, tool, assistant; thinking dropped.
	if len(msgs) != 6 {
		t.Fatalf("messages = %d, want 6", len(msgs))
	}
	assistant := msgs[2].OfAssistant
	if assistant == nil || len(assistant.ToolCalls) != 2 {
		t.Fatalf("expected assistant turn with 2 tool calls, got %+v", msgs[2])
	}
	if got := assistant.ToolCalls[1].Function.Arguments; got != "{}" {
		t.Errorf("empty arguments = %q, want {}", got)
	}
	if msgs[3].OfTool == nil || msgs[4].OfTool == nil {
		t.Error("tool outputs must be tool-role messages")
	}
}

func TestBuildParams_SentinelMovesToolsToPrompt(t *testing.T) {
	a := New("deepseek", provider.Options{APIKey: "sk-test"})
	req := provider.Request{
		Model:    "deepseek-reasoner",
		Messages: []message.Message{message.User("hi")},
		Tools: []message.ToolDefinition{{
			Name:        "lookup",
			Description: "search the index",
			Parameters:  message.ObjectSchema(map[string]*message.Schema{"q": message.StringSchema("query")}, "q"),
		}},
	}

	params := a.buildParams(req, true)
	if len(params.Tools) != 0 {
		t.Fatalf("tools param must be empty under sentinel, got %d", len(params.Tools))
	}
	first := params.Messages[0].OfSystem
	if first == nil {
		t.Fatal("sentinel system message missing")
	}
	prompt := first.Content.OfString.Value
	if !strings.Contains(prompt, sentinelMarker) || !strings.Contains(prompt, "lookup") {
		t.Errorf("sentinel prompt = %q", prompt)
	}

	native := a.buildParams(req, false)
	if len(native.Tools) != 1 {
		t.Fatalf("native tools = %d, want 1", len(native.Tools))
	}
}

func TestParseSentinelCalls(t *testing.T) {
	content := "I will look that up.\nTOOL_CALLS: [{\"name\":\"lookup\",\"arguments\":{\"q\":\"go\"}},{\"name\":\"fetch\"}]"
	stripped, calls := parseSentinelCalls(content)
	if stripped != "I will look that up." {
		t.Errorf("stripped = %q", stripped)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].Name != "lookup" || calls[0].Arguments != `{"q":"go"}` {
		t.Errorf("call 0 = %+v", calls[0])
	}
	if calls[1].Arguments != "{}" {
		t.Errorf("call 1 arguments = %q, want {}", calls[1].Arguments)
	}
	if calls[0].ID == "" || calls[0].ID == calls[1].ID {
		t.Error("calls need distinct ids")
	}
}

func TestParseSentinelCalls_NoMarker(t *testing.T) {
	for _, content := range []string{
		"plain answer",
		"inline TOOL_CALLS: not at line start",
		"TOOL_CALLS: not json",
		"TOOL_CALLS: []",
	} {
		stripped, calls := parseSentinelCalls(content)
		if stripped != content || calls != nil {
			t.Errorf("content %q: stripped=%q calls=%v", content, stripped, calls)
		}
	}
}

func TestStream_SentinelToolCalls(t *testing.T) {
	srv := chunkServer(t, []string{
		`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"On it.\n"}}]}`,
		`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"TOOL_CALLS: [{\"name\":\"lookup\",\"arguments\":{\"q\":\"go\"}}]"}}]}`,
		`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	a := New("deepseek", provider.Options{
		APIKey:   "sk-test",
		BaseURL:  srv.URL,
		Registry: model.Default(),
	})
	ch, err := a.Stream(context.Background(), provider.Request{
		Model:    "deepseek-reasoner",
		Messages: []message.Message{message.User("look up go")},
		Tools:    []message.ToolDefinition{{Name: "lookup"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var events []event.Event
	for ev := range ch {
		events = append(events, ev)
	}

	var content string
	var finals int
	for _, ev := range events {
		switch ev.Type {
		case event.TypeMessageComplete:
			content = ev.Content
		case event.TypeToolStart:
			if !ev.Partial {
				finals++
				if ev.ToolCalls[0].Name != "lookup" {
					t.Errorf("call = %+v", ev.ToolCalls[0])
				}
			}
		}
	}
	if content != "On it." {
		t.Errorf("content = %q", content)
	}
	if finals != 1 {
		t.Fatalf("final tool_start count = %d, want 1", finals)
	}
}
