package testllm

import (
	"context"
	"strings"
	"testing"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

func collect(t *testing.T, p *Provider, req provider.Request) []event.Event {
	t.Helper()
	ch, err := p.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var events []event.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func checkGrammar(t *testing.T, events []event.Event) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	ends := 0
	for i, ev := range events {
		if ev.Type == event.TypeStreamEnd {
			ends++
			if i != len(events)-1 {
				t.Fatalf("stream_end at %d is not last of %d", i, len(events))
			}
		}
	}
	if ends != 1 {
		t.Fatalf("stream_end count = %d, want 1", ends)
	}
}

func TestEcho(t *testing.T) {
	p := New(Config{})
	events := collect(t, p, provider.Request{
		Model:    "test-standard",
		Messages: []message.Message{message.User("Hello")},
	})
	checkGrammar(t, events)

	want := "Echo: Hello (from test-standard)"
	var assembled strings.Builder
	var complete, cost bool
	prevOrder := -1
	for _, ev := range events {
		switch ev.Type {
		case event.TypeMessageDelta:
			if ev.Order <= prevOrder {
				t.Fatalf("delta order %d after %d", ev.Order, prevOrder)
			}
			prevOrder = ev.Order
			assembled.WriteString(ev.Content)
		case event.TypeMessageComplete:
			complete = true
			if ev.Content != want {
				t.Errorf("complete content = %q, want %q", ev.Content, want)
			}
		case event.TypeCostUpdate:
			cost = true
			if ev.Usage.InputTokens < 10 || ev.Usage.OutputTokens < 20 {
				t.Errorf("usage too small: %+v", ev.Usage)
			}
		}
	}
	if assembled.String() != want {
		t.Errorf("assembled deltas = %q, want %q", assembled.String(), want)
	}
	if !complete || !cost {
		t.Errorf("complete=%v cost=%v", complete, cost)
	}
	if events[0].Type != event.TypeMessageStart {
		t.Errorf("first event = %s, want message_start", events[0].Type)
	}
}

func TestForcedToolCall(t *testing.T) {
	p := New(Config{})
	events := collect(t, p, provider.Request{
		Model:    "test-standard",
		Messages: []message.Message{message.User("please use a tool")},
		Tools: []message.ToolDefinition{
			{Name: "lookup", Description: "look something up"},
		},
	})
	checkGrammar(t, events)

	var sawTool, sawComplete bool
	for _, ev := range events {
		switch ev.Type {
		case event.TypeToolStart:
			sawTool = true
			if len(ev.ToolCalls) != 1 {
				t.Fatalf("tool calls = %d, want 1", len(ev.ToolCalls))
			}
			call := ev.ToolCalls[0]
			if call.Name != "lookup" || call.Arguments != "{}" || call.ID == "" {
				t.Errorf("call = %+v", call)
			}
		case event.TypeMessageComplete:
			sawComplete = true
			if !strings.Contains(ev.Content, "lookup") {
				t.Errorf("complete should mention the tool: %q", ev.Content)
			}
		}
	}
	if !sawTool || !sawComplete {
		t.Errorf("tool=%v complete=%v", sawTool, sawComplete)
	}
}

func TestRateLimitSimulation(t *testing.T) {
	p := New(Config{})
	events := collect(t, p, provider.Request{
		Model:    ModelRateLimit,
		Messages: []message.Message{message.User("hi")},
	})
	checkGrammar(t, events)

	if events[0].Type != event.TypeError {
		t.Fatalf("first event = %s, want error", events[0].Type)
	}
	if !strings.Contains(events[0].Err.Error(), "429") {
		t.Errorf("error should be 429-shaped: %v", events[0].Err)
	}
	if events[0].Code != "rate_limited" {
		t.Errorf("code = %q", events[0].Code)
	}
}

func TestMidStreamError(t *testing.T) {
	p := New(Config{})
	events := collect(t, p, provider.Request{
		Model:    ModelError,
		Messages: []message.Message{message.User("hi")},
	})
	checkGrammar(t, events)

	var errIdx, completeIdx = -1, -1
	for i, ev := range events {
		switch ev.Type {
		case event.TypeError:
			errIdx = i
		case event.TypeMessageComplete:
			completeIdx = i
			if ev.Content == "" {
				t.Error("message_complete should carry the partial content")
			}
		}
	}
	if errIdx == -1 || completeIdx == -1 || completeIdx < errIdx {
		t.Errorf("error at %d, complete at %d; complete must follow error", errIdx, completeIdx)
	}
}

func TestFixedContent(t *testing.T) {
	p := New(Config{FixedContent: "canned reply"})
	events := collect(t, p, provider.Request{
		Model:    "test-standard",
		Messages: []message.Message{message.User("anything")},
	})
	for _, ev := range events {
		if ev.Type == event.TypeMessageComplete && ev.Content != "canned reply" {
			t.Errorf("content = %q", ev.Content)
		}
	}
}

func TestRegisteredFactory(t *testing.T) {
	if !provider.Registered("test") {
		t.Fatal("test provider factory not registered")
	}
	p, err := provider.New("test", provider.Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if p.Name() != "test" {
		t.Errorf("name = %q", p.Name())
	}
}
