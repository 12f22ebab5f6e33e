package claudecode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

// fakeCLI writes an executable script standing in for the real binary.
func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func collect(t *testing.T, a *Adapter, req provider.Request) []event.Event {
	t.Helper()
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

func TestStream_SuccessfulRun(t *testing.T) {
	bin := fakeCLI(t, `echo '{"result":"All done.","cost_usd":0.042}'`)
	a := New(provider.Options{Binary: bin})

	events := collect(t, a, provider.Request{
		Model:    "claude-code",
		Messages: []message.Message{message.User("fix the bug")},
	})

	want := []event.Type{
		event.TypeMessageStart,
		event.TypeMessageComplete,
		event.TypeCostUpdate,
		event.TypeStreamEnd,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, ev.Type, want[i])
		}
	}
	if events[1].Content != "All done." {
		t.Errorf("content = %q", events[1].Content)
	}
	if got := events[2].Usage.Metadata["cost_usd"]; got != "0.042" {
		t.Errorf("cost_usd = %q", got)
	}
}

func TestStream_StripsControlSequences(t *testing.T) {
	bin := fakeCLI(t, `printf '\033[32m{"result":"clean","cost_usd":0}\033[0m\n'`)
	a := New(provider.Options{Binary: bin})

	events := collect(t, a, provider.Request{
		Model:    "claude-code",
		Messages: []message.Message{message.User("hi")},
	})

	for _, ev := range events {
		if ev.Type == event.TypeError {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
		if ev.Type == event.TypeMessageComplete && ev.Content != "clean" {
			t.Errorf("content = %q", ev.Content)
		}
	}
}

func TestStream_NonZeroExit(t *testing.T) {
	bin := fakeCLI(t, `echo "something broke" >&2; exit 3`)
	a := New(provider.Options{Binary: bin})

	events := collect(t, a, provider.Request{
		Model:    "claude-code",
		Messages: []message.Message{message.User("hi")},
	})

	var errEv *event.Event
	for i := range events {
		if events[i].Type == event.TypeError {
			errEv = &events[i]
		}
	}
	if errEv == nil {
		t.Fatal("expected an error event")
	}
	if errEv.Code != "subprocess_failure" {
		t.Errorf("code = %q", errEv.Code)
	}
	if got := errEv.Err.Error(); !strings.Contains(got, "something broke") {
		t.Errorf("error message %q should carry the stderr tail", got)
	}
	if last := events[len(events)-1]; last.Type != event.TypeStreamEnd {
		t.Errorf("last event = %s", last.Type)
	}
}

func TestStream_MalformedOutput(t *testing.T) {
	bin := fakeCLI(t, `echo "not json"`)
	a := New(provider.Options{Binary: bin})

	events := collect(t, a, provider.Request{
		Model:    "claude-code",
		Messages: []message.Message{message.User("hi")},
	})

	var code string
	for _, ev := range events {
		if ev.Type == event.TypeError {
			code = ev.Code
		}
	}
	if code != "subprocess_failure" {
		t.Errorf("code = %q", code)
	}
}

func TestRenderPrompt(t *testing.T) {
	prompt := renderPrompt([]message.Message{
		message.System("be brief"),
		message.User("hello"),
		message.NewToolCall("call_1", "lookup", "{}"),
		message.Assistant("hi there"),
	})
	want := "be brief\n\nUser: hello\n\nAssistant: hi there"
	if prompt != want {
		t.Errorf("prompt = %q, want %q", prompt, want)
	}
}
