package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

func TestStream_ConnectionErrorsSurfaceInStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`))
	}))
	defer srv.Close()

	a := New(provider.Options{APIKey: "sk-ant-test", BaseURL: srv.URL})
	ch, err := a.Stream(context.Background(), provider.Request{
		Model:    "claude-sonnet-4-5",
		Messages: []message.Message{message.User("hi")},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var events []event.Event
	for ev := range ch {
		events = append(events, ev)
	}

	var code string
	for _, ev := range events {
		if ev.Type == event.TypeError {
			code = ev.Code
		}
	}
	if code != "protocol_failure" {
		t.Errorf("error code = %q, want protocol_failure", code)
	}
	if len(events) == 0 || events[len(events)-1].Type != event.TypeStreamEnd {
		t.Fatalf("stream must terminate with stream_end, got %v", events)
	}
}

func TestStream_NoAPIKey(t *testing.T) {
	a := New(provider.Options{})
	if _, err := a.Stream(context.Background(), provider.Request{Model: "claude-sonnet-4-5"}); err != provider.ErrNoAPIKey {
		t.Fatalf("err = %v", err)
	}
}
