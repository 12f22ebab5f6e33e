package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/magi-ai/magi/internal/cost"
	"github.com/magi-ai/magi/internal/history"
	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/internal/quota"
	"github.com/magi-ai/magi/internal/router"
	"github.com/magi-ai/magi/internal/selector"
	"github.com/magi-ai/magi/modules/provider/testllm"
	"github.com/magi-ai/magi/pkg/event"
	"github.com/magi-ai/magi/pkg/message"
)

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	reg := model.Default()
	providers := map[string]provider.Provider{
		"test": testllm.New(testllm.Config{}),
	}
	cfg.Registry = reg
	cfg.Router = router.New(reg, map[string]string{}, providers, nil)
	return New(cfg)
}

func drain(t *testing.T, s *Stream) []event.Event {
	t.Helper()
	var events []event.Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}

func TestRun_ForwardsAndEndsExactlyOnce(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	s, err := o.Run(context.Background(), "test-standard",
		[]message.Message{message.User("hello")}, Params{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	events := drain(t, s)

	var ends int
	var content string
	for _, ev := range events {
		if ev.Type == event.TypeStreamEnd {
			ends++
		}
		if ev.Type == event.TypeMessageComplete {
			content = ev.Content
		}
	}
	if ends != 1 {
		t.Fatalf("stream_end count = %d, want 1", ends)
	}
	if events[len(events)-1].Type != event.TypeStreamEnd {
		t.Errorf("last event = %s", events[len(events)-1].Type)
	}
	if !strings.Contains(content, "hello") {
		t.Errorf("content = %q", content)
	}
}

func TestRun_MetersCostAndQuota(t *testing.T) {
	reg := model.Default()
	tracker := cost.NewTracker(reg, nil)
	qm := quota.NewManager(quota.Config{
		Providers: map[string]quota.ProviderConfig{
			"test": {Models: map[string]quota.ModelLimits{
				"test-standard": {DailyTokens: 1_000_000},
			}},
		},
	}, nil, nil)

	o := newTestOrchestrator(t, Config{Cost: tracker, Quota: qm})

	s, err := o.Run(context.Background(), "test-standard",
		[]message.Message{message.User("meter me")}, Params{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	drain(t, s)

	snap := tracker.Snapshot()
	if snap.Calls["test-standard"] != 1 {
		t.Errorf("cost calls = %v", snap.Calls)
	}
	if !qm.HasQuota("test", "test-standard") {
		t.Error("quota should remain available after one small request")
	}
}

func TestRun_AppendsHistory(t *testing.T) {
	store := history.NewStore(history.Config{SoftLimit: 100000}, history.NewCharEstimator(4), nil)
	o := newTestOrchestrator(t, Config{History: store})

	s, err := o.Run(context.Background(), "test-standard",
		[]message.Message{message.User("remember this")}, Params{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	drain(t, s)

	msgs := store.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("history length = %d, want 1", len(msgs))
	}
	if msgs[0].Role != message.RoleAssistant || !strings.Contains(msgs[0].Content, "remember this") {
		t.Errorf("history entry = %+v", msgs[0])
	}

	store.Reset()
	s, err = o.Run(context.Background(), "test-standard",
		[]message.Message{message.User("skip me")}, Params{SkipHistory: true})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, s)
	if store.Len() != 0 {
		t.Errorf("history length = %d after SkipHistory run", store.Len())
	}
}

func TestRun_UnknownModel(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	_, err := o.Run(context.Background(), "no-such-model", nil, Params{})
	if !errors.Is(err, provider.ErrUnknownModel) {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_RejectedWhilePaused(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	o.Pause()
	defer o.Resume()

	_, err := o.Run(context.Background(), "test-standard", nil, Params{})
	if !errors.Is(err, provider.ErrPaused) {
		t.Fatalf("err = %v", err)
	}
}

// hangProvider emits a message_start and then blocks until cancellation.
type hangProvider struct{}

func (hangProvider) Name() string { return "test" }

func (hangProvider) Stream(ctx context.Context, _ provider.Request) (<-chan event.Event, error) {
	ch := make(chan event.Event, 4)
	go func() {
		defer close(ch)
		provider.Emit(ctx, ch, event.MessageStart("m_hang"))
		<-ctx.Done()
	}()
	return ch, nil
}

func newHangingOrchestrator(cfg Config) *Orchestrator {
	reg := model.Default()
	cfg.Registry = reg
	cfg.Router = router.New(reg, map[string]string{},
		map[string]provider.Provider{"test": hangProvider{}}, nil)
	return New(cfg)
}

func TestRun_CancelSurfacesError(t *testing.T) {
	o := newHangingOrchestrator(Config{})

	s, err := o.Run(context.Background(), "test-standard",
		[]message.Message{message.User("hi")}, Params{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	s.Cancel()
	events := drain(t, s)

	var code string
	for _, ev := range events {
		if ev.Type == event.TypeError {
			code = ev.Code
		}
	}
	if code != "cancelled" {
		t.Errorf("code = %q", code)
	}
	if events[len(events)-1].Type != event.TypeStreamEnd {
		t.Errorf("last event = %s", events[len(events)-1].Type)
	}
}

func TestRun_TimeoutSurfacesError(t *testing.T) {
	o := newHangingOrchestrator(Config{})

	s, err := o.Run(context.Background(), "test-standard",
		[]message.Message{message.User("hi")}, Params{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	events := drain(t, s)

	var code string
	for _, ev := range events {
		if ev.Type == event.TypeError {
			code = ev.Code
		}
	}
	if code != "timeout" {
		t.Errorf("code = %q", code)
	}
}

func TestRun_PauseInterruptsActiveStream(t *testing.T) {
	o := newHangingOrchestrator(Config{})

	s, err := o.Run(context.Background(), "test-standard",
		[]message.Message{message.User("hi")}, Params{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Wait for the first event, then pause.
	first := <-s.Events()
	if first.Type != event.TypeMessageStart {
		t.Fatalf("first event = %s", first.Type)
	}
	o.Pause()
	defer o.Resume()

	var rest []event.Event
	for ev := range s.Events() {
		rest = append(rest, ev)
	}
	if len(rest) < 2 {
		t.Fatalf("events after pause = %v", rest)
	}
	delta := rest[len(rest)-2]
	if delta.Type != event.TypeMessageDelta || delta.Content != pausedNotice {
		t.Errorf("penultimate event = %+v", delta)
	}
	if rest[len(rest)-1].Type != event.TypeStreamEnd {
		t.Errorf("last event = %s", rest[len(rest)-1].Type)
	}
}

// muteProvider emits nothing until cancellation.
type muteProvider struct{}

func (muteProvider) Name() string { return "test" }

func (muteProvider) Stream(ctx context.Context, _ provider.Request) (<-chan event.Event, error) {
	ch := make(chan event.Event, 1)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return ch, nil
}

func TestRun_PauseBeforeMessageStartSkipsNotice(t *testing.T) {
	reg := model.Default()
	o := New(Config{
		Registry: reg,
		Router: router.New(reg, map[string]string{},
			map[string]provider.Provider{"test": muteProvider{}}, nil),
	})

	s, err := o.Run(context.Background(), "test-standard",
		[]message.Message{message.User("hi")}, Params{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	o.Pause()
	defer o.Resume()

	events := drain(t, s)
	for _, ev := range events {
		if ev.Type == event.TypeMessageDelta {
			t.Fatalf("delta without a preceding message_start: %+v", ev)
		}
	}
	if len(events) == 0 || events[len(events)-1].Type != event.TypeStreamEnd {
		t.Fatalf("stream must terminate with stream_end, got %v", events)
	}
}

func TestRun_ClassSelection(t *testing.T) {
	// The summary class includes test-mini, the only member with a usable
	// (keyless) provider here.
	reg := model.Default()
	providers := map[string]provider.Provider{
		"test": testllm.New(testllm.Config{}),
	}
	r := router.New(reg, map[string]string{}, providers, nil)
	sel := selector.New(reg, r, nil, nil)
	o := New(Config{Registry: reg, Router: r, Selector: sel})

	s, err := o.Run(context.Background(), "summary",
		[]message.Message{message.User("condense")}, Params{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	events := drain(t, s)
	if events[len(events)-1].Type != event.TypeStreamEnd {
		t.Errorf("last event = %s", events[len(events)-1].Type)
	}
}
