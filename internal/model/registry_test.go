package model

import (
	"testing"
	"time"
)

func TestDefault_EmbeddedCatalogLoads(t *testing.T) {
	r := Default()
	if len(r.Entries()) == 0 {
		t.Fatal("embedded catalog is empty")
	}
	for _, id := range []string{"gpt-4o", "claude-sonnet-4-5", "gemini-2.5-pro", "deepseek-chat", "test-standard"} {
		if _, ok := r.Find(id); !ok {
			t.Errorf("missing catalog entry %q", id)
		}
	}
}

func TestFind_Alias(t *testing.T) {
	r := Default()
	byAlias, ok := r.Find("sonnet")
	if !ok {
		t.Fatal("alias 'sonnet' did not resolve")
	}
	byID, _ := r.Find("claude-sonnet-4-5")
	if byAlias != byID {
		t.Error("alias resolved to a different entry than the id")
	}
}

func TestLoad_DuplicateAliasRejected(t *testing.T) {
	catalog := `
models:
  - id: a
    provider: test
  - id: b
    provider: test
    aliases: [a]
`
	if _, err := Load([]byte(catalog)); err == nil {
		t.Fatal("expected error for alias colliding with id")
	}
}

func TestLoad_UnknownClassMemberRejected(t *testing.T) {
	catalog := `
models:
  - id: a
    provider: test
classes:
  - id: c
    members: [nope]
`
	if _, err := Load([]byte(catalog)); err == nil {
		t.Fatal("expected error for unknown class member")
	}
}

func TestClassMembers_PreservesOrder(t *testing.T) {
	r := Default()
	members := r.ClassMembers("reasoning")
	want := []string{"o3", "claude-opus-4-1", "deepseek-reasoner"}
	if len(members) != len(want) {
		t.Fatalf("members = %v", members)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Errorf("members[%d] = %q, want %q", i, members[i], want[i])
		}
	}
}

func TestClassMembers_RandomReturnsAllMembers(t *testing.T) {
	r := Default()
	base := map[string]bool{}
	for _, id := range r.ClassMembers("standard") {
		base[id] = true
	}
	for i := 0; i < 10; i++ {
		got := r.ClassMembers("standard")
		if len(got) != len(base) {
			t.Fatalf("shuffle changed member count: %v", got)
		}
		for _, id := range got {
			if !base[id] {
				t.Fatalf("shuffle invented member %q", id)
			}
		}
	}
}

func TestClassMembers_UnknownClass(t *testing.T) {
	if got := Default().ClassMembers("no-such-class"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestTimeOfDay_PeakBoundaries(t *testing.T) {
	r := Default()
	e, _ := r.Find("deepseek-chat")
	tod := e.Cost.Input.TimeOfDay
	if tod == nil {
		t.Fatal("deepseek-chat has no time-of-day input cost")
	}

	at := func(h, m int) time.Time {
		return time.Date(2026, 8, 24, h, m, 0, 0, time.UTC)
	}
	// Exactly at peak_start is peak; exactly at peak_end is off-peak.
	if !tod.InPeak(at(0, 30)) {
		t.Error("00:30 should be peak")
	}
	if tod.InPeak(at(16, 30)) {
		t.Error("16:30 should be off-peak")
	}
	if !tod.InPeak(at(12, 0)) {
		t.Error("12:00 should be peak")
	}
	if tod.InPeak(at(20, 0)) {
		t.Error("20:00 should be off-peak")
	}
}

func TestTimeOfDay_WrapsMidnight(t *testing.T) {
	tod := &TimeOfDayCost{startMin: 22 * 60, endMin: 6 * 60}
	at := func(h int) time.Time { return time.Date(2026, 8, 24, h, 0, 0, 0, time.UTC) }
	if !tod.InPeak(at(23)) || !tod.InPeak(at(2)) {
		t.Error("wrapped window should cover 23:00 and 02:00")
	}
	if tod.InPeak(at(12)) {
		t.Error("12:00 outside wrapped window")
	}
}
