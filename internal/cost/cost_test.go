package cost

import (
	"math"
	"testing"
	"time"

	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/pkg/message"
)

const testCatalog = `
models:
  - id: flat-model
    provider: test
    cost:
      input: { flat: 1.0 }
      output: { flat: 2.0 }
      cached: { flat: 0.5 }
  - id: tiered-model
    provider: test
    cost:
      input:
        tiered: { threshold: 100000, below: 1.0, above: 2.0 }
      output: { flat: 0.0 }
  - id: tod-model
    provider: test
    cost:
      input:
        time_of_day: { peak_start: "00:30", peak_end: "16:30", peak: 1.0, off_peak: 0.5 }
      output: { flat: 0.0 }
  - id: image-model
    provider: test
    cost:
      input: { flat: 1.0 }
      per_image: 0.04
  - id: subprocess-model
    provider: claude-code
    cost:
      input: { flat: 0.0 }
      output: { flat: 0.0 }
`

func testRegistry(t *testing.T) *model.Registry {
	t.Helper()
	r, err := model.Load([]byte(testCatalog))
	if err != nil {
		t.Fatalf("load test catalog: %v", err)
	}
	return r
}

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("cost = %v, want %v", got, want)
	}
}

func TestOf_Flat(t *testing.T) {
	r := testRegistry(t)
	e, _ := r.Find("flat-model")
	got := Of(e, message.Usage{InputTokens: 1_000_000, OutputTokens: 500_000})
	approx(t, got, 1.0+1.0) // 1M input at $1/M + 500k output at $2/M
}

func TestOf_CachedTokensBilledSeparately(t *testing.T) {
	r := testRegistry(t)
	e, _ := r.Find("flat-model")
	// 1M input of which 400k cached: 600k at $1/M + 400k at $0.5/M.
	got := Of(e, message.Usage{InputTokens: 1_000_000, CachedTokens: 400_000})
	approx(t, got, 0.6+0.2)
}

func TestOf_TieredCrossesThreshold(t *testing.T) {
	r := testRegistry(t)
	e, _ := r.Find("tiered-model")
	// 100k at $1/M + 50k at $2/M = $0.20.
	got := Of(e, message.Usage{InputTokens: 150_000})
	approx(t, got, 0.20)
}

func TestOf_TieredBelowThreshold(t *testing.T) {
	r := testRegistry(t)
	e, _ := r.Find("tiered-model")
	got := Of(e, message.Usage{InputTokens: 50_000})
	approx(t, got, 0.05)
}

func TestOf_TimeOfDay(t *testing.T) {
	r := testRegistry(t)
	e, _ := r.Find("tod-model")
	peak := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	offPeak := time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC)

	approx(t, Of(e, message.Usage{InputTokens: 1_000_000, Timestamp: peak}), 1.0)
	approx(t, Of(e, message.Usage{InputTokens: 1_000_000, Timestamp: offPeak}), 0.5)
}

func TestOf_PerImage(t *testing.T) {
	r := testRegistry(t)
	e, _ := r.Find("image-model")
	got := Of(e, message.Usage{InputTokens: 100_000, ImageCount: 3})
	approx(t, got, 0.1+3*0.04)
}

func TestOf_CostUSDOverride(t *testing.T) {
	r := testRegistry(t)
	e, _ := r.Find("subprocess-model")
	got := Of(e, message.Usage{
		InputTokens: 123,
		Metadata:    map[string]string{"cost_usd": "0.0375"},
	})
	approx(t, got, 0.0375)
}

func TestOf_CostUSDOverrideIgnoresGarbage(t *testing.T) {
	r := testRegistry(t)
	e, _ := r.Find("flat-model")
	got := Of(e, message.Usage{
		InputTokens: 1_000_000,
		Metadata:    map[string]string{"cost_usd": "not-a-number"},
	})
	approx(t, got, 1.0)
}

func TestRecord_AccumulatesMonotonically(t *testing.T) {
	tr := NewTracker(testRegistry(t), nil)

	var prev float64
	for i := 0; i < 5; i++ {
		snap, err := tr.Record(message.Usage{Model: "flat-model", InputTokens: 100_000})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if snap.Total < prev {
			t.Fatalf("total decreased: %v -> %v", prev, snap.Total)
		}
		prev = snap.Total
	}
	approx(t, prev, 0.5)

	snap := tr.Snapshot()
	if snap.Calls["flat-model"] != 5 {
		t.Errorf("calls = %d, want 5", snap.Calls["flat-model"])
	}
}

func TestRecord_UnknownModel(t *testing.T) {
	tr := NewTracker(testRegistry(t), nil)
	if _, err := tr.Record(message.Usage{Model: "no-such-model"}); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestRecord_WindowExpires(t *testing.T) {
	tr := NewTracker(testRegistry(t), nil)
	clock := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	snap, err := tr.Record(message.Usage{Model: "flat-model", InputTokens: 1_000_000})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	approx(t, snap.LastMinute, 1.0)

	clock = clock.Add(61 * time.Second)
	snap, err = tr.Record(message.Usage{Model: "flat-model", InputTokens: 1_000_000})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	approx(t, snap.LastMinute, 1.0) // only the new entry remains
	approx(t, snap.Total, 2.0)
}
