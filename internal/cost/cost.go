// Package cost computes and accumulates request cost from usage records and
// the registry's pricing rules: flat, tiered by token threshold, time-of-day
// peak windows, and per-image pricing.
package cost

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/magi-ai/magi/internal/metrics"
	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/pkg/message"
)

// windowSize is the span of the sliding cost window exposed as LastMinute.
const windowSize = time.Minute

// costUSDKey is the usage metadata key adapters set when the backend reports
// a precomputed dollar cost (the subprocess adapter does this). When present
// and parseable it overrides the pricing rules.
const costUSDKey = "cost_usd"

// Tracker accumulates cost across requests. Safe for concurrent use; writers
// serialize on a mutex, readers get point-in-time snapshots.
type Tracker struct {
	registry *model.Registry
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.Mutex
	total  float64
	calls  map[string]int
	window []windowEntry
}

type windowEntry struct {
	at   time.Time
	cost float64
}

// Snapshot is a point-in-time view of accumulated cost.
type Snapshot struct {
	Total      float64        `json:"total"`
	LastMinute float64        `json:"last_min"`
	Calls      map[string]int `json:"calls"`
}

// NewTracker creates a Tracker over the given registry. metrics may be nil.
func NewTracker(registry *model.Registry, m *metrics.Metrics) *Tracker {
	return &Tracker{
		registry: registry,
		metrics:  m,
		now:      time.Now,
		calls:    make(map[string]int),
	}
}

// Record computes the incremental cost of one usage record, adds it to the
// running totals, and returns the updated snapshot.
func (t *Tracker) Record(u message.Usage) (Snapshot, error) {
	entry, ok := t.registry.Find(u.Model)
	if !ok {
		return Snapshot{}, fmt.Errorf("cost: unknown model %q", u.Model)
	}

	inc := Of(entry, u)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.total += inc
	t.calls[entry.ID]++
	t.window = append(t.window, windowEntry{at: now, cost: inc})
	t.evict(now)

	t.metrics.RecordUsage(string(entry.Provider), entry.ID, u.InputTokens, u.OutputTokens)
	t.metrics.RecordCost(string(entry.Provider), entry.ID, inc)

	return t.snapshotLocked(), nil
}

// Snapshot returns the current totals without recording anything.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evict(t.now())
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		Total: t.total,
		Calls: make(map[string]int, len(t.calls)),
	}
	for k, v := range t.calls {
		snap.Calls[k] = v
	}
	for _, e := range t.window {
		snap.LastMinute += e.cost
	}
	return snap
}

// evict drops window entries older than windowSize. Entries are appended in
// chronological order, so eviction scans from the front.
func (t *Tracker) evict(now time.Time) {
	cutoff := now.Add(-windowSize)
	i := 0
	for i < len(t.window) && t.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.window = t.window[i:]
	}
}

// Of computes the cost of a single usage record against an entry's pricing
// rules. Pure; exported for direct testing and ad-hoc estimates.
func Of(entry *model.Entry, u message.Usage) float64 {
	if raw, ok := u.Metadata[costUSDKey]; ok {
		if usd, err := strconv.ParseFloat(raw, 64); err == nil && usd >= 0 {
			return usd
		}
	}

	at := u.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	// Cached tokens are billed at the cached rate and excluded from the
	// input component.
	input := u.InputTokens - u.CachedTokens
	if input < 0 {
		input = 0
	}

	total := componentCost(entry.Cost.Input, input, at)
	total += componentCost(entry.Cost.Output, u.OutputTokens, at)
	total += componentCost(entry.Cost.Cached, u.CachedTokens, at)
	total += float64(u.ImageCount) * entry.Cost.PerImage
	return total
}

// componentCost prices one token count under a single component's rule.
func componentCost(c model.ComponentCost, tokens int, at time.Time) float64 {
	if tokens <= 0 {
		return 0
	}
	switch {
	case c.Tiered != nil:
		below := tokens
		if below > c.Tiered.Threshold {
			below = c.Tiered.Threshold
		}
		above := tokens - below
		return (float64(below)*c.Tiered.Below + float64(above)*c.Tiered.Above) / 1e6
	case c.TimeOfDay != nil:
		price := c.TimeOfDay.OffPeak
		if c.TimeOfDay.InPeak(at) {
			price = c.TimeOfDay.Peak
		}
		return float64(tokens) * price / 1e6
	default:
		return float64(tokens) * c.Flat / 1e6
	}
}
