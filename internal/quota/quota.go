// Package quota tracks per-provider and per-model usage against daily token
// and request limits, shared family token pools, and per-minute rate windows.
// Limits are advisory: Track keeps counting past a limit so callers that
// deliberately overrun still leave an accurate record.
package quota

import (
	"log/slog"
	"sync"
	"time"
)

// ModelLimits configures one model's quota. Zero values mean unlimited.
type ModelLimits struct {
	DailyTokens   int `yaml:"daily_tokens"`
	DailyRequests int `yaml:"daily_requests"`
	RPM           int `yaml:"rpm"`
	TPM           int `yaml:"tpm"`
}

// FamilyConfig is a named token pool shared by several models of one
// provider. Every tracked token of a member model also counts against the
// pool.
type FamilyConfig struct {
	DailyTokens int      `yaml:"daily_tokens"`
	Members     []string `yaml:"members"`
}

// ProviderConfig holds one provider's quota configuration.
type ProviderConfig struct {
	CreditBalance float64                 `yaml:"credit_balance"`
	Models        map[string]ModelLimits  `yaml:"models"`
	Families      map[string]FamilyConfig `yaml:"families"`
}

// Config maps provider names to their quota configuration. Providers and
// models absent from the config are unconstrained.
type Config struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// Snapshot is the state of one limit at emission time, sent to the sink when
// usage crosses a 10% boundary of the limit or hits it.
type Snapshot struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model,omitempty"`
	Family    string    `json:"family,omitempty"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	LimitHit  bool      `json:"limit_hit"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives quota snapshots. Called while the manager's lock is held, so
// implementations must not call back into the Manager.
type Sink func(Snapshot)

type modelState struct {
	limits       ModelLimits
	tokensUsed   int
	requestsUsed int
	reqWindow    []time.Time
	tokWindow    []tokenStamp
}

type tokenStamp struct {
	at     time.Time
	tokens int
}

type familyState struct {
	limit      int
	tokensUsed int
}

type providerState struct {
	credit   float64
	models   map[string]*modelState
	families map[string]*familyState
	// familiesOf maps a model id to the families it belongs to.
	familiesOf map[string][]string
}

// Manager is the process-wide quota tracker. All methods are safe for
// concurrent use.
type Manager struct {
	logger *slog.Logger
	sink   Sink
	now    func() time.Time

	mu        sync.Mutex
	providers map[string]*providerState
	resetDay  time.Time // UTC midnight of the current accounting day
}

// NewManager builds a Manager from cfg. sink and logger may be nil.
func NewManager(cfg Config, sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:    logger,
		sink:      sink,
		now:       time.Now,
		providers: make(map[string]*providerState, len(cfg.Providers)),
	}
	for name, pc := range cfg.Providers {
		ps := &providerState{
			credit:     pc.CreditBalance,
			models:     make(map[string]*modelState, len(pc.Models)),
			families:   make(map[string]*familyState, len(pc.Families)),
			familiesOf: make(map[string][]string),
		}
		for id, limits := range pc.Models {
			ps.models[id] = &modelState{limits: limits}
		}
		for fname, fc := range pc.Families {
			ps.families[fname] = &familyState{limit: fc.DailyTokens}
			for _, member := range fc.Members {
				ps.familiesOf[member] = append(ps.familiesOf[member], fname)
			}
		}
		m.providers[name] = ps
	}
	return m
}

// HasQuota reports whether provider/model is currently within all of its
// limits. Models without configured limits always have quota. Reads never
// perform the daily reset; that happens on the first Track of a UTC day.
func (m *Manager) HasQuota(provider, model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	ps, ok := m.providers[provider]
	if !ok {
		return true
	}
	ms, ok := ps.models[model]
	if !ok {
		return m.familiesPermitLocked(ps, model)
	}

	if ms.limits.DailyTokens > 0 && ms.tokensUsed >= ms.limits.DailyTokens {
		return false
	}
	if ms.limits.DailyRequests > 0 && ms.requestsUsed >= ms.limits.DailyRequests {
		return false
	}
	evictWindows(ms, now)
	if ms.limits.RPM > 0 && len(ms.reqWindow) >= ms.limits.RPM {
		return false
	}
	if ms.limits.TPM > 0 && windowTokens(ms) >= ms.limits.TPM {
		return false
	}
	return m.familiesPermitLocked(ps, model)
}

func (m *Manager) familiesPermitLocked(ps *providerState, model string) bool {
	for _, fname := range ps.familiesOf[model] {
		fs := ps.families[fname]
		if fs.limit > 0 && fs.tokensUsed >= fs.limit {
			return false
		}
	}
	return true
}

// Track records inputTokens+outputTokens of usage for provider/model and
// reports true while all limits hold. It returns false iff this call pushed
// a counter to or past a limit; counters keep increasing regardless.
// A Track with zero tokens leaves counters unchanged but still performs the
// daily-reset check.
func (m *Manager) Track(provider, model string, inputTokens, outputTokens int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.maybeResetLocked(now)

	tokens := inputTokens + outputTokens
	if tokens <= 0 {
		return true
	}

	ps, ok := m.providers[provider]
	if !ok {
		return true
	}

	within := true

	if ms, ok := ps.models[model]; ok {
		prevTokens, prevRequests := ms.tokensUsed, ms.requestsUsed
		ms.tokensUsed += tokens
		ms.requestsUsed++
		ms.reqWindow = append(ms.reqWindow, now)
		ms.tokWindow = append(ms.tokWindow, tokenStamp{at: now, tokens: tokens})
		evictWindows(ms, now)

		if crossed(prevTokens, ms.tokensUsed, ms.limits.DailyTokens) {
			hit := ms.tokensUsed >= ms.limits.DailyTokens
			m.emitLocked(Snapshot{
				Provider: provider, Model: model,
				Used: ms.tokensUsed, Limit: ms.limits.DailyTokens,
				LimitHit: hit, Timestamp: now,
			})
			if hit {
				within = false
			}
		}
		if crossed(prevRequests, ms.requestsUsed, ms.limits.DailyRequests) {
			hit := ms.requestsUsed >= ms.limits.DailyRequests
			m.emitLocked(Snapshot{
				Provider: provider, Model: model,
				Used: ms.requestsUsed, Limit: ms.limits.DailyRequests,
				LimitHit: hit, Timestamp: now,
			})
			if hit {
				within = false
			}
		}
	}

	for _, fname := range ps.familiesOf[model] {
		fs := ps.families[fname]
		prev := fs.tokensUsed
		fs.tokensUsed += tokens
		if crossed(prev, fs.tokensUsed, fs.limit) {
			hit := fs.tokensUsed >= fs.limit
			m.emitLocked(Snapshot{
				Provider: provider, Family: fname,
				Used: fs.tokensUsed, Limit: fs.limit,
				LimitHit: hit, Timestamp: now,
			})
			if hit {
				within = false
			}
		}
	}

	return within
}

// CreditBalance returns the configured credit balance for a provider, or 0
// when the provider has no quota configuration.
func (m *Manager) CreditBalance(provider string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.providers[provider]; ok {
		return ps.credit
	}
	return 0
}

// maybeResetLocked zeroes every daily counter when now has crossed into a
// new UTC day since the last reset. All counters reset in one critical
// section so readers never observe a partial reset.
func (m *Manager) maybeResetLocked(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.After(m.resetDay) {
		return
	}
	if !m.resetDay.IsZero() {
		m.logger.Debug("quota daily reset", "day", day.Format("2006-01-02"))
	}
	m.resetDay = day
	for _, ps := range m.providers {
		for _, ms := range ps.models {
			ms.tokensUsed = 0
			ms.requestsUsed = 0
		}
		for _, fs := range ps.families {
			fs.tokensUsed = 0
		}
	}
}

func (m *Manager) emitLocked(s Snapshot) {
	if s.LimitHit {
		m.logger.Warn("quota limit hit",
			"provider", s.Provider, "model", s.Model, "family", s.Family,
			"used", s.Used, "limit", s.Limit)
	}
	if m.sink != nil {
		m.sink(s)
	}
}

// crossed reports whether moving from prev to cur crossed a 10% boundary of
// limit (or the limit itself). Zero limits never cross.
func crossed(prev, cur, limit int) bool {
	if limit <= 0 || cur == prev {
		return false
	}
	if prev < limit && cur >= limit {
		return true
	}
	return prev*10/limit != cur*10/limit
}

func evictWindows(ms *modelState, now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(ms.reqWindow) && ms.reqWindow[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		ms.reqWindow = ms.reqWindow[i:]
	}
	i = 0
	for i < len(ms.tokWindow) && ms.tokWindow[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		ms.tokWindow = ms.tokWindow[i:]
	}
}

func windowTokens(ms *modelState) int {
	total := 0
	for _, s := range ms.tokWindow {
		total += s.tokens
	}
	return total
}
