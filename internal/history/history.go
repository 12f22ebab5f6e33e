// Package history keeps the bounded conversation history. Appends that push
// the estimated token count past a soft ceiling trigger compaction: the
// cheapest-to-lose messages are summarized into a single system entry, with
// tool call/output pairs kept or compacted together.
package history

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/magi-ai/magi/pkg/message"
)

// SummaryPrefix marks a compaction summary entry.
const SummaryPrefix = "Summary of previous messages:"

// pairLookahead bounds how far ahead a tool output is matched to its call.
const pairLookahead = 10

// minSurvivors is the floor below which compaction never shrinks history.
const minSurvivors = 4

// Summarizer condenses a batch of messages into one summary text. The
// concrete implementation calls back into the client with a summary-class
// model.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []message.Message) (string, error)
}

// category orders messages by how cheap they are to lose; lower compacts
// first.
type category int

const (
	catThinking category = iota
	catToolResult
	catToolCall
	catAssistant
	catUser
	catSummary
	catToolError
	catSystemError
	catTalkToUser
	catQuotedUser
	catSystem
	catUnknown
)

// Config configures a Store.
type Config struct {
	// SoftLimit is the token ceiling that triggers compaction. Zero
	// defaults to 10000.
	SoftLimit int

	// YourName marks quoted user speech ("Name: ..." content), which is
	// retained longer than plain user input.
	YourName string
}

func (c *Config) defaults() {
	if c.SoftLimit <= 0 {
		c.SoftLimit = 10000
	}
}

// Store is the process-wide conversation history. All methods are safe for
// concurrent use. Summarization runs outside the lock on a detached copy so
// a summarizer that reenters the pipeline cannot deadlock.
type Store struct {
	logger     *slog.Logger
	estimator  Estimator
	summarizer Summarizer
	cfg        Config

	mu         sync.Mutex
	msgs       []message.Message
	generation int
	compacting bool
}

// NewStore creates a Store. estimator defaults to the char heuristic;
// summarizer may be nil (compaction then always truncates).
func NewStore(cfg Config, estimator Estimator, logger *slog.Logger) *Store {
	cfg.defaults()
	if estimator == nil {
		estimator = NewCharEstimator(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger, estimator: estimator, cfg: cfg}
}

// SetSummarizer installs the summarizer. Called once during wiring, after
// the client that backs it exists.
func (s *Store) SetSummarizer(sum Summarizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summarizer = sum
}

// Append adds a message and compacts if the estimated size exceeds the soft
// ceiling.
func (s *Store) Append(ctx context.Context, msg message.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	over := EstimateMessages(s.estimator, s.msgs) > s.cfg.SoftLimit
	busy := s.compacting
	if over && !busy {
		s.compacting = true
	}
	s.mu.Unlock()

	if over && !busy {
		s.compact(ctx)
	}
}

// Snapshot returns a copy of the current history.
func (s *Store) Snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the current message count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Reset clears the history.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.generation++
}

// compact selects the cheapest messages, summarizes them outside the lock,
// and splices the summary in at the position of the first victim. The
// caller must have set s.compacting.
func (s *Store) compact(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.compacting = false
		s.mu.Unlock()
	}()

	s.mu.Lock()
	gen := s.generation
	victims := s.selectVictimsLocked()
	if len(victims) == 0 {
		s.mu.Unlock()
		return
	}
	batch := make([]message.Message, 0, len(victims))
	for _, i := range victims {
		batch = append(batch, s.msgs[i])
	}
	summarizer := s.summarizer
	s.mu.Unlock()

	var summary string
	if summarizer != nil {
		text, err := summarizer.Summarize(ctx, batch)
		if err != nil {
			s.logger.Warn("history summarization failed, truncating", "error", err)
		} else {
			summary = text
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// History was reset while summarizing; the selection is stale.
		return
	}
	s.applyLocked(victims, summary)
}

// selectVictimsLocked picks message indices to compact, ordered ascending.
// Tool pairs travel together; the surviving count never drops below the
// floor.
func (s *Store) selectVictimsLocked() []int {
	excess := EstimateMessages(s.estimator, s.msgs) - s.cfg.SoftLimit
	if excess <= 0 || len(s.msgs) <= minSurvivors {
		return nil
	}

	partner := s.pairToolMessages()
	cats := make([]category, len(s.msgs))
	for i := range s.msgs {
		cats[i] = s.categorize(s.msgs[i])
	}

	// Candidate order: category ascending, then oldest first.
	order := make([]int, len(s.msgs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if cats[order[a]] != cats[order[b]] {
			return cats[order[a]] < cats[order[b]]
		}
		return order[a] < order[b]
	})

	selected := make(map[int]bool)
	removed := 0
	budget := len(s.msgs) - minSurvivors

	take := func(i int) {
		if selected[i] {
			return
		}
		selected[i] = true
		removed += EstimateMessage(s.estimator, s.msgs[i])
	}

	for _, i := range order {
		if removed >= excess {
			break
		}
		need := 1
		if p, ok := partner[i]; ok && !selected[p] {
			need = 2
		}
		if len(selected)+need > budget {
			continue
		}
		take(i)
		if p, ok := partner[i]; ok {
			take(p)
		}
	}

	victims := make([]int, 0, len(selected))
	for i := range selected {
		victims = append(victims, i)
	}
	sort.Ints(victims)
	return victims
}

// pairToolMessages maps each tool call index to its output index and back,
// matching call ids within the lookahead window.
func (s *Store) pairToolMessages() map[int]int {
	partner := make(map[int]int)
	for i := range s.msgs {
		if s.msgs[i].Kind != message.KindToolCall {
			continue
		}
		end := i + pairLookahead
		if end > len(s.msgs)-1 {
			end = len(s.msgs) - 1
		}
		for j := i + 1; j <= end; j++ {
			if s.msgs[j].Kind == message.KindToolOutput && s.msgs[j].CallID == s.msgs[i].CallID {
				partner[i] = j
				partner[j] = i
				break
			}
		}
	}
	return partner
}

func (s *Store) categorize(m message.Message) category {
	switch m.Kind {
	case message.KindThinking:
		return catThinking
	case message.KindToolCall:
		if m.Name == "talk_to_user" {
			return catTalkToUser
		}
		return catToolCall
	case message.KindToolOutput:
		if m.Status == message.StatusIncomplete {
			return catToolError
		}
		return catToolResult
	case message.KindText:
		switch m.Role {
		case message.RoleAssistant:
			return catAssistant
		case message.RoleUser:
			if s.cfg.YourName != "" && strings.HasPrefix(m.Content, s.cfg.YourName+": ") {
				return catQuotedUser
			}
			return catUser
		case message.RoleSystem, message.RoleDeveloper:
			if strings.HasPrefix(m.Content, SummaryPrefix) {
				return catSummary
			}
			if m.Status == message.StatusIncomplete {
				return catSystemError
			}
			return catSystem
		}
	}
	return catUnknown
}

// applyLocked removes the victim indices and, when a summary exists, splices
// a single system summary entry at the first victim's position. Retained
// messages keep their relative order.
func (s *Store) applyLocked(victims []int, summary string) {
	drop := make(map[int]bool, len(victims))
	for _, i := range victims {
		drop[i] = true
	}

	out := make([]message.Message, 0, len(s.msgs)-len(victims)+1)
	inserted := summary == ""
	for i := range s.msgs {
		if i == victims[0] && !inserted {
			out = append(out, message.Message{
				Kind:    message.KindText,
				Role:    message.RoleSystem,
				Content: SummaryPrefix + "\n" + summary,
			})
			inserted = true
		}
		if !drop[i] {
			out = append(out, s.msgs[i])
		}
	}
	s.logger.Debug("history compacted",
		"removed", len(victims), "kept", len(out), "summarized", summary != "")
	s.msgs = out
}
