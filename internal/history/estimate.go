package history

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/magi-ai/magi/pkg/message"
)

// Estimator estimates the token count of a string.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator estimates tokens using a characters-per-token ratio. A ratio
// of ~4 works well for English text.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator creates a CharEstimator. A non-positive ratio defaults
// to 4.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate returns the estimated token count, rounding up so the bound is
// never undershot.
func (e *CharEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text))/e.CharsPerToken) + 1
}

type tiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

func (e *tiktokenEstimator) Estimate(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// NewEstimator returns a tiktoken-backed estimator (cl100k_base), falling
// back to the character heuristic when the encoding data is unavailable
// (tiktoken downloads its tables on first use).
func NewEstimator() Estimator {
	encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return &tiktokenEstimator{enc: encoding}
	}
	return NewCharEstimator(0)
}

// imageTokens is the conservative estimate for an image part at auto detail.
const imageTokens = 765

// messageOverhead covers role and framing tokens per message.
const messageOverhead = 4

// EstimateMessage returns the estimated token count of one message.
func EstimateMessage(est Estimator, m message.Message) int {
	total := messageOverhead
	if len(m.Parts) > 0 {
		for _, p := range m.Parts {
			switch p.Type {
			case message.PartText:
				total += est.Estimate(p.Text)
			case message.PartImage:
				total += imageTokens
			case message.PartFile:
				total += est.Estimate(p.FileName) + messageOverhead
			}
		}
		return total
	}
	total += est.Estimate(m.Content)
	total += est.Estimate(m.Arguments)
	return total
}

// EstimateMessages returns the estimated token count of a message slice.
func EstimateMessages(est Estimator, msgs []message.Message) int {
	total := 0
	for i := range msgs {
		total += EstimateMessage(est, msgs[i])
	}
	return total
}
