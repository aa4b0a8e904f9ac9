// Package budget estimates the token cost of a conversation and trims it to fit
// a context window.
package budget

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"basegraph.app/parley/common/llm"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// PerMessageOverhead approximates role markers and separators.
	PerMessageOverhead = 4

	// ImageTokenCost is charged per image regardless of size.
	ImageTokenCost = 1600

	charsPerToken = 4
)

// Estimator approximates how many tokens a message list costs.
// Implementations must be deterministic.
type Estimator interface {
	Estimate(messages []llm.Message) int
}

// CharEstimator charges one token per four characters of text, rounded up per part.
type CharEstimator struct{}

func (CharEstimator) Estimate(messages []llm.Message) int {
	return estimate(messages, charTokens)
}

func charTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// TiktokenEstimator counts text with the cl100k_base BPE encoding.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
	mu  sync.Mutex
}

// NewTiktokenEstimator loads cl100k_base. The encoding is fetched on first use,
// so callers should fall back to CharEstimator on error.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (t *TiktokenEstimator) Estimate(messages []llm.Message) int {
	return estimate(messages, t.countText)
}

func (t *TiktokenEstimator) countText(s string) int {
	if s == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(s, nil, nil))
}

// NewEstimator returns the estimator named by kind ("chars" or "tiktoken").
func NewEstimator(kind string) Estimator {
	if kind != "tiktoken" {
		return CharEstimator{}
	}
	est, err := NewTiktokenEstimator()
	if err != nil {
		slog.Warn("tiktoken unavailable, using character estimate", "error", err)
		return CharEstimator{}
	}
	return est
}

func estimate(messages []llm.Message, countText func(string) int) int {
	total := 0
	for _, m := range messages {
		total += PerMessageOverhead

		if len(m.Parts) == 0 {
			total += countText(m.Content)
		}
		for _, p := range m.Parts {
			switch p.Type {
			case llm.PartText:
				total += countText(p.Text)
			case llm.PartImage:
				total += ImageTokenCost
			}
		}

		for _, tc := range m.ToolCalls {
			total += countText(tc.Name) + countText(tc.Arguments)
		}
		for _, tr := range m.ToolResults {
			total += countText(tr.Content)
		}
	}
	return total
}
